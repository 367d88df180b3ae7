package model

import (
	"sort"
	"strconv"
	"time"
)

// PacketID is the network-level id of a mesh packet. Zero means unknown.
// It lives in a different namespace from Message.ID.
type PacketID uint32

func (p PacketID) String() string {
	return strconv.FormatUint(uint64(p), 10)
}

type AckStatus string

const (
	AckPending   AckStatus = "pending"
	AckConfirmed AckStatus = "ack"
	AckImplicit  AckStatus = "implicit_ack"
	AckNak       AckStatus = "nak"
	AckFailed    AckStatus = "failed"
	AckReceived  AckStatus = "received"
)

func (s AckStatus) Valid() bool {
	switch s {
	case AckPending, AckConfirmed, AckImplicit, AckNak, AckFailed, AckReceived:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s AckStatus) Terminal() bool {
	return s != AckPending && s.Valid()
}

// Delivered reports whether s confirms delivery, explicitly or implicitly.
func (s AckStatus) Delivered() bool {
	return s == AckConfirmed || s == AckImplicit
}

// Reactions maps an emoji to the set of node ids that reacted with it.
type Reactions map[string]map[string]struct{}

// Add records sender under emoji and reports whether it was new.
func (r Reactions) Add(emoji, sender string) bool {
	set, ok := r[emoji]
	if !ok {
		set = make(map[string]struct{})
		r[emoji] = set
	}
	if _, dup := set[sender]; dup {
		return false
	}
	set[sender] = struct{}{}
	return true
}

// Senders returns the sorted senders for emoji.
func (r Reactions) Senders(emoji string) []string {
	set := r[emoji]
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Emojis returns the reacted emojis in sorted order.
func (r Reactions) Emojis() []string {
	out := make([]string, 0, len(r))
	for e := range r {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func (r Reactions) Clone() Reactions {
	if r == nil {
		return nil
	}
	out := make(Reactions, len(r))
	for e, set := range r {
		cp := make(map[string]struct{}, len(set))
		for s := range set {
			cp[s] = struct{}{}
		}
		out[e] = cp
	}
	return out
}

// MarshalJSON renders reactions as emoji -> sorted sender list, the shape
// renderers expect.
func (r Reactions) MarshalJSON() ([]byte, error) {
	return marshalReactions(r)
}

func (r *Reactions) UnmarshalJSON(b []byte) error {
	return unmarshalReactions(r, b)
}

// Message is one chat item. It belongs to exactly one chat.
type Message struct {
	ID        string    `json:"id"`
	PacketID  PacketID  `json:"packet_id,omitempty"`
	Chat      ChatID    `json:"chat"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	HopStart  *int      `json:"hop_start,omitempty"`
	HopLimit  *int      `json:"hop_limit,omitempty"`
	SNR       *float64  `json:"snr,omitempty"`
	RSSI      *int      `json:"rssi,omitempty"`
	ReplyID   string    `json:"reply_id,omitempty"`
	Reactions Reactions `json:"reactions,omitempty"`
	Outgoing  bool      `json:"is_outgoing"`
	Ack       AckStatus `json:"ack_status"`
}

// HopCount is HopStart-HopLimit, clamped at zero. ok is false when either
// field is missing.
func (m Message) HopCount() (hops int, ok bool) {
	if m.HopStart == nil || m.HopLimit == nil {
		return 0, false
	}
	hops = *m.HopStart - *m.HopLimit
	if hops < 0 {
		hops = 0
	}
	return hops, true
}

func (m Message) Clone() Message {
	out := m
	out.HopStart = clonePtr(m.HopStart)
	out.HopLimit = clonePtr(m.HopLimit)
	out.SNR = clonePtr(m.SNR)
	out.RSSI = clonePtr(m.RSSI)
	out.Reactions = m.Reactions.Clone()
	return out
}

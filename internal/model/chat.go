package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type ChatKind string

const (
	ChatKindDM      ChatKind = "dm"
	ChatKindChannel ChatKind = "channel"
)

var ErrInvalidChatID = errors.New("model: invalid chat id")

// ChatID addresses one message log: a direct chat with a node or a channel.
// It is a comparable value and is used directly as a map key. For dm chats
// Index is always 0, for channel chats NodeID is always empty. It encodes
// as its String form in JSON.
type ChatID struct {
	Kind   ChatKind
	NodeID string
	Index  int
}

func DMChat(nodeID string) ChatID {
	return ChatID{Kind: ChatKindDM, NodeID: nodeID}
}

func ChannelChat(index int) ChatID {
	return ChatID{Kind: ChatKindChannel, Index: index}
}

func (c ChatID) IsZero() bool { return c.Kind == "" }

func (c ChatID) Valid() bool {
	switch c.Kind {
	case ChatKindDM:
		return c.NodeID != "" && c.Index == 0
	case ChatKindChannel:
		return c.NodeID == "" && c.Index >= 0
	}
	return false
}

// String renders "dm:!a1b2c3d4" or "channel:0".
func (c ChatID) String() string {
	switch c.Kind {
	case ChatKindDM:
		return "dm:" + c.NodeID
	case ChatKindChannel:
		return "channel:" + strconv.Itoa(c.Index)
	}
	return ""
}

// ParseChatID is the inverse of ChatID.String.
func ParseChatID(s string) (ChatID, error) {
	kind, key, ok := strings.Cut(s, ":")
	if !ok || key == "" {
		return ChatID{}, fmt.Errorf("%w: %q", ErrInvalidChatID, s)
	}
	return NewChatID(ChatKind(kind), key)
}

// NewChatID builds a chat id from a kind and its key as it appears in URLs.
func NewChatID(kind ChatKind, key string) (ChatID, error) {
	switch kind {
	case ChatKindDM:
		id := FormatNodeID(key)
		if id == "" {
			return ChatID{}, fmt.Errorf("%w: empty node id", ErrInvalidChatID)
		}
		return DMChat(id), nil
	case ChatKindChannel:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			return ChatID{}, fmt.Errorf("%w: channel index %q", ErrInvalidChatID, key)
		}
		return ChannelChat(idx), nil
	}
	return ChatID{}, fmt.Errorf("%w: kind %q", ErrInvalidChatID, kind)
}

func (c ChatID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ChatID) UnmarshalText(b []byte) error {
	id, err := ParseChatID(string(b))
	if err != nil {
		return err
	}
	*c = id
	return nil
}

// Channel is a broadcast group. Index is the grouping key.
type Channel struct {
	Index int    `json:"index"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// DisplayName returns the channel name, or "Primary"/"Channel N" when unnamed.
func (c Channel) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Index == 0 {
		return "Primary"
	}
	return "Channel " + strconv.Itoa(c.Index)
}

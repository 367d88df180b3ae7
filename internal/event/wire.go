package event

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

type FrameType string

// Frames received from the gateway.
const (
	FrameNode      FrameType = "node"
	FrameNodes     FrameType = "nodes"
	FrameMessage   FrameType = "message"
	FrameAck       FrameType = "ack"
	FrameReaction  FrameType = "reaction"
	FrameChannels  FrameType = "channels"
	FrameStatus    FrameType = "status"
	FrameHeartbeat FrameType = "heartbeat"
)

// Frames sent to the gateway.
const (
	FrameGetSnapshot FrameType = "get_snapshot"
	FrameSendText    FrameType = "send_text"
)

// Frame is the envelope of every gateway message.
type Frame struct {
	Type FrameType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// --- Typed payloads, shaped like the gateway JSON ---

type wireUser struct {
	ID        string  `json:"id,omitempty"`
	LongName  *string `json:"longName,omitempty"`
	ShortName *string `json:"shortName,omitempty"`
}

type wireMetrics struct {
	BatteryLevel       *int     `json:"batteryLevel,omitempty"`
	Voltage            *float64 `json:"voltage,omitempty"`
	ChannelUtilization *float64 `json:"channelUtilization,omitempty"`
	AirUtilTx          *float64 `json:"airUtilTx,omitempty"`
}

// NodePayload is one node as the gateway reports it.
type NodePayload struct {
	ID         string       `json:"id,omitempty"`
	Num        uint32       `json:"num,omitempty"`
	User       *wireUser    `json:"user,omitempty"`
	LastHeard  int64        `json:"lastHeard,omitempty"`
	Metrics    *wireMetrics `json:"deviceMetrics,omitempty"`
	SNR        *float64     `json:"snr,omitempty"`
	RSSI       *int         `json:"rssi,omitempty"`
	HopsAway   *int         `json:"hopsAway,omitempty"`
	IsFavorite bool         `json:"isFavorite,omitempty"`
}

// MessagePayload is one text packet. To is empty or broadcast for channel
// traffic.
type MessagePayload struct {
	ID         flexString `json:"id,omitempty"`
	PacketID   flexString `json:"packet_id,omitempty"`
	Sender     string     `json:"sender"`
	To         string     `json:"receiver,omitempty"`
	Channel    *int       `json:"channel,omitempty"`
	Text       string     `json:"text"`
	Timestamp  flexString `json:"timestamp,omitempty"`
	HopStart   *int       `json:"hop_start,omitempty"`
	HopLimit   *int       `json:"hop_limit,omitempty"`
	SNR        *float64   `json:"snr,omitempty"`
	RSSI       *int       `json:"rssi,omitempty"`
	ReplyID    flexString `json:"reply_id,omitempty"`
	IsOutgoing bool       `json:"is_outgoing,omitempty"`
	AckStatus  string     `json:"ack_status,omitempty"`
}

type AckPayload struct {
	PacketID flexString `json:"packet_id"`
	Status   string     `json:"status"`
}

// ReactionPayload targets the message whose packet id is PacketID.
type ReactionPayload struct {
	PacketID flexString `json:"packet_id"`
	Emoji    string     `json:"emoji"`
	Sender   string     `json:"sender"`
}

type ChannelPayload struct {
	Index int    `json:"index"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

type StatusPayload struct {
	MyNodeID string `json:"my_node_id"`
}

// SendTextPayload asks the gateway to transmit a text message. PacketID is
// chosen by the client so acks can be correlated before the gateway replies.
type SendTextPayload struct {
	ID       string `json:"id"`
	PacketID uint32 `json:"packet_id"`
	Text     string `json:"text"`
	To       string `json:"receiver,omitempty"`
	Channel  int    `json:"channel"`
	ReplyID  string `json:"reply_id,omitempty"`
}

// flexString accepts a JSON string or number and keeps its text form.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) uint32() (uint32, bool) {
	if f == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(string(f), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

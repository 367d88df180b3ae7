package ws

import (
	"time"

	"github.com/meshsync/internal/event"
	"github.com/meshsync/internal/model"
	"github.com/meshsync/internal/session"
)

type EventType string

const (
	// Renderer -> hub
	EventSendText    EventType = "send_text"
	EventMarkRead    EventType = "mark_read"
	EventSetFavorite EventType = "set_favorite"
	EventGetSnapshot EventType = "get_snapshot"

	// Hub -> renderer
	EventSnapshot    EventType = "snapshot"
	EventChange      EventType = "change"
	EventMessageSent EventType = "message_sent"
	EventError       EventType = "error"
)

// IncomingMessage is what a renderer sends.
type IncomingMessage struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	ChatID    string    `json:"chat_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	ReplyID   string    `json:"reply_id,omitempty"`
	NodeID    string    `json:"node_id,omitempty"`
	Favorite  bool      `json:"favorite,omitempty"`
	// At is an optional read marker; zero marks everything read.
	At time.Time `json:"at,omitempty"`

	// Chat is ChatID parsed by decodeCommand.
	Chat model.ChatID `json:"-"`
}

// OutgoingMessage is what the hub sends. It is encoded once per broadcast.
type OutgoingMessage struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	Payload   any       `json:"payload"`
}

// ChangePayload announces which slices moved. Unread carries the fresh
// count of every chat named in Keys.
type ChangePayload struct {
	Revision uint64          `json:"revision"`
	Kind     event.Kind      `json:"kind,omitempty"`
	Keys     []string        `json:"keys,omitempty"`
	Unread   map[string]int  `json:"unread,omitempty"`
	Status   *session.Status `json:"status,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// Package event defines the closed set of typed events the reducer accepts
// and the decoding boundary that turns gateway frames into them.
package event

import (
	"time"

	"github.com/meshsync/internal/model"
)

type Kind string

const (
	KindNodeAnnounced    Kind = "node_announced"
	KindNodesSnapshot    Kind = "nodes_snapshot"
	KindMessageReceived  Kind = "message_received"
	KindMessageSent      Kind = "message_sent"
	KindAckUpdated       Kind = "ack_updated"
	KindReactionAdded    Kind = "reaction_added"
	KindChannelsSnapshot Kind = "channels_snapshot"
	KindStatusUpdated    Kind = "status_updated"
	KindLastReadSet      Kind = "last_read_set"
	KindFavoriteSet      Kind = "favorite_set"
)

// Event is implemented only by the types in this package.
type Event interface {
	Kind() Kind
	isEvent()
}

// NodeAnnounced carries a node announcement or telemetry update.
type NodeAnnounced struct {
	Node model.Node
}

// NodesSnapshot is the full node list sent after a snapshot request.
type NodesSnapshot struct {
	Nodes []model.Node
}

type MessageReceived struct {
	Message model.Message
}

// MessageSent is produced locally when a send is initiated.
type MessageSent struct {
	Message model.Message
}

type AckUpdated struct {
	PacketID model.PacketID
	Status   model.AckStatus
}

type ReactionAdded struct {
	PacketID model.PacketID
	Emoji    string
	Sender   string
}

type ChannelsSnapshot struct {
	Channels []model.Channel
}

// StatusUpdated reports the address of the radio the gateway is attached to.
type StatusUpdated struct {
	MyNodeID string
}

// LastReadSet moves a chat's read marker.
type LastReadSet struct {
	Chat model.ChatID
	At   time.Time
}

type FavoriteSet struct {
	NodeID   string
	Favorite bool
}

func (NodeAnnounced) Kind() Kind    { return KindNodeAnnounced }
func (NodesSnapshot) Kind() Kind    { return KindNodesSnapshot }
func (MessageReceived) Kind() Kind  { return KindMessageReceived }
func (MessageSent) Kind() Kind      { return KindMessageSent }
func (AckUpdated) Kind() Kind       { return KindAckUpdated }
func (ReactionAdded) Kind() Kind    { return KindReactionAdded }
func (ChannelsSnapshot) Kind() Kind { return KindChannelsSnapshot }
func (StatusUpdated) Kind() Kind    { return KindStatusUpdated }
func (LastReadSet) Kind() Kind      { return KindLastReadSet }
func (FavoriteSet) Kind() Kind      { return KindFavoriteSet }

func (NodeAnnounced) isEvent()    {}
func (NodesSnapshot) isEvent()    {}
func (MessageReceived) isEvent()  {}
func (MessageSent) isEvent()      {}
func (AckUpdated) isEvent()       {}
func (ReactionAdded) isEvent()    {}
func (ChannelsSnapshot) isEvent() {}
func (StatusUpdated) isEvent()    {}
func (LastReadSet) isEvent()      {}
func (FavoriteSet) isEvent()      {}

// IsSnapshot reports whether e replaces state wholesale rather than
// applying an increment.
func IsSnapshot(e Event) bool {
	switch e.(type) {
	case NodesSnapshot, ChannelsSnapshot:
		return true
	}
	return false
}

package model

import "time"

// Snapshot is a consistent, deep-copied view of the whole model taken at a
// single revision.
type Snapshot struct {
	Revision uint64               `json:"revision"`
	MyNodeID string               `json:"my_node_id,omitempty"`
	Nodes    []Node               `json:"nodes"`
	Channels []Channel            `json:"channels"`
	Chats    map[ChatID][]Message `json:"chats"`
	LastRead map[ChatID]time.Time `json:"last_read"`
}

// ChatLog returns the messages of chat in insertion order.
func (s Snapshot) ChatLog(chat ChatID) []Message {
	return s.Chats[chat]
}

// Node looks a node up by id. Snapshots are small enough for a linear scan.
func (s Snapshot) Node(id string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

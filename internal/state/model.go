// Package state owns the canonical mesh model and the reducer that is the
// only code allowed to mutate it.
package state

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/meshsync/internal/model"
)

type KeyKind string

const (
	KeyChat     KeyKind = "chat"
	KeyNodes    KeyKind = "nodes"
	KeyChannels KeyKind = "channels"
	KeyStatus   KeyKind = "status"
)

// Key names a slice of the model that changed. For KeyNodes, NodeID names the
// node that changed and is empty when the whole list was replaced. Revisions
// are tracked per chat and once for each of nodes, channels and status.
type Key struct {
	Kind   KeyKind      `json:"kind"`
	Chat   model.ChatID `json:"chat,omitempty"`
	NodeID string       `json:"node_id,omitempty"`
}

func ChatKey(c model.ChatID) Key { return Key{Kind: KeyChat, Chat: c} }
func NodeKey(id string) Key      { return Key{Kind: KeyNodes, NodeID: id} }

var (
	NodesKey    = Key{Kind: KeyNodes}
	ChannelsKey = Key{Kind: KeyChannels}
	StatusKey   = Key{Kind: KeyStatus}
)

// revKey drops the node id so every node change shares one counter.
func (k Key) revKey() Key {
	if k.Kind == KeyNodes {
		return NodesKey
	}
	return k
}

func (k Key) String() string {
	switch k.Kind {
	case KeyChat:
		return "chat:" + k.Chat.String()
	case KeyNodes:
		if k.NodeID != "" {
			return "node:" + k.NodeID
		}
		return "nodes"
	}
	return string(k.Kind)
}

type msgRef struct {
	chat model.ChatID
	idx  int
}

type chatLog struct {
	msgs     []model.Message
	byPacket map[model.PacketID]int
}

// Model is the single source of truth for nodes, channels and messages.
// All exported methods are safe for concurrent use and return copies.
type Model struct {
	mu        sync.RWMutex
	nodes     map[string]*model.Node
	favorites map[string]bool
	channels  []model.Channel
	chats     map[model.ChatID]*chatLog
	byLocalID map[string]msgRef
	byPacket  map[model.PacketID]msgRef
	outgoing  map[model.PacketID]msgRef
	lastRead  map[model.ChatID]time.Time
	myNodeID  string
	revs      map[Key]uint64
	global    uint64
}

func NewModel() *Model {
	return &Model{
		nodes:     make(map[string]*model.Node),
		favorites: make(map[string]bool),
		chats:     make(map[model.ChatID]*chatLog),
		byLocalID: make(map[string]msgRef),
		byPacket:  make(map[model.PacketID]msgRef),
		outgoing:  make(map[model.PacketID]msgRef),
		lastRead:  make(map[model.ChatID]time.Time),
		revs:      make(map[Key]uint64),
	}
}

// Revision returns the counter for the slice named by k.
func (m *Model) Revision(k Key) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revs[k.revKey()]
}

// GlobalRevision increments on every applied transition.
func (m *Model) GlobalRevision() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.global
}

func (m *Model) MyNodeID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.myNodeID
}

func (m *Model) Node(id string) (model.Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	if !ok {
		return model.Node{}, false
	}
	return m.nodeCopy(n), true
}

// Nodes returns every known node ordered by id, and the nodes revision.
func (m *Model) Nodes() ([]model.Node, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nodesLocked(), m.revs[NodesKey]
}

func (m *Model) nodesLocked() []model.Node {
	out := make([]model.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, m.nodeCopy(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Model) nodeCopy(n *model.Node) model.Node {
	c := n.Clone()
	c.Favorite = m.favorites[n.ID]
	return c
}

// Favorites returns the ids marked favorite, including nodes not heard yet.
func (m *Model) Favorites() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.favorites))
	for id, fav := range m.favorites {
		if fav {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Model) Channels() []model.Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Channel(nil), m.channels...)
}

func (m *Model) Channel(index int) (model.Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.channels {
		if c.Index == index {
			return c, true
		}
	}
	return model.Channel{}, false
}

// Messages returns chat's log in insertion order with the chat revision read
// under the same lock.
func (m *Model) Messages(chat model.ChatID) ([]model.Message, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.messagesLocked(chat), m.revs[ChatKey(chat)]
}

func (m *Model) messagesLocked(chat model.ChatID) []model.Message {
	log, ok := m.chats[chat]
	if !ok {
		return nil
	}
	out := make([]model.Message, len(log.msgs))
	for i, msg := range log.msgs {
		out[i] = msg.Clone()
	}
	return out
}

// VisitChat calls fn with chat's log, read marker and revision while holding
// the read lock. fn must not retain msgs or call back into the model.
func (m *Model) VisitChat(chat model.ChatID, fn func(msgs []model.Message, lastRead time.Time, rev uint64)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var msgs []model.Message
	if log, ok := m.chats[chat]; ok {
		msgs = log.msgs
	}
	fn(msgs, m.lastRead[chat], m.revs[ChatKey(chat)])
}

// Chats returns every chat that has at least one message or a read marker.
func (m *Model) Chats() []model.ChatID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[model.ChatID]struct{}, len(m.chats))
	out := make([]model.ChatID, 0, len(m.chats))
	for c := range m.chats {
		seen[c] = struct{}{}
		out = append(out, c)
	}
	for c := range m.lastRead {
		if _, ok := seen[c]; !ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (m *Model) LastRead(chat model.ChatID) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.lastRead[chat]
	return t, ok
}

// MessageByRef resolves a reply reference: a local id first, then a packet id
// in decimal form.
func (m *Model) MessageByRef(ref string) (model.Message, bool) {
	if ref == "" {
		return model.Message{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.byLocalID[ref]; ok {
		return m.chats[r.chat].msgs[r.idx].Clone(), true
	}
	n, err := strconv.ParseUint(ref, 10, 32)
	if err != nil || n == 0 {
		return model.Message{}, false
	}
	if r, ok := m.byPacket[model.PacketID(n)]; ok {
		return m.chats[r.chat].msgs[r.idx].Clone(), true
	}
	return model.Message{}, false
}

// MessageByPacket looks a message up by its network packet id.
func (m *Model) MessageByPacket(id model.PacketID) (model.Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byPacket[id]
	if !ok {
		return model.Message{}, false
	}
	return m.chats[r.chat].msgs[r.idx].Clone(), true
}

// Snapshot copies the whole model at one revision.
func (m *Model) Snapshot() model.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := model.Snapshot{
		Revision: m.global,
		MyNodeID: m.myNodeID,
		Nodes:    m.nodesLocked(),
		Channels: append([]model.Channel(nil), m.channels...),
		Chats:    make(map[model.ChatID][]model.Message, len(m.chats)),
		LastRead: make(map[model.ChatID]time.Time, len(m.lastRead)),
	}
	for c := range m.chats {
		s.Chats[c] = m.messagesLocked(c)
	}
	for c, t := range m.lastRead {
		s.LastRead[c] = t
	}
	return s
}

// bump must be called with the write lock held.
func (m *Model) bump(keys []Key) {
	m.global++
	for _, k := range keys {
		m.revs[k.revKey()]++
	}
}

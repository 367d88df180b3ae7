package state

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meshsync/internal/ack"
	"github.com/meshsync/internal/event"
	"github.com/meshsync/internal/logger"
	"github.com/meshsync/internal/model"
)

type DropReason string

const (
	DropNone       DropReason = ""
	DropStale      DropReason = "stale"
	DropDuplicate  DropReason = "duplicate"
	DropUnknownRef DropReason = "unknown_ref"
	DropTerminal   DropReason = "terminal"
	DropInvalid    DropReason = "invalid"
)

// Result describes what one Apply did. Keys lists the slices whose revision
// was bumped; it is empty when the event was dropped.
type Result struct {
	Applied bool
	Reason  DropReason
	Keys    []Key
	// MessageID is the local id of the message a MessageSent or
	// MessageReceived event appended.
	MessageID string
	// Revision is the global revision right after this transition.
	Revision uint64
}

func dropped(r DropReason) Result { return Result{Reason: r} }

// Reducer applies events to a Model, one complete transition per call.
type Reducer struct {
	m     *Model
	newID func() string
	now   func() time.Time
}

func NewReducer(m *Model) *Reducer {
	return &Reducer{
		m:     m,
		newID: func() string { return uuid.New().String() },
		now:   time.Now,
	}
}

func (r *Reducer) Model() *Model { return r.m }

// Apply runs ev against the model under the write lock. Readers never see a
// half-applied event. Dropped events leave the model untouched.
func (r *Reducer) Apply(ev event.Event) Result {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	var res Result
	switch e := ev.(type) {
	case event.NodeAnnounced:
		res = r.announce(e.Node)
	case event.NodesSnapshot:
		res = r.nodesSnapshot(e.Nodes)
	case event.MessageReceived:
		res = r.receive(e.Message)
	case event.MessageSent:
		res = r.sent(e.Message)
	case event.AckUpdated:
		res = r.ackUpdate(e.PacketID, e.Status)
	case event.ReactionAdded:
		res = r.react(e.PacketID, e.Emoji, e.Sender)
	case event.ChannelsSnapshot:
		res = r.channels(e.Channels)
	case event.StatusUpdated:
		res = r.status(e.MyNodeID)
	case event.LastReadSet:
		res = r.lastRead(e.Chat, e.At)
	case event.FavoriteSet:
		res = r.favorite(e.NodeID, e.Favorite)
	default:
		res = dropped(DropInvalid)
	}

	if res.Applied {
		r.m.bump(res.Keys)
		res.Revision = r.m.global
	} else if ev != nil {
		logger.Debugf("reducer drop kind=%s reason=%s", ev.Kind(), res.Reason)
	}
	return res
}

func (r *Reducer) announce(in model.Node) Result {
	if in.ID == "" {
		return dropped(DropInvalid)
	}
	if !r.upsertNode(in) {
		return dropped(DropStale)
	}
	return Result{Applied: true, Keys: []Key{NodeKey(in.ID)}}
}

// upsertNode merges in and reports whether it was accepted. An incoming
// lastHeard older than the stored one is rejected; equal timestamps are
// accepted, so the later arrival wins.
func (r *Reducer) upsertNode(in model.Node) bool {
	cur, ok := r.m.nodes[in.ID]
	if !ok {
		n := in.Clone()
		n.Favorite = false
		n.Stale = false
		r.m.nodes[in.ID] = &n
		if _, known := r.m.favorites[in.ID]; !known && in.Favorite {
			r.m.favorites[in.ID] = true
		}
		return true
	}
	if in.LastHeard != 0 && in.LastHeard < cur.LastHeard {
		return false
	}
	cur.Merge(in)
	cur.Stale = false
	return true
}

func (r *Reducer) nodesSnapshot(nodes []model.Node) Result {
	listed := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			continue
		}
		listed[n.ID] = struct{}{}
		r.upsertNode(n)
		// listed nodes are not stale even when the entry itself was older
		r.m.nodes[n.ID].Stale = false
	}
	for id, n := range r.m.nodes {
		if _, ok := listed[id]; !ok {
			n.Stale = true
		}
	}
	return Result{Applied: true, Keys: []Key{NodesKey}}
}

func (r *Reducer) receive(msg model.Message) Result {
	if !msg.Chat.Valid() || msg.Sender == "" {
		return dropped(DropInvalid)
	}
	log := r.m.chats[msg.Chat]
	if log != nil && msg.PacketID != 0 {
		if _, dup := log.byPacket[msg.PacketID]; dup {
			return dropped(DropDuplicate)
		}
	}
	if msg.ID != "" {
		if _, dup := r.m.byLocalID[msg.ID]; dup {
			return dropped(DropDuplicate)
		}
	}
	if msg.Outgoing {
		if !msg.Ack.Valid() || msg.Ack == model.AckReceived {
			msg.Ack = model.AckPending
		}
	} else {
		msg.Ack = model.AckReceived
	}
	id := r.appendMessage(msg)
	return Result{Applied: true, Keys: []Key{ChatKey(msg.Chat)}, MessageID: id}
}

func (r *Reducer) sent(msg model.Message) Result {
	if !msg.Chat.Valid() {
		return dropped(DropInvalid)
	}
	if msg.ID != "" {
		if _, dup := r.m.byLocalID[msg.ID]; dup {
			return dropped(DropDuplicate)
		}
	}
	if msg.PacketID != 0 {
		if _, dup := r.m.outgoing[msg.PacketID]; dup {
			return dropped(DropDuplicate)
		}
	}
	msg.Outgoing = true
	msg.Ack = model.AckPending
	if msg.Sender == "" {
		msg.Sender = r.m.myNodeID
	}
	id := r.appendMessage(msg)
	return Result{Applied: true, Keys: []Key{ChatKey(msg.Chat)}, MessageID: id}
}

// appendMessage stores msg at the end of its chat log and indexes it.
func (r *Reducer) appendMessage(msg model.Message) string {
	if msg.ID == "" {
		msg.ID = r.newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.now().UTC()
	}
	msg = msg.Clone()
	log, ok := r.m.chats[msg.Chat]
	if !ok {
		log = &chatLog{byPacket: make(map[model.PacketID]int)}
		r.m.chats[msg.Chat] = log
	}
	idx := len(log.msgs)
	log.msgs = append(log.msgs, msg)
	ref := msgRef{chat: msg.Chat, idx: idx}
	r.m.byLocalID[msg.ID] = ref
	if msg.PacketID != 0 {
		log.byPacket[msg.PacketID] = idx
		if _, ok := r.m.byPacket[msg.PacketID]; !ok {
			r.m.byPacket[msg.PacketID] = ref
		}
		if msg.Outgoing {
			r.m.outgoing[msg.PacketID] = ref
		}
	}
	return msg.ID
}

func (r *Reducer) ackUpdate(pid model.PacketID, status model.AckStatus) Result {
	ref, ok := r.m.outgoing[pid]
	if !ok {
		logger.Debugf("reducer ack for unknown packet=%d status=%s", pid, status)
		return dropped(DropUnknownRef)
	}
	msg := &r.m.chats[ref.chat].msgs[ref.idx]
	next, changed := ack.Transition(msg.Ack, status)
	if !changed {
		return dropped(DropTerminal)
	}
	msg.Ack = next
	return Result{Applied: true, Keys: []Key{ChatKey(ref.chat)}, MessageID: msg.ID}
}

func (r *Reducer) react(pid model.PacketID, emoji, sender string) Result {
	if emoji == "" || sender == "" {
		return dropped(DropInvalid)
	}
	ref, ok := r.m.byPacket[pid]
	if !ok {
		return dropped(DropUnknownRef)
	}
	msg := &r.m.chats[ref.chat].msgs[ref.idx]
	if msg.Reactions == nil {
		msg.Reactions = model.Reactions{}
	}
	if !msg.Reactions.Add(emoji, sender) {
		return dropped(DropDuplicate)
	}
	return Result{Applied: true, Keys: []Key{ChatKey(ref.chat)}, MessageID: msg.ID}
}

func (r *Reducer) channels(list []model.Channel) Result {
	out := append([]model.Channel(nil), list...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	r.m.channels = out
	return Result{Applied: true, Keys: []Key{ChannelsKey}}
}

func (r *Reducer) status(myNodeID string) Result {
	if myNodeID == "" {
		return dropped(DropInvalid)
	}
	if myNodeID == r.m.myNodeID {
		return dropped(DropDuplicate)
	}
	r.m.myNodeID = myNodeID
	return Result{Applied: true, Keys: []Key{StatusKey}}
}

func (r *Reducer) lastRead(chat model.ChatID, at time.Time) Result {
	if !chat.Valid() || at.IsZero() {
		return dropped(DropInvalid)
	}
	cur, ok := r.m.lastRead[chat]
	if ok && !at.After(cur) {
		if at.Equal(cur) {
			return dropped(DropDuplicate)
		}
		return dropped(DropStale)
	}
	r.m.lastRead[chat] = at
	return Result{Applied: true, Keys: []Key{ChatKey(chat)}}
}

func (r *Reducer) favorite(nodeID string, fav bool) Result {
	if nodeID == "" {
		return dropped(DropInvalid)
	}
	if r.m.favorites[nodeID] == fav {
		if _, known := r.m.favorites[nodeID]; known {
			return dropped(DropDuplicate)
		}
	}
	r.m.favorites[nodeID] = fav
	return Result{Applied: true, Keys: []Key{NodeKey(nodeID)}}
}

package view

import (
	"time"

	"github.com/meshsync/internal/model"
	"github.com/meshsync/internal/state"
)

// SelfName is shown instead of the local node's name.
const SelfName = "You"

// ReplyContext is the quoted message above a reply.
type ReplyContext struct {
	MessageID  string `json:"message_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
}

// Bubble is one message as a chat thread renders it.
type Bubble struct {
	Message    model.Message `json:"message"`
	SenderName string        `json:"sender_name"`
	Mine       bool          `json:"mine"`
	Hops       *int          `json:"hops,omitempty"`
	Reply      *ReplyContext `json:"reply,omitempty"`
	// DayLabel is set on the first bubble of each calendar day.
	DayLabel   string `json:"day_label,omitempty"`
	GroupStart bool   `json:"group_start"`
	GroupEnd   bool   `json:"group_end"`
}

// SenderName resolves a node id the way message headers show it.
func (c *Cache) SenderName(id string) string {
	return senderName(c.m, c.m.MyNodeID(), id)
}

func senderName(m *state.Model, my, id string) string {
	if id != "" && id == my {
		return SelfName
	}
	if n, ok := m.Node(id); ok {
		if n.LongName != nil && *n.LongName != "" {
			return *n.LongName
		}
		if n.ShortName != nil && *n.ShortName != "" {
			return *n.ShortName
		}
	}
	return id
}

// Reply resolves msg.ReplyID by local id, then packet id, within msg's chat.
// It returns false when msg is not a reply or the target is unknown there.
func (c *Cache) Reply(msg model.Message) (ReplyContext, bool) {
	return reply(c.m, c.m.MyNodeID(), msg)
}

func reply(m *state.Model, my string, msg model.Message) (ReplyContext, bool) {
	if msg.ReplyID == "" {
		return ReplyContext{}, false
	}
	target, ok := m.MessageByRef(msg.ReplyID)
	if !ok || target.Chat != msg.Chat {
		return ReplyContext{}, false
	}
	return ReplyContext{
		MessageID:  target.ID,
		SenderID:   target.Sender,
		SenderName: senderName(m, my, target.Sender),
		Text:       target.Text,
	}, true
}

// Thread projects chat's log into bubbles with reply context, hop counts,
// day dividers and sender grouping.
func (c *Cache) Thread(chat model.ChatID) []Bubble {
	now := c.now()
	day := now.Format(time.DateOnly)
	chatRev := c.m.Revision(state.ChatKey(chat))
	nodesRev := c.m.Revision(state.NodesKey)
	statusRev := c.m.Revision(state.StatusKey)

	c.mu.Lock()
	if e, ok := c.threads[chat]; ok && e.chatRev == chatRev && e.nodesRev == nodesRev && e.statusRev == statusRev && e.day == day {
		c.mu.Unlock()
		return append([]Bubble(nil), e.bubbles...)
	}
	c.mu.Unlock()

	msgs, chatRev := c.m.Messages(chat)
	my := c.m.MyNodeID()
	bubbles := make([]Bubble, len(msgs))
	for i, msg := range msgs {
		b := Bubble{
			Message:    msg,
			SenderName: senderName(c.m, my, msg.Sender),
			Mine:       msg.Outgoing || (my != "" && msg.Sender == my),
		}
		if hops, ok := msg.HopCount(); ok {
			b.Hops = model.Ptr(hops)
		}
		if rc, ok := reply(c.m, my, msg); ok {
			b.Reply = &rc
		}
		if i == 0 || !sameDay(msgs[i-1].Timestamp, msg.Timestamp, now.Location()) {
			b.DayLabel = DayLabel(msg.Timestamp, now)
		}
		bubbles[i] = b
	}
	for i := range bubbles {
		bubbles[i].GroupStart = i == 0 || bubbles[i].DayLabel != "" || bubbles[i-1].Message.Sender != bubbles[i].Message.Sender
		bubbles[i].GroupEnd = i == len(bubbles)-1 || bubbles[i+1].DayLabel != "" || bubbles[i+1].Message.Sender != bubbles[i].Message.Sender
	}

	c.mu.Lock()
	c.threads[chat] = threadEntry{chatRev: chatRev, nodesRev: nodesRev, statusRev: statusRev, day: day, bubbles: bubbles}
	c.recomputed("thread")
	c.mu.Unlock()
	return append([]Bubble(nil), bubbles...)
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// DayLabel names t's calendar day relative to now, in now's location:
// "Today", "Yesterday" or a date like "January 2, 2006".
func DayLabel(t, now time.Time) string {
	loc := now.Location()
	if sameDay(t, now, loc) {
		return "Today"
	}
	y := now.In(loc)
	if sameDay(t, time.Date(y.Year(), y.Month(), y.Day()-1, 12, 0, 0, 0, loc), loc) {
		return "Yesterday"
	}
	return t.In(loc).Format("January 2, 2006")
}

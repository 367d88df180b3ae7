package state

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/meshsync/internal/event"
	"github.com/meshsync/internal/model"
)

func newTestReducer() *Reducer {
	r := NewReducer(NewModel())
	n := 0
	r.newID = func() string {
		n++
		return fmt.Sprintf("local-%d", n)
	}
	r.now = func() time.Time { return time.Unix(5000, 0) }
	return r
}

func incoming(chat model.ChatID, pid model.PacketID, sender, text string, ts int64) event.MessageReceived {
	return event.MessageReceived{Message: model.Message{
		PacketID:  pid,
		Chat:      chat,
		Sender:    sender,
		Text:      text,
		Timestamp: time.Unix(ts, 0),
	}}
}

// --- Nodes ---

func TestApply_NodeAnnounced_StaleGuard(t *testing.T) {
	r := newTestReducer()
	r.Apply(event.NodeAnnounced{Node: model.Node{ID: "!1", LastHeard: 100}})
	res := r.Apply(event.NodeAnnounced{Node: model.Node{ID: "!1", LastHeard: 90, LongName: model.Ptr("old")}})

	if res.Applied || res.Reason != DropStale {
		t.Errorf("older announcement result = %+v, want stale drop", res)
	}
	n, _ := r.Model().Node("!1")
	if n.LastHeard != 100 {
		t.Errorf("LastHeard = %d, want 100", n.LastHeard)
	}
	if n.LongName != nil {
		t.Errorf("stale event must not merge fields, LongName = %q", *n.LongName)
	}
}

func TestApply_NodeAnnounced_MaxLastHeardAnyOrder(t *testing.T) {
	orders := [][]int64{
		{10, 20, 30},
		{30, 20, 10},
		{20, 30, 10},
		{10, 30, 20},
		{30, 30, 10},
	}
	for _, order := range orders {
		r := newTestReducer()
		for _, ts := range order {
			r.Apply(event.NodeAnnounced{Node: model.Node{ID: "!1", LastHeard: ts}})
		}
		n, _ := r.Model().Node("!1")
		if n.LastHeard != 30 {
			t.Errorf("order %v: LastHeard = %d, want 30", order, n.LastHeard)
		}
	}
}

func TestApply_NodeAnnounced_MergeAndTieBreak(t *testing.T) {
	r := newTestReducer()
	r.Apply(event.NodeAnnounced{Node: model.Node{ID: "!1", LastHeard: 100, LongName: model.Ptr("First"), SNR: model.Ptr(1.5)}})
	r.Apply(event.NodeAnnounced{Node: model.Node{ID: "!1", LastHeard: 100, LongName: model.Ptr("Second")}})

	n, _ := r.Model().Node("!1")
	if *n.LongName != "Second" {
		t.Errorf("equal timestamp: LongName = %q, want later arrival to win", *n.LongName)
	}
	if n.SNR == nil || *n.SNR != 1.5 {
		t.Errorf("absent SNR must be preserved, got %v", n.SNR)
	}
}

func TestApply_NodeAnnounced_ZeroLastHeardKeepsStored(t *testing.T) {
	r := newTestReducer()
	r.Apply(event.NodeAnnounced{Node: model.Node{ID: "!1", LastHeard: 100}})
	res := r.Apply(event.NodeAnnounced{Node: model.Node{ID: "!1", Metrics: &model.DeviceMetrics{BatteryLevel: model.Ptr(50)}}})
	if !res.Applied {
		t.Fatalf("telemetry without lastHeard should merge, got %+v", res)
	}
	n, _ := r.Model().Node("!1")
	if n.LastHeard != 100 || *n.Metrics.BatteryLevel != 50 {
		t.Errorf("node = %+v", n)
	}
}

func TestApply_NodesSnapshot_MarksMissingStale(t *testing.T) {
	r := newTestReducer()
	r.Apply(event.NodeAnnounced{Node: model.Node{ID: "!1", LastHeard: 10}})
	r.Apply(event.NodeAnnounced{Node: model.Node{ID: "!2", LastHeard: 10}})
	r.Apply(event.NodesSnapshot{Nodes: []model.Node{{ID: "!2", LastHeard: 20}, {ID: "!3", LastHeard: 5}}})

	nodes, _ := r.Model().Nodes()
	if len(nodes) != 3 {
		t.Fatalf("snapshot must not delete nodes, got %d", len(nodes))
	}
	want := map[string]bool{"!1": true, "!2": false, "!3": false}
	for _, n := range nodes {
		if n.Stale != want[n.ID] {
			t.Errorf("node %s stale = %v, want %v", n.ID, n.Stale, want[n.ID])
		}
	}

	r.Apply(event.NodeAnnounced{Node: model.Node{ID: "!1", LastHeard: 30}})
	if n, _ := r.Model().Node("!1"); n.Stale {
		t.Error("fresh announcement should clear stale")
	}

	r.Apply(event.NodesSnapshot{Nodes: []model.Node{{ID: "!2", LastHeard: 20}}})
	r.Apply(event.NodesSnapshot{Nodes: []model.Node{{ID: "!1", LastHeard: 25}}})
	n, _ := r.Model().Node("!1")
	if n.Stale || n.LastHeard != 30 {
		t.Errorf("listed node with older entry = %+v, want fresh with lastHeard 30", n)
	}
}

func TestApply_ResultCarriesRevision(t *testing.T) {
	r := newTestReducer()
	first := r.Apply(event.NodeAnnounced{Node: model.Node{ID: "!1", LastHeard: 10}})
	second := r.Apply(event.FavoriteSet{NodeID: "!1", Favorite: true})
	if first.Revision == 0 || second.Revision != first.Revision+1 {
		t.Errorf("revisions = %d, %d", first.Revision, second.Revision)
	}
	if got := r.Model().GlobalRevision(); got != second.Revision {
		t.Errorf("GlobalRevision = %d, want %d", got, second.Revision)
	}
	if res := r.Apply(event.FavoriteSet{NodeID: "!1", Favorite: true}); res.Applied || res.Revision != 0 {
		t.Errorf("dropped result = %+v", res)
	}
}

func TestApply_Favorites(t *testing.T) {
	r := newTestReducer()
	r.Apply(event.FavoriteSet{NodeID: "!9", Favorite: true})
	r.Apply(event.NodeAnnounced{Node: model.Node{ID: "!9", LastHeard: 1}})

	n, _ := r.Model().Node("!9")
	if !n.Favorite {
		t.Error("favorite set before first announcement should stick")
	}
	if res := r.Apply(event.FavoriteSet{NodeID: "!9", Favorite: true}); res.Applied {
		t.Error("repeated favorite should be a no-op")
	}

	r.Apply(event.NodeAnnounced{Node: model.Node{ID: "!8", LastHeard: 1, Favorite: true}})
	r.Apply(event.FavoriteSet{NodeID: "!8", Favorite: false})
	r.Apply(event.NodeAnnounced{Node: model.Node{ID: "!8", LastHeard: 2, Favorite: true}})
	if n, _ := r.Model().Node("!8"); n.Favorite {
		t.Error("local unfavorite must win over later announcements")
	}
}

// --- Messages ---

func TestApply_MessageReceived_Idempotent(t *testing.T) {
	r := newTestReducer()
	chat := model.ChannelChat(0)
	first := r.Apply(incoming(chat, 42, "!2", "hello", 100))
	second := r.Apply(incoming(chat, 42, "!2", "hello", 100))

	if !first.Applied {
		t.Fatalf("first = %+v", first)
	}
	if second.Applied || second.Reason != DropDuplicate {
		t.Errorf("second = %+v, want duplicate drop", second)
	}
	msgs, _ := r.Model().Messages(chat)
	if len(msgs) != 1 {
		t.Fatalf("stored %d messages, want 1", len(msgs))
	}
	if msgs[0].Ack != model.AckReceived || msgs[0].ID == "" {
		t.Errorf("message = %+v", msgs[0])
	}
}

func TestApply_MessageReceived_SamePacketDifferentChat(t *testing.T) {
	r := newTestReducer()
	r.Apply(incoming(model.ChannelChat(0), 42, "!2", "a", 100))
	res := r.Apply(incoming(model.ChannelChat(1), 42, "!2", "b", 100))
	if !res.Applied {
		t.Errorf("dedup is per chat, got %+v", res)
	}
}

func TestApply_MessageReceived_WithoutPacketIDNotDeduped(t *testing.T) {
	r := newTestReducer()
	chat := model.DMChat("!2")
	r.Apply(incoming(chat, 0, "!2", "a", 100))
	r.Apply(incoming(chat, 0, "!2", "a", 100))
	if msgs, _ := r.Model().Messages(chat); len(msgs) != 2 {
		t.Errorf("stored %d, want 2", len(msgs))
	}
}

func TestApply_MessageOrderIsArrivalOrder(t *testing.T) {
	r := newTestReducer()
	chat := model.ChannelChat(0)
	r.Apply(incoming(chat, 1, "!2", "late", 300))
	r.Apply(incoming(chat, 2, "!2", "early", 100))
	msgs, _ := r.Model().Messages(chat)
	if msgs[0].Text != "late" || msgs[1].Text != "early" {
		t.Errorf("order = %q, %q; want arrival order", msgs[0].Text, msgs[1].Text)
	}
}

func TestApply_MessageSent_PendingThenAck(t *testing.T) {
	r := newTestReducer()
	r.Apply(event.StatusUpdated{MyNodeID: "!me"})
	chat := model.DMChat("!x")
	res := r.Apply(event.MessageSent{Message: model.Message{PacketID: 7, Chat: chat, Text: "hi"}})
	if !res.Applied || res.MessageID != "local-1" {
		t.Fatalf("sent = %+v", res)
	}
	msgs, _ := r.Model().Messages(chat)
	if msgs[0].Ack != model.AckPending || !msgs[0].Outgoing || msgs[0].Sender != "!me" {
		t.Errorf("sent message = %+v", msgs[0])
	}
	if !msgs[0].Timestamp.Equal(time.Unix(5000, 0)) {
		t.Errorf("timestamp = %v", msgs[0].Timestamp)
	}

	if res := r.Apply(event.AckUpdated{PacketID: 7, Status: model.AckConfirmed}); !res.Applied {
		t.Fatalf("ack = %+v", res)
	}
	if res := r.Apply(event.AckUpdated{PacketID: 7, Status: model.AckNak}); res.Applied || res.Reason != DropTerminal {
		t.Errorf("second ack = %+v, want terminal drop", res)
	}
	msgs, _ = r.Model().Messages(chat)
	if msgs[0].Ack != model.AckConfirmed {
		t.Errorf("Ack = %s, want ack", msgs[0].Ack)
	}
}

func TestApply_AckUnknownPacket(t *testing.T) {
	r := newTestReducer()
	res := r.Apply(event.AckUpdated{PacketID: 99, Status: model.AckConfirmed})
	if res.Applied || res.Reason != DropUnknownRef {
		t.Errorf("result = %+v", res)
	}
	if r.Model().GlobalRevision() != 0 {
		t.Error("dropped event must not bump revisions")
	}
}

func TestApply_AckIgnoresIncoming(t *testing.T) {
	r := newTestReducer()
	chat := model.ChannelChat(0)
	r.Apply(incoming(chat, 5, "!2", "hi", 1))
	if res := r.Apply(event.AckUpdated{PacketID: 5, Status: model.AckNak}); res.Applied {
		t.Errorf("ack must only touch outgoing messages: %+v", res)
	}
}

func TestApply_OutgoingEchoIsDuplicate(t *testing.T) {
	r := newTestReducer()
	chat := model.DMChat("!x")
	r.Apply(event.MessageSent{Message: model.Message{PacketID: 7, Chat: chat, Text: "hi"}})
	echo := incoming(chat, 7, "!me", "hi", 1)
	echo.Message.Outgoing = true
	if res := r.Apply(echo); res.Applied {
		t.Errorf("echo = %+v, want duplicate", res)
	}
}

func TestApply_Reactions(t *testing.T) {
	r := newTestReducer()
	chat := model.ChannelChat(0)
	r.Apply(incoming(chat, 10, "!2", "hi", 1))

	if res := r.Apply(event.ReactionAdded{PacketID: 10, Emoji: "👍", Sender: "!3"}); !res.Applied {
		t.Fatalf("reaction = %+v", res)
	}
	if res := r.Apply(event.ReactionAdded{PacketID: 10, Emoji: "👍", Sender: "!3"}); res.Applied {
		t.Errorf("same sender twice = %+v, want no-op", res)
	}
	r.Apply(event.ReactionAdded{PacketID: 10, Emoji: "👍", Sender: "!4"})
	r.Apply(event.ReactionAdded{PacketID: 10, Emoji: "❤️", Sender: "!3"})
	if res := r.Apply(event.ReactionAdded{PacketID: 11, Emoji: "👍", Sender: "!3"}); res.Reason != DropUnknownRef {
		t.Errorf("unknown target = %+v", res)
	}

	msgs, _ := r.Model().Messages(chat)
	got := msgs[0].Reactions
	if len(got.Senders("👍")) != 2 || len(got.Senders("❤️")) != 1 {
		t.Errorf("reactions = %v", got)
	}
}

func TestApply_ChannelsSnapshotReplaces(t *testing.T) {
	r := newTestReducer()
	r.Apply(event.ChannelsSnapshot{Channels: []model.Channel{{Index: 0, Name: "A"}, {Index: 1, Name: "B"}}})
	r.Apply(event.ChannelsSnapshot{Channels: []model.Channel{{Index: 2, Name: "C"}, {Index: 0, Name: "Z"}}})

	chans := r.Model().Channels()
	if len(chans) != 2 || chans[0].Name != "Z" || chans[1].Index != 2 {
		t.Errorf("channels = %+v", chans)
	}
}

func TestApply_LastReadMonotonic(t *testing.T) {
	r := newTestReducer()
	chat := model.DMChat("!2")
	r.Apply(event.LastReadSet{Chat: chat, At: time.Unix(100, 0)})
	if res := r.Apply(event.LastReadSet{Chat: chat, At: time.Unix(50, 0)}); res.Reason != DropStale {
		t.Errorf("older marker = %+v", res)
	}
	if got, _ := r.Model().LastRead(chat); !got.Equal(time.Unix(100, 0)) {
		t.Errorf("LastRead = %v", got)
	}
}

// --- Revisions ---

func TestApply_RevisionsArePerChat(t *testing.T) {
	r := newTestReducer()
	a, b := model.ChannelChat(0), model.ChannelChat(1)
	r.Apply(incoming(a, 1, "!2", "x", 1))
	revA := r.Model().Revision(ChatKey(a))
	revB := r.Model().Revision(ChatKey(b))
	r.Apply(incoming(b, 2, "!2", "y", 1))

	if r.Model().Revision(ChatKey(a)) != revA {
		t.Error("chat a revision changed by chat b append")
	}
	if r.Model().Revision(ChatKey(b)) == revB {
		t.Error("chat b revision did not change")
	}
	nodesRev := r.Model().Revision(NodesKey)
	r.Apply(event.NodeAnnounced{Node: model.Node{ID: "!2", LastHeard: 1}})
	if r.Model().Revision(NodesKey) == nodesRev {
		t.Error("nodes revision did not change")
	}
	if r.Model().Revision(NodeKey("!2")) != r.Model().Revision(NodesKey) {
		t.Error("node keys share the nodes counter")
	}
}

func TestModel_MessageByRef(t *testing.T) {
	r := newTestReducer()
	chat := model.ChannelChat(0)
	res := r.Apply(incoming(chat, 55, "!2", "original", 1))

	if m, ok := r.Model().MessageByRef(res.MessageID); !ok || m.Text != "original" {
		t.Errorf("by local id = %+v %v", m, ok)
	}
	if m, ok := r.Model().MessageByRef("55"); !ok || m.Text != "original" {
		t.Errorf("by packet id = %+v %v", m, ok)
	}
	for _, ref := range []string{"", "56", "nope", "0"} {
		if _, ok := r.Model().MessageByRef(ref); ok {
			t.Errorf("MessageByRef(%q) should not resolve", ref)
		}
	}
}

func TestModel_SnapshotIsDeepCopy(t *testing.T) {
	r := newTestReducer()
	chat := model.ChannelChat(0)
	r.Apply(incoming(chat, 10, "!2", "hi", 1))
	r.Apply(event.ReactionAdded{PacketID: 10, Emoji: "👍", Sender: "!3"})

	snap := r.Model().Snapshot()
	snap.Chats[chat][0].Reactions.Add("👍", "!intruder")
	snap.Chats[chat][0].Text = "changed"

	msgs, _ := r.Model().Messages(chat)
	if msgs[0].Text != "hi" || len(msgs[0].Reactions.Senders("👍")) != 1 {
		t.Error("snapshot mutation leaked into the model")
	}
}

func TestApply_ConcurrentReadersSeeWholeTransitions(t *testing.T) {
	r := newTestReducer()
	chat := model.ChannelChat(0)
	const writes = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= writes; i++ {
			r.Apply(incoming(chat, model.PacketID(i), "!2", "m", int64(i)))
		}
	}()

	for i := 0; i < 100; i++ {
		r.Model().VisitChat(chat, func(msgs []model.Message, _ time.Time, rev uint64) {
			if uint64(len(msgs)) != rev {
				t.Errorf("len(msgs) = %d at revision %d", len(msgs), rev)
			}
		})
	}
	wg.Wait()
}

package view

import (
	"testing"
	"time"

	"github.com/meshsync/internal/event"
	"github.com/meshsync/internal/model"
	"github.com/meshsync/internal/state"
)

type fixture struct {
	r *state.Reducer
	c *Cache
}

func newFixture() fixture {
	r := state.NewReducer(state.NewModel())
	c := NewCache(r.Model())
	c.now = func() time.Time { return time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC) }
	return fixture{r: r, c: c}
}

func (f fixture) recv(chat model.ChatID, pid model.PacketID, sender, text string, at time.Time) string {
	res := f.r.Apply(event.MessageReceived{Message: model.Message{
		PacketID: pid, Chat: chat, Sender: sender, Text: text, Timestamp: at,
	}})
	return res.MessageID
}

func (f fixture) node(id, long string, lastHeard int64) {
	n := model.Node{ID: id, LastHeard: lastHeard}
	if long != "" {
		n.LongName = model.Ptr(long)
	}
	f.r.Apply(event.NodeAnnounced{Node: n})
}

func TestUnread_CountsAfterMarker(t *testing.T) {
	f := newFixture()
	chat := model.DMChat("!2")
	for i := 1; i <= 3; i++ {
		f.recv(chat, model.PacketID(i), "!2", "m", time.Unix(int64(i*100), 0))
	}
	f.r.Apply(event.MessageSent{Message: model.Message{PacketID: 9, Chat: chat, Text: "mine", Timestamp: time.Unix(400, 0)}})

	if got := f.c.Unread(chat); got != 3 {
		t.Fatalf("Unread = %d, want 3 (outgoing excluded)", got)
	}
	f.r.Apply(event.LastReadSet{Chat: chat, At: time.Unix(200, 0)})
	if got := f.c.Unread(chat); got != 1 {
		t.Errorf("Unread after marker = %d, want 1", got)
	}
	f.r.Apply(event.LastReadSet{Chat: chat, At: time.Unix(300, 0)})
	if got := f.c.Unread(chat); got != 0 {
		t.Errorf("Unread after marking latest = %d, want 0", got)
	}
}

func TestUnread_MemoizedOnChatRevision(t *testing.T) {
	f := newFixture()
	a, b := model.ChannelChat(0), model.ChannelChat(1)
	f.recv(a, 1, "!2", "x", time.Unix(1, 0))

	f.c.Unread(a)
	base := f.c.Computes()
	f.c.Unread(a)
	if f.c.Computes() != base {
		t.Fatal("second Unread without a transition recomputed")
	}

	f.recv(b, 2, "!2", "y", time.Unix(2, 0))
	f.c.Unread(a)
	if f.c.Computes() != base {
		t.Error("a transition in another chat invalidated this chat's count")
	}

	f.recv(a, 3, "!2", "z", time.Unix(3, 0))
	if got := f.c.Unread(a); got != 2 {
		t.Errorf("Unread = %d, want 2", got)
	}
	if f.c.Computes() != base+1 {
		t.Errorf("Computes = %d, want %d", f.c.Computes(), base+1)
	}
}

func TestUnreadAll(t *testing.T) {
	f := newFixture()
	f.recv(model.DMChat("!2"), 1, "!2", "x", time.Unix(1, 0))
	f.recv(model.ChannelChat(0), 2, "!3", "y", time.Unix(1, 0))
	f.r.Apply(event.LastReadSet{Chat: model.ChannelChat(0), At: time.Unix(5, 0)})

	got := f.c.UnreadAll()
	if len(got) != 1 || got[model.DMChat("!2")] != 1 {
		t.Errorf("UnreadAll = %v", got)
	}
}

func TestNodes_SortAndFilter(t *testing.T) {
	f := newFixture()
	f.node("!a", "charlie", 300)
	f.node("!b", "Alpha", 100)
	f.node("!c", "bravo", 200)
	f.node("!d", "", 50)
	f.r.Apply(event.FavoriteSet{NodeID: "!c", Favorite: true})

	ids := func(ns []model.Node) []string {
		out := make([]string, len(ns))
		for i, n := range ns {
			out[i] = n.ID
		}
		return out
	}
	tests := []struct {
		name  string
		key   SortKey
		query string
		want  []string
	}{
		{"by name", SortName, "", []string{"!c", "!d", "!b", "!a"}},
		{"by last heard", SortLastHeard, "", []string{"!c", "!a", "!b", "!d"}},
		{"filter long name", SortName, "ALP", []string{"!b"}},
		{"filter id", SortName, "!d", []string{"!d"}},
		{"no match", SortName, "zulu", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(f.c.Nodes(tt.key, tt.query))
			if len(got) != len(tt.want) {
				t.Fatalf("Nodes = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Nodes = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestNodes_MemoInvalidatedByNodeChange(t *testing.T) {
	f := newFixture()
	f.node("!a", "A", 1)
	f.c.Nodes(SortName, "")
	base := f.c.Computes()
	f.c.Nodes(SortName, "")
	if f.c.Computes() != base {
		t.Fatal("unchanged nodes recomputed")
	}
	f.node("!b", "B", 2)
	if got := f.c.Nodes(SortName, ""); len(got) != 2 {
		t.Errorf("Nodes after announce = %d entries, want 2", len(got))
	}
}

func TestPartitionUnread(t *testing.T) {
	f := newFixture()
	f.node("!a", "A", 1)
	f.node("!b", "B", 1)
	f.node("!c", "C", 1)
	f.recv(model.DMChat("!b"), 1, "!b", "hi", time.Unix(1, 0))

	unread, rest := f.c.PartitionUnread(f.c.Nodes(SortName, ""))
	if len(unread) != 1 || unread[0].ID != "!b" {
		t.Errorf("unread = %+v", unread)
	}
	if len(rest) != 2 || rest[0].ID != "!a" || rest[1].ID != "!c" {
		t.Errorf("rest = %+v", rest)
	}
}

func TestReply_ResolvesLocalIDThenPacket(t *testing.T) {
	f := newFixture()
	f.r.Apply(event.StatusUpdated{MyNodeID: "!me"})
	f.node("!2", "Bob", 1)
	chat := model.ChannelChat(0)
	localID := f.recv(chat, 77, "!2", "original", time.Unix(1, 0))
	mine := f.r.Apply(event.MessageSent{Message: model.Message{PacketID: 78, Chat: chat, Text: "from me"}})
	f.recv(model.DMChat("!2"), 80, "!2", "elsewhere", time.Unix(2, 0))

	tests := []struct {
		name     string
		replyID  string
		wantOK   bool
		wantName string
		wantText string
	}{
		{"local id", localID, true, "Bob", "original"},
		{"packet id", "77", true, "Bob", "original"},
		{"own message", mine.MessageID, true, SelfName, "from me"},
		{"other chat", "80", false, "", ""},
		{"unknown", "12345", false, "", ""},
		{"none", "", false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, ok := f.c.Reply(model.Message{Chat: chat, ReplyID: tt.replyID})
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if rc.SenderName != tt.wantName || rc.Text != tt.wantText {
				t.Errorf("Reply = %+v", rc)
			}
		})
	}
}

func TestThread_BubblesAndDividers(t *testing.T) {
	f := newFixture()
	f.r.Apply(event.StatusUpdated{MyNodeID: "!me"})
	f.node("!2", "", 1)
	chat := model.DMChat("!2")
	yesterday := time.Date(2024, 5, 9, 20, 0, 0, 0, time.UTC)
	today := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

	f.r.Apply(event.MessageReceived{Message: model.Message{
		PacketID: 1, Chat: chat, Sender: "!2", Text: "a", Timestamp: yesterday,
		HopStart: model.Ptr(3), HopLimit: model.Ptr(1),
	}})
	f.recv(chat, 2, "!2", "b", today)
	f.recv(chat, 3, "!2", "c", today.Add(time.Minute))
	f.r.Apply(event.MessageReceived{Message: model.Message{
		PacketID: 4, Chat: chat, Sender: "!2", Text: "d", Timestamp: today.Add(2 * time.Minute), ReplyID: "2",
	}})
	f.r.Apply(event.MessageSent{Message: model.Message{PacketID: 5, Chat: chat, Text: "e", Timestamp: today.Add(3 * time.Minute)}})

	bs := f.c.Thread(chat)
	if len(bs) != 5 {
		t.Fatalf("len = %d", len(bs))
	}
	if bs[0].DayLabel != "Yesterday" || bs[1].DayLabel != "Today" || bs[2].DayLabel != "" {
		t.Errorf("day labels = %q %q %q", bs[0].DayLabel, bs[1].DayLabel, bs[2].DayLabel)
	}
	if bs[0].Hops == nil || *bs[0].Hops != 2 || bs[1].Hops != nil {
		t.Errorf("hops = %v %v", bs[0].Hops, bs[1].Hops)
	}
	if bs[0].SenderName != "!2" {
		t.Errorf("unnamed sender should fall back to id, got %q", bs[0].SenderName)
	}
	if bs[3].Reply == nil || bs[3].Reply.Text != "b" {
		t.Errorf("reply = %+v", bs[3].Reply)
	}
	if !bs[4].Mine || bs[4].SenderName != SelfName {
		t.Errorf("outgoing bubble = %+v", bs[4])
	}
	if !bs[1].GroupStart || bs[1].GroupEnd || bs[2].GroupStart || !bs[3].GroupEnd {
		t.Errorf("grouping = %+v", []bool{bs[1].GroupStart, bs[1].GroupEnd, bs[2].GroupStart, bs[3].GroupEnd})
	}
}

func TestThread_MemoizedAndInvalidatedByNodes(t *testing.T) {
	f := newFixture()
	chat := model.ChannelChat(0)
	f.recv(chat, 1, "!2", "a", time.Unix(1, 0))

	f.c.Thread(chat)
	base := f.c.Computes()
	f.c.Thread(chat)
	if f.c.Computes() != base {
		t.Fatal("unchanged thread recomputed")
	}

	f.node("!2", "Bob", 1)
	if got := f.c.Thread(chat); got[0].SenderName != "Bob" {
		t.Errorf("SenderName = %q after rename", got[0].SenderName)
	}
}

func TestDayLabel(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 30, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "Today"},
		{time.Date(2024, 2, 29, 23, 59, 0, 0, time.UTC), "Yesterday"},
		{time.Date(2024, 2, 28, 12, 0, 0, 0, time.UTC), "February 28, 2024"},
		{time.Date(2023, 12, 25, 12, 0, 0, 0, time.UTC), "December 25, 2023"},
	}
	for _, tt := range tests {
		if got := DayLabel(tt.at, now); got != tt.want {
			t.Errorf("DayLabel(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}

func TestParseSortKey(t *testing.T) {
	for in, want := range map[string]SortKey{"": SortName, "name": SortName, "last_heard": SortLastHeard, "Recent": SortLastHeard, "bogus": SortName} {
		if got := ParseSortKey(in); got != want {
			t.Errorf("ParseSortKey(%q) = %s, want %s", in, got, want)
		}
	}
}

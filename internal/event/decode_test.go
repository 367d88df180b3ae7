package event

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/meshsync/internal/model"
)

func fixedDecoder() *Decoder {
	d := NewDecoder()
	d.now = func() time.Time { return time.Unix(1700000000, 0) }
	return d
}

func TestDecode_Node(t *testing.T) {
	d := fixedDecoder()
	ev, err := d.Decode([]byte(`{"type":"node","data":{"id":"!a1b2c3d4","num":2712847316,"user":{"longName":"Base","shortName":"BS"},"lastHeard":100,"deviceMetrics":{"batteryLevel":87},"snr":6.25}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	na, ok := ev.(NodeAnnounced)
	if !ok {
		t.Fatalf("event = %T, want NodeAnnounced", ev)
	}
	n := na.Node
	if n.ID != "!a1b2c3d4" || n.LastHeard != 100 {
		t.Errorf("node = %+v", n)
	}
	if n.LongName == nil || *n.LongName != "Base" || *n.ShortName != "BS" {
		t.Errorf("names = %v %v", n.LongName, n.ShortName)
	}
	if n.Metrics == nil || *n.Metrics.BatteryLevel != 87 {
		t.Errorf("metrics = %+v", n.Metrics)
	}
	if n.SNR == nil || *n.SNR != 6.25 {
		t.Errorf("snr = %v", n.SNR)
	}
}

func TestDecode_NodeIDFromNum(t *testing.T) {
	ev, err := fixedDecoder().Decode([]byte(`{"type":"node","data":{"num":1}}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := ev.(NodeAnnounced).Node.ID; got != "!00000001" {
		t.Errorf("id = %q", got)
	}
}

func TestDecode_Heartbeat(t *testing.T) {
	ev, err := fixedDecoder().Decode([]byte(`{"type":"heartbeat"}`))
	if err != nil || ev != nil {
		t.Errorf("heartbeat = %v, %v; want nil, nil", ev, err)
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"missing type", `{"data":{}}`},
		{"unknown type", `{"type":"teleport","data":{}}`},
		{"node without id", `{"type":"node","data":{"user":{"longName":"x"}}}`},
		{"node negative last heard", `{"type":"node","data":{"id":"!1","lastHeard":-5}}`},
		{"node missing data", `{"type":"node"}`},
		{"message without sender", `{"type":"message","data":{"text":"hi"}}`},
		{"message without text", `{"type":"message","data":{"sender":"!1"}}`},
		{"message bad packet id", `{"type":"message","data":{"sender":"!1","text":"hi","packet_id":"abc"}}`},
		{"message bad timestamp", `{"type":"message","data":{"sender":"!1","text":"hi","timestamp":"soon"}}`},
		{"ack without packet", `{"type":"ack","data":{"status":"ack"}}`},
		{"ack pending status", `{"type":"ack","data":{"packet_id":5,"status":"pending"}}`},
		{"ack unknown status", `{"type":"ack","data":{"packet_id":5,"status":"maybe"}}`},
		{"reaction without emoji", `{"type":"reaction","data":{"packet_id":5,"sender":"!1"}}`},
		{"channels duplicate", `{"type":"channels","data":[{"index":0},{"index":0}]}`},
		{"nodes duplicate", `{"type":"nodes","data":[{"id":"!1"},{"id":"!1"}]}`},
		{"status empty", `{"type":"status","data":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := fixedDecoder().Decode([]byte(tt.raw))
			if err == nil {
				t.Fatalf("expected error, got %#v", ev)
			}
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("error %v does not wrap ErrMalformed", err)
			}
		})
	}
}

func TestDecode_ChannelMessage(t *testing.T) {
	ev, err := fixedDecoder().Decode([]byte(`{"type":"message","data":{"packet_id":42,"sender":"!00000002","receiver":"^all","channel":1,"text":"hello","timestamp":1700000100,"hop_start":3,"hop_limit":1,"reply_id":41}}`))
	if err != nil {
		t.Fatal(err)
	}
	m := ev.(MessageReceived).Message
	if m.Chat != model.ChannelChat(1) {
		t.Errorf("chat = %v", m.Chat)
	}
	if m.PacketID != 42 || m.ReplyID != "41" {
		t.Errorf("ids = %d %q", m.PacketID, m.ReplyID)
	}
	if m.Outgoing || m.Ack != model.AckReceived {
		t.Errorf("incoming message: outgoing=%v ack=%s", m.Outgoing, m.Ack)
	}
	if hops, ok := m.HopCount(); !ok || hops != 2 {
		t.Errorf("hops = %d %v", hops, ok)
	}
	if !m.Timestamp.Equal(time.Unix(1700000100, 0)) {
		t.Errorf("timestamp = %v", m.Timestamp)
	}
}

func TestDecode_BroadcastDefaultsToPrimaryChannel(t *testing.T) {
	ev, err := fixedDecoder().Decode([]byte(`{"type":"message","data":{"sender":"!2","receiver":"!ffffffff","text":"hi"}}`))
	if err != nil {
		t.Fatal(err)
	}
	m := ev.(MessageReceived).Message
	if m.Chat != model.ChannelChat(0) {
		t.Errorf("chat = %v, want channel:0", m.Chat)
	}
	if !m.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("missing timestamp should default to now, got %v", m.Timestamp)
	}
}

func TestDecode_DirectMessageChat(t *testing.T) {
	d := fixedDecoder()
	if _, err := d.Decode([]byte(`{"type":"status","data":{"my_node_id":"!0000000a"}}`)); err != nil {
		t.Fatal(err)
	}
	if d.MyNodeID() != "!0000000a" {
		t.Fatalf("my node id = %q", d.MyNodeID())
	}

	ev, err := d.Decode([]byte(`{"type":"message","data":{"sender":"!0000000b","receiver":"!0000000a","text":"ping"}}`))
	if err != nil {
		t.Fatal(err)
	}
	in := ev.(MessageReceived).Message
	if in.Chat != model.DMChat("!0000000b") || in.Outgoing {
		t.Errorf("incoming dm = chat %v outgoing %v", in.Chat, in.Outgoing)
	}

	ev, err = d.Decode([]byte(`{"type":"message","data":{"packet_id":9,"sender":"!0000000a","receiver":"!0000000b","text":"pong","ack_status":"ack"}}`))
	if err != nil {
		t.Fatal(err)
	}
	out := ev.(MessageReceived).Message
	if out.Chat != model.DMChat("!0000000b") {
		t.Errorf("echo chat = %v, want dm with peer", out.Chat)
	}
	if !out.Outgoing || out.Ack != model.AckConfirmed {
		t.Errorf("echo outgoing=%v ack=%s", out.Outgoing, out.Ack)
	}
}

func TestDecode_AckAndReaction(t *testing.T) {
	d := fixedDecoder()
	ev, err := d.Decode([]byte(`{"type":"ack","data":{"packet_id":"77","status":"implicit_ack"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := ev.(AckUpdated); got.PacketID != 77 || got.Status != model.AckImplicit {
		t.Errorf("ack = %+v", got)
	}

	ev, err = d.Decode([]byte(`{"type":"reaction","data":{"packet_id":77,"emoji":"👍","sender":"3"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := ev.(ReactionAdded); got.PacketID != 77 || got.Emoji != "👍" || got.Sender != "!00000003" {
		t.Errorf("reaction = %+v", got)
	}
}

func TestDecode_Snapshots(t *testing.T) {
	d := fixedDecoder()
	ev, err := d.Decode([]byte(`{"type":"channels","data":[{"index":0,"name":"LongFast","role":"PRIMARY"},{"index":2}]}`))
	if err != nil {
		t.Fatal(err)
	}
	cs := ev.(ChannelsSnapshot)
	if len(cs.Channels) != 2 || cs.Channels[0].Name != "LongFast" {
		t.Errorf("channels = %+v", cs.Channels)
	}
	if !IsSnapshot(ev) {
		t.Error("channels should be a snapshot")
	}

	ev, err = d.Decode([]byte(`{"type":"nodes","data":[{"id":"!1","lastHeard":5},{"num":2}]}`))
	if err != nil {
		t.Fatal(err)
	}
	ns := ev.(NodesSnapshot)
	if len(ns.Nodes) != 2 || ns.Nodes[1].ID != "!00000002" {
		t.Errorf("nodes = %+v", ns.Nodes)
	}
}

func TestEncodeSendText(t *testing.T) {
	raw, err := EncodeSendText(model.Message{ID: "local-1", PacketID: 99, Chat: model.DMChat("!2"), Text: "hi", ReplyID: "12"})
	if err != nil {
		t.Fatal(err)
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatal(err)
	}
	if f.Type != FrameSendText {
		t.Errorf("type = %q", f.Type)
	}
	var p SendTextPayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.PacketID != 99 || p.To != "!2" || p.Text != "hi" || p.ReplyID != "12" {
		t.Errorf("payload = %+v", p)
	}

	if _, err := EncodeSendText(model.Message{Text: "x"}); err == nil {
		t.Error("expected error for message without chat")
	}
}

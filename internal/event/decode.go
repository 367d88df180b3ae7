package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/meshsync/internal/model"
)

var (
	// ErrMalformed wraps every rejection at the decoding boundary.
	ErrMalformed   = errors.New("event: malformed frame")
	ErrUnknownType = fmt.Errorf("%w: unknown type", ErrMalformed)
)

func malformed(format string, v ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, v...))
}

// Decoder turns gateway frames into events. It remembers the local node id
// from status frames so it can tell outgoing echoes from incoming traffic.
// A Decoder is used from a single goroutine.
type Decoder struct {
	myNodeID string
	now      func() time.Time
}

func NewDecoder() *Decoder {
	return &Decoder{now: time.Now}
}

func (d *Decoder) MyNodeID() string { return d.myNodeID }

// Decode parses one frame. Heartbeats yield (nil, nil).
func (d *Decoder) Decode(raw []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, malformed("envelope: %v", err)
	}
	switch f.Type {
	case FrameHeartbeat:
		return nil, nil
	case FrameNode:
		var p NodePayload
		if err := unmarshalData(f, &p); err != nil {
			return nil, err
		}
		n, err := p.toNode()
		if err != nil {
			return nil, err
		}
		return NodeAnnounced{Node: n}, nil
	case FrameNodes:
		var ps []NodePayload
		if err := unmarshalData(f, &ps); err != nil {
			return nil, err
		}
		nodes := make([]model.Node, 0, len(ps))
		seen := make(map[string]struct{}, len(ps))
		for i, p := range ps {
			n, err := p.toNode()
			if err != nil {
				return nil, fmt.Errorf("nodes[%d]: %w", i, err)
			}
			if _, dup := seen[n.ID]; dup {
				return nil, malformed("nodes[%d]: duplicate id %s", i, n.ID)
			}
			seen[n.ID] = struct{}{}
			nodes = append(nodes, n)
		}
		return NodesSnapshot{Nodes: nodes}, nil
	case FrameMessage:
		var p MessagePayload
		if err := unmarshalData(f, &p); err != nil {
			return nil, err
		}
		m, err := d.toMessage(p)
		if err != nil {
			return nil, err
		}
		return MessageReceived{Message: m}, nil
	case FrameAck:
		var p AckPayload
		if err := unmarshalData(f, &p); err != nil {
			return nil, err
		}
		pid, ok := p.PacketID.uint32()
		if !ok || pid == 0 {
			return nil, malformed("ack: packet_id %q", p.PacketID)
		}
		st := model.AckStatus(p.Status)
		if !st.Terminal() || st == model.AckReceived {
			return nil, malformed("ack: status %q", p.Status)
		}
		return AckUpdated{PacketID: model.PacketID(pid), Status: st}, nil
	case FrameReaction:
		var p ReactionPayload
		if err := unmarshalData(f, &p); err != nil {
			return nil, err
		}
		pid, ok := p.PacketID.uint32()
		if !ok || pid == 0 {
			return nil, malformed("reaction: packet_id %q", p.PacketID)
		}
		sender := model.FormatNodeID(p.Sender)
		if p.Emoji == "" || sender == "" {
			return nil, malformed("reaction: emoji and sender required")
		}
		return ReactionAdded{PacketID: model.PacketID(pid), Emoji: p.Emoji, Sender: sender}, nil
	case FrameChannels:
		var ps []ChannelPayload
		if err := unmarshalData(f, &ps); err != nil {
			return nil, err
		}
		chans := make([]model.Channel, 0, len(ps))
		seen := make(map[int]struct{}, len(ps))
		for _, p := range ps {
			if p.Index < 0 {
				return nil, malformed("channels: negative index %d", p.Index)
			}
			if _, dup := seen[p.Index]; dup {
				return nil, malformed("channels: duplicate index %d", p.Index)
			}
			seen[p.Index] = struct{}{}
			chans = append(chans, model.Channel{Index: p.Index, Name: p.Name, Role: p.Role})
		}
		return ChannelsSnapshot{Channels: chans}, nil
	case FrameStatus:
		var p StatusPayload
		if err := unmarshalData(f, &p); err != nil {
			return nil, err
		}
		id := model.FormatNodeID(p.MyNodeID)
		if id == "" {
			return nil, malformed("status: my_node_id required")
		}
		d.myNodeID = id
		return StatusUpdated{MyNodeID: id}, nil
	case "":
		return nil, malformed("missing type")
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownType, f.Type)
}

func unmarshalData(f Frame, v any) error {
	if len(f.Data) == 0 {
		return malformed("%s: missing data", f.Type)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return malformed("%s: %v", f.Type, err)
	}
	return nil
}

func (p NodePayload) toNode() (model.Node, error) {
	id := model.FormatNodeID(p.ID)
	if id == "" && p.User != nil {
		id = model.FormatNodeID(p.User.ID)
	}
	if id == "" && p.Num != 0 {
		id = model.NodeIDFromNum(p.Num)
	}
	if id == "" {
		return model.Node{}, malformed("node: id required")
	}
	if p.LastHeard < 0 {
		return model.Node{}, malformed("node %s: negative lastHeard", id)
	}
	n := model.Node{
		ID:        id,
		Num:       p.Num,
		LastHeard: p.LastHeard,
		SNR:       p.SNR,
		RSSI:      p.RSSI,
		HopsAway:  p.HopsAway,
		Favorite:  p.IsFavorite,
	}
	if p.User != nil {
		n.LongName = p.User.LongName
		n.ShortName = p.User.ShortName
	}
	if p.Metrics != nil {
		n.Metrics = &model.DeviceMetrics{
			BatteryLevel:       p.Metrics.BatteryLevel,
			Voltage:            p.Metrics.Voltage,
			ChannelUtilization: p.Metrics.ChannelUtilization,
			AirUtilTx:          p.Metrics.AirUtilTx,
		}
	}
	return n, nil
}

func (d *Decoder) toMessage(p MessagePayload) (model.Message, error) {
	sender := model.FormatNodeID(p.Sender)
	if sender == "" {
		return model.Message{}, malformed("message: sender required")
	}
	if p.Text == "" {
		return model.Message{}, malformed("message: text required")
	}
	var pid uint32
	if p.PacketID != "" {
		n, ok := p.PacketID.uint32()
		if !ok {
			return model.Message{}, malformed("message: packet_id %q", p.PacketID)
		}
		pid = n
	}
	ts := d.now().UTC()
	if p.Timestamp != "" {
		t, err := model.ParseTimestamp(string(p.Timestamp))
		if err != nil {
			return model.Message{}, malformed("message: %v", err)
		}
		ts = t
	}

	outgoing := p.IsOutgoing || (d.myNodeID != "" && sender == d.myNodeID)
	to := model.FormatNodeID(p.To)
	var chat model.ChatID
	switch {
	case to != "" && !model.IsBroadcast(to):
		peer := sender
		if outgoing {
			peer = to
		}
		chat = model.DMChat(peer)
	default:
		idx := 0
		if p.Channel != nil {
			idx = *p.Channel
		}
		if idx < 0 {
			return model.Message{}, malformed("message: negative channel %d", idx)
		}
		chat = model.ChannelChat(idx)
	}

	ack := model.AckReceived
	if outgoing {
		ack = model.AckStatus(p.AckStatus)
		if !ack.Valid() || ack == model.AckReceived {
			ack = model.AckPending
		}
	}

	return model.Message{
		ID:        string(p.ID),
		PacketID:  model.PacketID(pid),
		Chat:      chat,
		Sender:    sender,
		Text:      p.Text,
		Timestamp: ts,
		HopStart:  p.HopStart,
		HopLimit:  p.HopLimit,
		SNR:       p.SNR,
		RSSI:      p.RSSI,
		ReplyID:   string(p.ReplyID),
		Outgoing:  outgoing,
		Ack:       ack,
	}, nil
}

// EncodeSnapshotRequest builds the frame asking the gateway for nodes,
// channels and status.
func EncodeSnapshotRequest() []byte {
	b, _ := json.Marshal(Frame{Type: FrameGetSnapshot})
	return b
}

// EncodeSendText builds the transmit frame for an outgoing message.
func EncodeSendText(m model.Message) ([]byte, error) {
	p := SendTextPayload{
		ID:       m.ID,
		PacketID: uint32(m.PacketID),
		Text:     m.Text,
		ReplyID:  m.ReplyID,
	}
	switch m.Chat.Kind {
	case model.ChatKindDM:
		p.To = m.Chat.NodeID
	case model.ChatKindChannel:
		p.Channel = m.Chat.Index
	default:
		return nil, fmt.Errorf("event: send_text: %w", model.ErrInvalidChatID)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("event: send_text: %w", err)
	}
	return json.Marshal(Frame{Type: FrameSendText, Data: data})
}

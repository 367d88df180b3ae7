package model

import (
	"fmt"
	"strconv"
	"strings"
)

// BroadcastNodeID is the mesh address used for "to everyone".
const BroadcastNodeID = "!ffffffff"

// IsBroadcast reports whether id addresses every node.
func IsBroadcast(id string) bool {
	return id == BroadcastNodeID || id == "^all" || FormatNodeID(id) == BroadcastNodeID
}

// DeviceMetrics is the telemetry a node reports about itself. Nil fields were
// never reported.
type DeviceMetrics struct {
	BatteryLevel       *int     `json:"batteryLevel,omitempty"`
	Voltage            *float64 `json:"voltage,omitempty"`
	ChannelUtilization *float64 `json:"channelUtilization,omitempty"`
	AirUtilTx          *float64 `json:"airUtilTx,omitempty"`
}

// Node is a known mesh participant keyed by its radio address.
type Node struct {
	ID        string         `json:"id"`
	Num       uint32         `json:"num,omitempty"`
	LongName  *string        `json:"longName,omitempty"`
	ShortName *string        `json:"shortName,omitempty"`
	LastHeard int64          `json:"lastHeard,omitempty"` // seconds, radio clock
	Metrics   *DeviceMetrics `json:"deviceMetrics,omitempty"`
	SNR       *float64       `json:"snr,omitempty"`
	RSSI      *int           `json:"rssi,omitempty"`
	HopsAway  *int           `json:"hopsAway,omitempty"`
	Favorite  bool           `json:"isFavorite"`
	Stale     bool           `json:"stale,omitempty"`
}

// DisplayName falls back from long name to short name to id.
func (n Node) DisplayName() string {
	if n.LongName != nil && *n.LongName != "" {
		return *n.LongName
	}
	if n.ShortName != nil && *n.ShortName != "" {
		return *n.ShortName
	}
	if n.ID != "" {
		return n.ID
	}
	return "Unknown"
}

// Clone returns a copy that shares no pointers with n.
func (n Node) Clone() Node {
	out := n
	out.LongName = clonePtr(n.LongName)
	out.ShortName = clonePtr(n.ShortName)
	out.SNR = clonePtr(n.SNR)
	out.RSSI = clonePtr(n.RSSI)
	out.HopsAway = clonePtr(n.HopsAway)
	if n.Metrics != nil {
		m := DeviceMetrics{
			BatteryLevel:       clonePtr(n.Metrics.BatteryLevel),
			Voltage:            clonePtr(n.Metrics.Voltage),
			ChannelUtilization: clonePtr(n.Metrics.ChannelUtilization),
			AirUtilTx:          clonePtr(n.Metrics.AirUtilTx),
		}
		out.Metrics = &m
	}
	return out
}

// Merge overlays the fields present in in onto n. Absent fields keep their
// current value. Favorite is local state and is not taken from in.
func (n *Node) Merge(in Node) {
	if in.Num != 0 {
		n.Num = in.Num
	}
	if in.LongName != nil {
		n.LongName = clonePtr(in.LongName)
	}
	if in.ShortName != nil {
		n.ShortName = clonePtr(in.ShortName)
	}
	if in.LastHeard != 0 {
		n.LastHeard = in.LastHeard
	}
	if in.SNR != nil {
		n.SNR = clonePtr(in.SNR)
	}
	if in.RSSI != nil {
		n.RSSI = clonePtr(in.RSSI)
	}
	if in.HopsAway != nil {
		n.HopsAway = clonePtr(in.HopsAway)
	}
	if in.Metrics != nil {
		if n.Metrics == nil {
			n.Metrics = &DeviceMetrics{}
		}
		if in.Metrics.BatteryLevel != nil {
			n.Metrics.BatteryLevel = clonePtr(in.Metrics.BatteryLevel)
		}
		if in.Metrics.Voltage != nil {
			n.Metrics.Voltage = clonePtr(in.Metrics.Voltage)
		}
		if in.Metrics.ChannelUtilization != nil {
			n.Metrics.ChannelUtilization = clonePtr(in.Metrics.ChannelUtilization)
		}
		if in.Metrics.AirUtilTx != nil {
			n.Metrics.AirUtilTx = clonePtr(in.Metrics.AirUtilTx)
		}
	}
}

// FormatNodeID normalizes a node address. Ids already in "!hex" form are
// returned as is; decimal node numbers are rendered as "!%08x".
func FormatNodeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, "!") {
		return id
	}
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return id
	}
	return NodeIDFromNum(uint32(n))
}

// NodeIDFromNum renders a node number as its "!hex" address.
func NodeIDFromNum(num uint32) string {
	return fmt.Sprintf("!%08x", num)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

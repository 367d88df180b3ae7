package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/meshsync/internal/engine"
	"github.com/meshsync/internal/session"
	"github.com/meshsync/internal/ws"
)

type StatusHandler struct {
	eng *engine.Engine
	hub *ws.Hub
	// base outlives requests; the gateway link started by Connect runs on it.
	base context.Context
}

func NewStatusHandler(base context.Context, eng *engine.Engine, hub *ws.Hub) *StatusHandler {
	return &StatusHandler{eng: eng, hub: hub, base: base}
}

type StatusResponse struct {
	Link        session.Status `json:"link"`
	Revision    uint64         `json:"revision"`
	MyNodeID    string         `json:"my_node_id,omitempty"`
	Nodes       int            `json:"nodes"`
	Channels    int            `json:"channels"`
	Unread      int            `json:"unread"`
	Subscribers int            `json:"subscribers"`
	UptimeSec   int64          `json:"uptime_sec"`
}

var startedAt = time.Now()

func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	m := h.eng.Model()
	nodes, _ := m.Nodes()
	unread := 0
	for _, n := range h.eng.Views().UnreadAll() {
		unread += n
	}
	resp := StatusResponse{
		Link:      h.eng.Status(),
		Revision:  m.GlobalRevision(),
		MyNodeID:  m.MyNodeID(),
		Nodes:     len(nodes),
		Channels:  len(m.Channels()),
		Unread:    unread,
		UptimeSec: int64(time.Since(startedAt).Seconds()),
	}
	if h.hub != nil {
		resp.Subscribers = h.hub.Count()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *StatusHandler) Connect(w http.ResponseWriter, r *http.Request) {
	h.eng.Connect(h.base)
	writeJSON(w, http.StatusAccepted, h.eng.Status())
}

func (h *StatusHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.eng.Disconnect()
	writeJSON(w, http.StatusOK, h.eng.Status())
}

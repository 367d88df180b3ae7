package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/meshsync/internal/logger"
	"github.com/meshsync/internal/ws"
)

// WSHandler attaches renderer websockets to the hub. Connections live until
// the client leaves or base is done.
type WSHandler struct {
	base context.Context
	hub  *ws.Hub
	// origins is nil when any origin may connect.
	origins map[string]struct{}
	up      websocket.Upgrader
}

// NewWSHandler takes allowedOrigins in the CORS form: comma separated or "*".
func NewWSHandler(base context.Context, hub *ws.Hub, allowedOrigins string) *WSHandler {
	h := &WSHandler{base: base, hub: hub}
	if list := strings.TrimSpace(allowedOrigins); list != "" && list != "*" {
		h.origins = make(map[string]struct{})
		for _, o := range strings.Split(list, ",") {
			if o = strings.TrimSpace(o); o != "" {
				h.origins[o] = struct{}{}
			}
		}
	}
	h.up = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.originAllowed,
	}
	return h
}

// originAllowed lets native renderers, which send no Origin, through.
func (h *WSHandler) originAllowed(r *http.Request) bool {
	if h.origins == nil {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	_, ok := h.origins[origin]
	return ok
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.originAllowed(r) {
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}
	if h.hub.Full() {
		writeError(w, http.StatusServiceUnavailable, "renderer limit reached")
		return
	}
	conn, err := h.up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logger.Warnf("ws upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	c := ws.NewClient(h.hub, conn)
	c.Start(h.base)
	h.hub.Register(c)
}

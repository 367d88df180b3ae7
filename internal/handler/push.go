package handler

import (
	"errors"
	"net/http"

	"github.com/meshsync/internal/push"
)

// PushHandler manages browser push subscriptions. A nil notifier means push
// is not configured.
type PushHandler struct {
	n *push.Notifier
}

func NewPushHandler(n *push.Notifier) *PushHandler {
	return &PushHandler{n: n}
}

func (h *PushHandler) VAPIDPublic(w http.ResponseWriter, r *http.Request) {
	if h.n == nil {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(h.n.PublicKey()))
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if h.n == nil {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	var sub push.Subscription
	if err := decodeBody(r, &sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.n.Subscriptions().Add(sub); err != nil {
		if errors.Is(err, push.ErrInvalidSubscription) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if h.n == nil {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := decodeBody(r, &req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	h.n.Subscriptions().Remove(req.Endpoint)
	w.WriteHeader(http.StatusNoContent)
}

package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/meshsync/internal/engine"
	"github.com/meshsync/internal/model"
	"github.com/meshsync/internal/view"
)

type ChatHandler struct {
	eng *engine.Engine
}

func NewChatHandler(eng *engine.Engine) *ChatHandler {
	return &ChatHandler{eng: eng}
}

// ChannelItem is one channel row with its unread badge.
type ChannelItem struct {
	model.Channel
	Chat        model.ChatID `json:"chat"`
	DisplayName string       `json:"display_name"`
	Unread      int          `json:"unread"`
}

type ThreadResponse struct {
	Chat     model.ChatID  `json:"chat"`
	Unread   int           `json:"unread"`
	LastRead *time.Time    `json:"last_read,omitempty"`
	Bubbles  []view.Bubble `json:"bubbles"`
}

type SendMessageRequest struct {
	Text    string `json:"text"`
	ReplyID string `json:"reply_id,omitempty"`
}

type MarkReadRequest struct {
	// At is optional; zero marks everything read.
	At time.Time `json:"at"`
}

func (h *ChatHandler) Channels(w http.ResponseWriter, r *http.Request) {
	channels := h.eng.Model().Channels()
	out := make([]ChannelItem, 0, len(channels))
	for _, c := range channels {
		chat := model.ChannelChat(c.Index)
		out = append(out, ChannelItem{
			Channel:     c,
			Chat:        chat,
			DisplayName: c.DisplayName(),
			Unread:      h.eng.Views().Unread(chat),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Unread serves the per-chat unread badges; chats with nothing unread are
// omitted.
func (h *ChatHandler) Unread(w http.ResponseWriter, r *http.Request) {
	counts := h.eng.Views().UnreadAll()
	out := make(map[string]int, len(counts))
	for c, n := range counts {
		out[c.String()] = n
	}
	writeJSON(w, http.StatusOK, out)
}

// Messages serves the rendered thread. limit keeps the newest N bubbles.
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	chat, err := chatParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bubbles := h.eng.Views().Thread(chat)
	if limit := queryInt(r, "limit", 0); limit > 0 && limit < len(bubbles) {
		bubbles = bubbles[len(bubbles)-limit:]
	}
	if bubbles == nil {
		bubbles = []view.Bubble{}
	}
	resp := ThreadResponse{
		Chat:    chat,
		Unread:  h.eng.Views().Unread(chat),
		Bubbles: bubbles,
	}
	if t, ok := h.eng.Model().LastRead(chat); ok {
		resp.LastRead = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	chat, err := chatParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req SendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	msg, err := h.eng.SendMessage(r.Context(), chat, req.Text, req.ReplyID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, msg)
	case errors.Is(err, engine.ErrEmptyText), errors.Is(err, engine.ErrTextTooLong), errors.Is(err, model.ErrInvalidChatID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNotSent):
		// the failed message is in the log; hand it back so the client can show it
		writeJSON(w, http.StatusServiceUnavailable, msg)
	default:
		writeError(w, http.StatusInternalServerError, "failed to send message")
	}
}

func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	chat, err := chatParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req MarkReadRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.eng.SetLastRead(r.Context(), chat, req.At); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save read marker")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": chat, "unread": h.eng.Views().Unread(chat)})
}

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/meshsync/internal/engine"
	"github.com/meshsync/internal/logger"
	"github.com/meshsync/internal/model"
	"github.com/meshsync/internal/state"
	"github.com/meshsync/internal/view"
)

// Engine is the part of *engine.Engine the hub drives.
type Engine interface {
	Subscribe() (<-chan engine.Change, func())
	Snapshot() model.Snapshot
	Views() *view.Cache
	SendMessage(ctx context.Context, chat model.ChatID, text, replyID string) (model.Message, error)
	SetLastRead(ctx context.Context, chat model.ChatID, at time.Time) error
	SetFavorite(ctx context.Context, nodeID string, favorite bool) error
}

// Hub fans engine changes out to every connected renderer and runs the
// commands renderers send back.
type Hub struct {
	eng        Engine
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	maxConns   int
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(eng Engine, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 64
	}
	return &Hub{
		eng:        eng,
		clients:    make(map[*Client]struct{}),
		maxConns:   maxConns,
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	changes, unsubscribe := h.eng.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			h.stop()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case c, ok := <-changes:
			if !ok {
				h.stop()
				return
			}
			h.broadcast(OutgoingMessage{Type: EventChange, Payload: h.changePayload(c)})
		}
	}
}

// Full reports whether another renderer would exceed the connection limit.
func (h *Hub) Full() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) >= h.maxConns
}

// Count returns the number of connected renderers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// stop closes done first so pumps exiting during shutdown do not block on
// Unregister.
func (h *Hub) stop() {
	close(h.done)
	for drained := false; !drained; {
		select {
		case c := <-h.register:
			c.Close()
		default:
			drained = true
		}
	}
	h.shutdown()
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting client=%s", h.maxConns, c.id)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logger.Infof("ws renderer connected client=%s", c.id)
	h.sendToClient(c, OutgoingMessage{Type: EventSnapshot, Payload: h.eng.Snapshot()})
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()
	logger.Infof("ws renderer disconnected client=%s", c.id)
}

func (h *Hub) changePayload(c engine.Change) ChangePayload {
	p := ChangePayload{Revision: c.Revision, Kind: c.Kind, Status: c.Status}
	for _, k := range c.Keys {
		p.Keys = append(p.Keys, k.String())
		if k.Kind == state.KeyChat {
			if p.Unread == nil {
				p.Unread = make(map[string]int)
			}
			p.Unread[k.Chat.String()] = h.eng.Views().Unread(k.Chat)
		}
	}
	return p
}

// HandleMessage dispatches a command decodeCommand accepted.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.HandleMessage "+string(msg.Type), time.Now())()
	switch msg.Type {
	case EventSendText:
		h.handleSendText(ctx, c, msg)
	case EventMarkRead:
		h.handleMarkRead(ctx, c, msg)
	case EventSetFavorite:
		if err := h.eng.SetFavorite(ctx, msg.NodeID, msg.Favorite); err != nil {
			h.replyError(c, msg, err.Error())
		}
	case EventGetSnapshot:
		h.sendToClient(c, OutgoingMessage{Type: EventSnapshot, RequestID: msg.RequestID, Payload: h.eng.Snapshot()})
	default:
		h.replyError(c, msg, "unknown event type")
	}
}

func (h *Hub) handleSendText(ctx context.Context, c *Client, msg IncomingMessage) {
	sent, err := h.eng.SendMessage(ctx, msg.Chat, msg.Text, msg.ReplyID)
	if err != nil && !errors.Is(err, engine.ErrNotSent) {
		h.replyError(c, msg, err.Error())
		return
	}
	h.sendToClient(c, OutgoingMessage{Type: EventMessageSent, RequestID: msg.RequestID, Payload: sent})
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Client, msg IncomingMessage) {
	if err := h.eng.SetLastRead(ctx, msg.Chat, msg.At); err != nil {
		h.replyError(c, msg, err.Error())
	}
}

func (h *Hub) replyError(c *Client, msg IncomingMessage, text string) {
	h.sendToClient(c, OutgoingMessage{Type: EventError, RequestID: msg.RequestID, Payload: ErrorPayload{Error: text}})
}

func (h *Hub) broadcast(msg OutgoingMessage) {
	frame, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("ws encode %s: %v", msg.Type, err)
		return
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.queue(c, frame)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	frame, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("ws encode %s: %v", msg.Type, err)
		return
	}
	h.queue(c, frame)
}

func (h *Hub) queue(c *Client, frame []byte) {
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client=%s", c.id)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

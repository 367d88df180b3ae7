// Package sessiontest runs an in-process mesh gateway for tests.
package sessiontest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Gateway accepts websocket links and hands each one to the test.
type Gateway struct {
	srv   *httptest.Server
	conns chan *Conn

	mu      sync.Mutex
	accepts int
}

// Conn is one accepted link. Frames the client writes arrive on In.
type Conn struct {
	ws *websocket.Conn
	In chan []byte
	mu sync.Mutex
}

func NewGateway(t testing.TB) *Gateway {
	t.Helper()
	g := &Gateway{conns: make(chan *Conn, 8)}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &Conn{ws: ws, In: make(chan []byte, 64)}
		g.mu.Lock()
		g.accepts++
		g.mu.Unlock()
		g.conns <- c
		defer close(c.In)
		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				return
			}
			select {
			case c.In <- raw:
			default:
			}
		}
	}))
	t.Cleanup(g.srv.Close)
	return g
}

// URL is the ws:// address of the gateway.
func (g *Gateway) URL() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *Gateway) Accepts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.accepts
}

// Accept waits for the next link.
func (g *Gateway) Accept(t testing.TB) *Conn {
	t.Helper()
	select {
	case c := <-g.conns:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("gateway: no connection")
		return nil
	}
}

// Next waits for the next frame from the client and returns its type and
// raw data.
func (c *Conn) Next(t testing.TB) (string, json.RawMessage) {
	t.Helper()
	select {
	case raw, ok := <-c.In:
		if !ok {
			t.Fatal("gateway: link closed")
		}
		var f struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("gateway: bad frame %q: %v", raw, err)
		}
		return f.Type, f.Data
	case <-time.After(5 * time.Second):
		t.Fatal("gateway: no frame")
		return "", nil
	}
}

// Send writes a raw text frame to the client.
func (c *Conn) Send(t testing.TB, frame string) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("gateway: write: %v", err)
	}
}

// SendSnapshot writes a nodes frame and a channels frame.
func (c *Conn) SendSnapshot(t testing.TB, nodes, channels string) {
	t.Helper()
	c.Send(t, `{"type":"nodes","data":`+nodes+`}`)
	c.Send(t, `{"type":"channels","data":`+channels+`}`)
}

// Drop closes the link from the gateway side.
func (c *Conn) Drop() {
	c.ws.Close()
}

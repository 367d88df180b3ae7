package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/meshsync/internal/logger"
	"github.com/meshsync/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxCommandSize = 4096
	sendQueueSize  = 256

	// renderers may issue commands in bursts, e.g. marking many chats read
	commandsPerSec = 20
	commandBurst   = 40
)

var (
	errBadJSON        = errors.New("invalid json")
	errUnknownCommand = errors.New("unknown event type")
	errChatID         = errors.New("chat_id invalid")
	errNodeID         = errors.New("node_id required")
	errRateLimited    = errors.New("rate limited")
)

// Client is one renderer connection. The hub queues encoded frames on send;
// writeLoop is the only writer and readLoop the only reader.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string
	send chan []byte
	cmds *rate.Limiter

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		id:   uuid.NewString(),
		send: make(chan []byte, sendQueueSize),
		cmds: rate.NewLimiter(commandsPerSec, commandBurst),
		done: make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Start runs the read and write loops under a child of ctx. It must be
// called before the client is registered.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(2)
	go c.writeLoop(ctx)
	go c.readLoop(ctx)
}

func (c *Client) Wait() { c.wg.Wait() }

// Close stops both loops. Safe to call more than once from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.conn.Close()
	})
}

// decodeCommand parses one renderer frame and checks the fields its type
// needs. The returned message keeps the request id even on error so the
// reply can echo it.
func decodeCommand(raw []byte) (IncomingMessage, error) {
	var msg IncomingMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return IncomingMessage{}, errBadJSON
	}
	switch msg.Type {
	case EventSendText, EventMarkRead:
		chat, err := model.ParseChatID(msg.ChatID)
		if err != nil {
			return msg, errChatID
		}
		msg.Chat = chat
	case EventSetFavorite:
		if strings.TrimSpace(msg.NodeID) == "" {
			return msg, errNodeID
		}
	case EventGetSnapshot:
	default:
		return msg, errUnknownCommand
	}
	return msg, nil
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxCommandSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("ws renderer read client=%s: %v", c.id, err)
			}
			return
		}
		cmd, err := decodeCommand(raw)
		if err == nil && !c.cmds.Allow() {
			err = errRateLimited
		}
		if err != nil {
			c.hub.replyError(c, cmd, err.Error())
			continue
		}
		c.hub.HandleMessage(ctx, c, cmd)
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			bye := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			c.conn.WriteControl(websocket.CloseMessage, bye, time.Now().Add(time.Second))
			return
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				logger.Debugf("ws renderer write client=%s: %v", c.id, err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Client) write(typ int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(typ, data)
}

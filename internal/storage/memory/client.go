package memory

import (
	"context"
	"sync"
	"time"

	"github.com/meshsync/internal/model"
)

type Client struct {
	mu        sync.RWMutex
	lastRead  map[model.ChatID]time.Time
	favorites map[string]bool
}

func New() *Client {
	return &Client{
		lastRead:  make(map[model.ChatID]time.Time),
		favorites: make(map[string]bool),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) LoadLastRead(ctx context.Context) (map[model.ChatID]time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[model.ChatID]time.Time, len(c.lastRead))
	for k, v := range c.lastRead {
		out[k] = v
	}
	return out, nil
}

func (c *Client) SetLastRead(ctx context.Context, chat model.ChatID, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.lastRead[chat]; ok && !at.After(cur) {
		return nil
	}
	c.lastRead[chat] = at
	return nil
}

func (c *Client) LoadFavorites(ctx context.Context) (map[string]bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]bool, len(c.favorites))
	for k := range c.favorites {
		out[k] = true
	}
	return out, nil
}

func (c *Client) SetFavorite(ctx context.Context, nodeID string, favorite bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if favorite {
		c.favorites[nodeID] = true
	} else {
		delete(c.favorites, nodeID)
	}
	return nil
}

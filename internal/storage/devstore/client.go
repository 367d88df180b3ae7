package devstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/meshsync/internal/model"
	"github.com/meshsync/internal/storage/memory"
)

// Client implements MarkerStore for running without Redis: markers live in
// memory and every write is flushed to a JSON file, so they survive restarts.
type Client struct {
	mem  *memory.Client
	path string
	mu   sync.Mutex
}

type fileState struct {
	LastRead  map[model.ChatID]int64 `json:"last_read"`
	Favorites []string               `json:"favorites"`
}

// New loads path if it exists. A missing file starts empty.
func New(ctx context.Context, path string) (*Client, error) {
	c := &Client{mem: memory.New(), path: path}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("devstore read %s: %w", path, err)
	}
	var st fileState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("devstore decode %s: %w", path, err)
	}
	for chat, ms := range st.LastRead {
		c.mem.SetLastRead(ctx, chat, time.UnixMilli(ms).UTC())
	}
	for _, id := range st.Favorites {
		c.mem.SetFavorite(ctx, id, true)
	}
	return c, nil
}

func (c *Client) Close() error { return c.mem.Close() }

func (c *Client) LoadLastRead(ctx context.Context) (map[model.ChatID]time.Time, error) {
	return c.mem.LoadLastRead(ctx)
}
func (c *Client) LoadFavorites(ctx context.Context) (map[string]bool, error) {
	return c.mem.LoadFavorites(ctx)
}

func (c *Client) SetLastRead(ctx context.Context, chat model.ChatID, at time.Time) error {
	if err := c.mem.SetLastRead(ctx, chat, at); err != nil {
		return err
	}
	return c.flush(ctx)
}

func (c *Client) SetFavorite(ctx context.Context, nodeID string, favorite bool) error {
	if err := c.mem.SetFavorite(ctx, nodeID, favorite); err != nil {
		return err
	}
	return c.flush(ctx)
}

// flush rewrites the file through a temp file and rename.
func (c *Client) flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	lr, _ := c.mem.LoadLastRead(ctx)
	favs, _ := c.mem.LoadFavorites(ctx)
	st := fileState{LastRead: make(map[model.ChatID]int64, len(lr))}
	for chat, at := range lr {
		st.LastRead[chat] = at.UnixMilli()
	}
	for id := range favs {
		st.Favorites = append(st.Favorites, id)
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("devstore mkdir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("devstore write: %w", err)
	}
	return os.Rename(tmp, c.path)
}

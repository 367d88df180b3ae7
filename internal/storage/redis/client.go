package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meshsync/internal/logger"
	"github.com/meshsync/internal/model"
)

// Keys: hash meshsync:last_read (chat -> unix ms), set meshsync:favorites.
const (
	KeyLastRead  = "meshsync:last_read"
	KeyFavorites = "meshsync:favorites"
)

// setMax writes ARGV[2] into field ARGV[1] only when it is greater than the
// stored value, so concurrent writers cannot move a marker backwards.
var setMax = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur and tonumber(cur) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) LoadLastRead(ctx context.Context) (map[model.ChatID]time.Time, error) {
	raw, err := c.cli.HGetAll(ctx, KeyLastRead).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load last_read: %w", err)
	}
	out := make(map[model.ChatID]time.Time, len(raw))
	for field, val := range raw {
		chat, err := model.ParseChatID(field)
		if err != nil {
			logger.Warnf("redis: skip last_read field=%q: %v", field, err)
			continue
		}
		ms, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			logger.Warnf("redis: skip last_read chat=%s value=%q", chat, val)
			continue
		}
		out[chat] = time.UnixMilli(ms).UTC()
	}
	return out, nil
}

func (c *Client) SetLastRead(ctx context.Context, chat model.ChatID, at time.Time) error {
	err := setMax.Run(ctx, c.cli, []string{KeyLastRead}, chat.String(), at.UnixMilli()).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redis set last_read %s: %w", chat, err)
	}
	return nil
}

func (c *Client) LoadFavorites(ctx context.Context) (map[string]bool, error) {
	ids, err := c.cli.SMembers(ctx, KeyFavorites).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load favorites: %w", err)
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (c *Client) SetFavorite(ctx context.Context, nodeID string, favorite bool) error {
	var err error
	if favorite {
		err = c.cli.SAdd(ctx, KeyFavorites, nodeID).Err()
	} else {
		err = c.cli.SRem(ctx, KeyFavorites, nodeID).Err()
	}
	if err != nil {
		return fmt.Errorf("redis set favorite %s: %w", nodeID, err)
	}
	return nil
}

// FlushDB clears the current database. Used by tests and resets.
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}

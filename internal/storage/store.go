package storage

import (
	"context"
	"time"

	"github.com/meshsync/internal/model"
)

// MarkerStore keeps the client-owned state that outlives a gateway session:
// per-chat read markers and favorite nodes.
// Implementations: redis.Client, memory.Client, devstore.Client (file-backed, for running without Redis).
type MarkerStore interface {
	LoadLastRead(ctx context.Context) (map[model.ChatID]time.Time, error)
	// SetLastRead never moves a marker backwards.
	SetLastRead(ctx context.Context, chat model.ChatID, at time.Time) error
	LoadFavorites(ctx context.Context) (map[string]bool, error)
	SetFavorite(ctx context.Context, nodeID string, favorite bool) error
	Close() error
}

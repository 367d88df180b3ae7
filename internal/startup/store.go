package startup

import (
	"context"
	"time"

	"github.com/meshsync/internal/config"
	"github.com/meshsync/internal/logger"
	"github.com/meshsync/internal/storage"
	"github.com/meshsync/internal/storage/devstore"
	"github.com/meshsync/internal/storage/memory"
)

// OpenMarkerStore picks the marker backend from cfg: Redis, then a local
// file, then memory.
func OpenMarkerStore(ctx context.Context, cfg *config.Config) (storage.MarkerStore, error) {
	switch {
	case cfg.RedisURL != "":
		c, err := ConnectRedisWithRetry(ctx, cfg.RedisURL, 30*time.Second)
		if err != nil {
			return nil, err
		}
		logger.Infof("markers: redis")
		return c, nil
	case cfg.MarkerFile != "":
		c, err := devstore.New(ctx, cfg.MarkerFile)
		if err != nil {
			return nil, err
		}
		logger.Infof("markers: file %s", cfg.MarkerFile)
		return c, nil
	}
	logger.Infof("markers: memory (not persisted)")
	return memory.New(), nil
}

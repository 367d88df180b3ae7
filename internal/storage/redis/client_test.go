package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/meshsync/internal/model"
)

// Runs only against a real server: MESHSYNC_TEST_REDIS_URL=redis://localhost:6379/15
func newTestClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("MESHSYNC_TEST_REDIS_URL")
	if url == "" {
		t.Skip("MESHSYNC_TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, url)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.FlushDB(ctx); err != nil {
		t.Fatalf("FlushDB: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_LastReadMax(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	chat := model.ChannelChat(2)

	if err := c.SetLastRead(ctx, chat, time.UnixMilli(2000)); err != nil {
		t.Fatal(err)
	}
	if err := c.SetLastRead(ctx, chat, time.UnixMilli(1000)); err != nil {
		t.Fatal(err)
	}
	got, err := c.LoadLastRead(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got[chat].UnixMilli() != 2000 {
		t.Errorf("marker = %v, want 2000ms", got[chat])
	}
}

func TestClient_Favorites(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	c.SetFavorite(ctx, "!a", true)
	c.SetFavorite(ctx, "!b", true)
	c.SetFavorite(ctx, "!a", false)
	got, err := c.LoadFavorites(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got["!b"] {
		t.Errorf("favorites = %v", got)
	}
}

func TestNew_BadURL(t *testing.T) {
	if _, err := New(context.Background(), "://nope"); err == nil {
		t.Fatal("expected parse error")
	}
}

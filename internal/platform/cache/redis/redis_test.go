package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/MahdiBaghbani/localbox-go/internal/platform/cache"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/cache/redis"
)

func newTestCache(t *testing.T) (*redis.Cache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	c, err := redis.New(&redis.Config{Addr: s.Addr(), DialTimeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, s
}

func TestNew_FailFastUnreachable(t *testing.T) {
	_, err := redis.New(&redis.Config{
		Addr:        "localhost:59999",
		DialTimeout: 100 * time.Millisecond,
	}, nil)
	if err == nil {
		t.Fatal("expected error when connecting to unreachable Redis, got nil")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := redis.DefaultConfig()
	if cfg.Addr != "localhost:6379" {
		t.Errorf("expected default addr localhost:6379, got %s", cfg.Addr)
	}
	if cfg.KeyPrefix != "localbox:" {
		t.Errorf("expected default key prefix, got %q", cfg.KeyPrefix)
	}
}

func TestCache_SetGetDelete(t *testing.T) {
	c, s := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "auth:abc", []byte("alice"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !s.Exists("localbox:auth:abc") {
		t.Fatal("expected prefixed key in redis")
	}

	val, err := c.Get(ctx, "auth:abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "alice" {
		t.Errorf("expected alice, got %q", val)
	}

	ok, err := c.Exists(ctx, "auth:abc")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v; want true", ok, err)
	}

	if err := c.Delete(ctx, "auth:abc"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := c.Get(ctx, "auth:abc"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c, s := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "k", []byte("v"), 10*time.Second)
	s.FastForward(9 * time.Second)
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Fatalf("expected live entry before TTL: %v", err)
	}
	s.FastForward(time.Second)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after TTL, got %v", err)
	}
}

func TestRegisteredDriver(t *testing.T) {
	s := miniredis.RunT(t)
	c, err := cache.New("redis", map[string]any{
		"address":    s.Addr(),
		"key_prefix": "test:",
	}, nil)
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	defer c.Close()

	_ = c.Set(context.Background(), "x", []byte("1"), time.Minute)
	if !s.Exists("test:x") {
		t.Error("expected configured key prefix")
	}
	if _, ok := c.(cache.Sweeper); ok {
		t.Error("redis driver expires natively and should not implement Sweeper")
	}
}

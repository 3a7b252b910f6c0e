package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MahdiBaghbani/localbox-go/internal/platform/cache"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/cache/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newCache(t *testing.T) (*memory.Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := memory.New(time.Minute, 0, memory.WithClock(clock.Now))
	t.Cleanup(func() { _ = c.Close() })
	return c, clock
}

func TestCache_SetGet(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	val, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "value1" {
		t.Errorf("expected 'value1', got %q", string(val))
	}

	// returned slices are copies
	val[0] = 'X'
	again, _ := c.Get(ctx, "key1")
	if string(again) != "value1" {
		t.Errorf("cached value was mutated through the returned slice: %q", again)
	}
}

func TestCache_GetNotFound(t *testing.T) {
	c, _ := newCache(t)
	if _, err := c.Get(context.Background(), "nonexistent"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCache_LazyEvictionAtTTLBoundary(t *testing.T) {
	c, clock := newCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "tok", []byte("alice"), 10*time.Second)

	clock.Advance(10*time.Second - time.Nanosecond)
	if _, err := c.Get(ctx, "tok"); err != nil {
		t.Fatalf("entry should still be live just before the TTL: %v", err)
	}

	clock.Advance(time.Nanosecond)
	if _, err := c.Get(ctx, "tok"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("entry should be gone at the TTL, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should have been evicted on read, len=%d", c.Len())
	}
}

func TestCache_NoEvictionWithoutReadOrSweep(t *testing.T) {
	c, clock := newCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "a", []byte("1"), time.Second)
	clock.Advance(time.Hour)

	if c.Len() != 1 {
		t.Fatalf("expected the expired entry to linger until read, len=%d", c.Len())
	}
	if ok, _ := c.Exists(ctx, "a"); ok {
		t.Error("Exists must report expired entries as absent")
	}
}

func TestCache_Sweep(t *testing.T) {
	c, clock := newCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "short1", []byte("1"), time.Second)
	_ = c.Set(ctx, "short2", []byte("2"), time.Second)
	_ = c.Set(ctx, "long", []byte("3"), time.Hour)

	clock.Advance(time.Minute)
	if removed := c.Sweep(ctx); removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry left, got %d", c.Len())
	}
	if _, err := c.Get(ctx, "long"); err != nil {
		t.Errorf("long-lived entry should survive the sweep: %v", err)
	}
}

func TestCache_DefaultTTL(t *testing.T) {
	c, clock := newCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "k", []byte("v"), 0)
	clock.Advance(59 * time.Second)
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Fatalf("expected default TTL of a minute: %v", err)
	}
	clock.Advance(time.Second)
	if _, err := c.Get(ctx, "k"); err == nil {
		t.Fatal("expected expiry after the default TTL")
	}
}

func TestCache_Delete(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "k", []byte("v"), time.Minute)
	_ = c.Delete(ctx, "k")
	if ok, _ := c.Exists(ctx, "k"); ok {
		t.Error("key should not exist after delete")
	}
}

func TestCache_Concurrent(t *testing.T) {
	c := memory.New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = c.Set(ctx, "shared", []byte("v"), time.Millisecond)
				_, _ = c.Get(ctx, "shared")
				c.Sweep(ctx)
			}
		}()
	}
	wg.Wait()
}

func TestRegisteredDriver(t *testing.T) {
	c, err := cache.New("memory", map[string]any{"default_ttl_seconds": int64(5)}, nil)
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	defer c.Close()
	if _, ok := c.(*memory.Cache); !ok {
		t.Fatalf("expected *memory.Cache, got %T", c)
	}
	if _, ok := c.(cache.Sweeper); !ok {
		t.Error("memory driver should implement Sweeper")
	}
}

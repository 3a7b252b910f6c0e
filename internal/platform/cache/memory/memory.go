// Package memory provides an in-memory cache with TTL support.
//
// Expired entries are evicted lazily when read. Sweep drops all of them at
// once, and a background sweep loop runs only when cleanup_interval_seconds
// is configured.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MahdiBaghbani/localbox-go/internal/platform/cache"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/cfg"
)

// Config is decoded from [cache.drivers.memory].
type Config struct {
	DefaultTTLSeconds      int `mapstructure:"default_ttl_seconds"`
	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.DefaultTTLSeconds <= 0 {
		c.DefaultTTLSeconds = 600
	}
	if c.CleanupIntervalSeconds < 0 {
		c.CleanupIntervalSeconds = 0
	}
}

func init() {
	cache.RegisterDriver("memory", func(raw map[string]any, _ *slog.Logger) (cache.Cache, error) {
		var c Config
		if err := cfg.Decode(raw, &c); err != nil {
			return nil, err
		}
		return New(
			time.Duration(c.DefaultTTLSeconds)*time.Second,
			time.Duration(c.CleanupIntervalSeconds)*time.Second,
		), nil
	})
}

// item represents a cached value with expiration.
type item struct {
	value     []byte
	expiresAt time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is an in-memory cache with TTL support.
type Cache struct {
	mu         sync.RWMutex
	items      map[string]*item
	defaultTTL time.Duration
	now        func() time.Time
	stopClean  chan struct{}
	closeOnce  sync.Once
}

// New creates a new in-memory cache.
// cleanupInterval specifies how often to run the sweep goroutine (0 disables).
func New(defaultTTL, cleanupInterval time.Duration, opts ...Option) *Cache {
	c := &Cache{
		items:      make(map[string]*item),
		defaultTTL: defaultTTL,
		now:        time.Now,
		stopClean:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if cleanupInterval > 0 {
		go c.cleanupLoop(cleanupInterval)
	}

	return c
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep(context.Background())
		case <-c.stopClean:
			return
		}
	}
}

func (c *Cache) expired(it *item) bool {
	return !c.now().Before(it.expiresAt)
}

// Sweep removes every expired entry.
func (c *Cache) Sweep(_ context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, v := range c.items {
		if c.expired(v) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// Get retrieves a value by key, evicting it when expired.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	it, ok := c.items[key]
	if ok && !c.expired(it) {
		result := make([]byte, len(it.value))
		copy(result, it.value)
		c.mu.RUnlock()
		return result, nil
	}
	c.mu.RUnlock()

	if !ok {
		return nil, cache.ErrNotFound
	}

	c.mu.Lock()
	// re-check: a concurrent Set may have refreshed the entry
	if cur, ok := c.items[key]; ok && c.expired(cur) {
		delete(c.items, key)
	}
	c.mu.Unlock()
	return nil, cache.ErrNotFound
}

// Set stores a value with the given TTL.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = &item{
		value:     valueCopy,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Delete removes a key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
	return nil
}

// Exists checks if a key exists and is not expired.
func (c *Cache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok {
		return false, nil
	}
	return !c.expired(it), nil
}

// Len reports the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the sweep goroutine.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() { close(c.stopClean) })
	return nil
}

var (
	_ cache.Cache   = (*Cache)(nil)
	_ cache.Sweeper = (*Cache)(nil)
)

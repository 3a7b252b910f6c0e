// Package redis provides a Redis/Valkey cache driver.
//
// Entries expire server-side, so the driver does not implement cache.Sweeper.
// Sharing one Redis between several localbox processes makes a verified
// token usable by all of them without another verification round-trip.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/MahdiBaghbani/localbox-go/internal/platform/cache"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/cfg"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/logutil"
)

// Config holds Redis connection configuration, decoded from [cache.drivers.redis].
type Config struct {
	Addr        string        `mapstructure:"address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 10 * time.Minute
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "localbox:"
	}
}

// Validate implements cfg.Validator.
func (c *Config) Validate() error {
	if c.DB < 0 {
		return fmt.Errorf("cache.drivers.redis.db must not be negative")
	}
	return nil
}

// DefaultConfig returns the defaults used when no driver section is configured.
func DefaultConfig() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

func init() {
	cache.RegisterDriver("redis", func(raw map[string]any, logger *slog.Logger) (cache.Cache, error) {
		var c Config
		if err := cfg.Decode(raw, &c); err != nil {
			return nil, err
		}
		return New(&c, logger)
	})
}

// Cache stores entries in Redis/Valkey.
type Cache struct {
	client valkey.Client
	config *Config
	logger *slog.Logger
}

// New connects and pings the server. It fails fast when Redis is unreachable.
func New(c *Config, logger *slog.Logger) (*Cache, error) {
	if c == nil {
		c = DefaultConfig()
	} else {
		c.ApplyDefaults()
	}
	logger = logutil.NoopIfNil(logger)

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{c.Addr},
		Password:     c.Password,
		SelectDB:     c.DB,
		Dialer:       net.Dialer{Timeout: c.DialTimeout},
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", c.Addr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.DialTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", c.Addr, err)
	}

	logger.Info("redis cache connected", "addr", c.Addr, "db", c.DB)
	return &Cache{client: client, config: c, logger: logger}, nil
}

func (c *Cache) key(k string) string { return c.config.KeyPrefix + k }

// Get retrieves a value by key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Do(ctx, c.client.B().Get().Key(c.key(key)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Set stores a value with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	cmd := c.client.B().Set().Key(c.key(key)).Value(valkey.BinaryString(value)).PxMilliseconds(ttl.Milliseconds()).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Do(ctx, c.client.B().Del().Key(c.key(key)).Build()).Error(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Exists checks if a key exists.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Do(ctx, c.client.B().Exists().Key(c.key(key)).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Close releases the client.
func (c *Cache) Close() error {
	c.client.Close()
	return nil
}

var _ cache.Cache = (*Cache)(nil)

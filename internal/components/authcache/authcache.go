// Package authcache remembers which user a bearer token was verified for.
package authcache

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/MahdiBaghbani/localbox-go/internal/platform/cache"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/logutil"
)

// DefaultTTL applies when no TTL is configured.
const DefaultTTL = 10 * time.Minute

const keyPrefix = "auth:"

// AuthCache maps bearer tokens to verified usernames on top of a cache driver.
// Raw tokens never reach the driver; entries are keyed by a BLAKE2b digest.
type AuthCache struct {
	backend cache.Cache
	ttl     time.Duration
	logger  *slog.Logger
}

// New wraps backend. A non-positive ttl selects DefaultTTL.
func New(backend cache.Cache, ttl time.Duration, logger *slog.Logger) *AuthCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &AuthCache{backend: backend, ttl: ttl, logger: logutil.NoopIfNil(logger)}
}

// Key returns the driver key for token.
func Key(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// TTL returns the default entry lifetime.
func (a *AuthCache) TTL() time.Duration { return a.ttl }

// Get returns the cached username for token. Expired entries read as a miss.
func (a *AuthCache) Get(ctx context.Context, token string) (string, bool) {
	val, err := a.backend.Get(ctx, Key(token))
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			a.logger.Warn("auth cache lookup failed", "error", err)
		}
		return "", false
	}
	if len(val) == 0 {
		return "", false
	}
	return string(val), true
}

// Put stores user for token, replacing any previous entry. A zero ttl uses
// the cache default.
func (a *AuthCache) Put(ctx context.Context, token, user string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = a.ttl
	}
	return a.backend.Set(ctx, Key(token), []byte(user), ttl)
}

// Invalidate drops the entry for token.
func (a *AuthCache) Invalidate(ctx context.Context, token string) error {
	return a.backend.Delete(ctx, Key(token))
}

// Sweep drops all expired entries when the driver keeps them around.
// Drivers with native expiry report zero.
func (a *AuthCache) Sweep(ctx context.Context) int {
	s, ok := a.backend.(cache.Sweeper)
	if !ok {
		return 0
	}
	n := s.Sweep(ctx)
	if n > 0 {
		a.logger.Debug("auth cache swept", "removed", n)
	}
	return n
}

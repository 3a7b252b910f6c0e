// Package deps holds the process-wide services built at startup and handed
// to the server. There is one Deps per process and no package-level state.
package deps

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MahdiBaghbani/localbox-go/internal/components/authcache"
	"github.com/MahdiBaghbani/localbox-go/internal/components/identity"
	"github.com/MahdiBaghbani/localbox-go/internal/components/linkindex"
	"github.com/MahdiBaghbani/localbox-go/internal/components/pathcodec"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/cache"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/config"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/metrics"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/store"
)

// Deps holds the shared services.
type Deps struct {
	Config *config.Config
	Logger *slog.Logger

	Codec *pathcodec.Codec
	Index *linkindex.Index
	Store store.Datastore

	// Cache is the backend of AuthCache; closed on shutdown.
	Cache         cache.Cache
	AuthCache     *authcache.AuthCache
	Authenticator *identity.Authenticator

	// Metrics may be nil when metrics are disabled.
	Metrics *metrics.Metrics
}

// Validate fails when a required dependency is missing.
func (d *Deps) Validate() error {
	if d == nil {
		return errors.New("deps: nil")
	}
	for name, ok := range map[string]bool{
		"config":        d.Config != nil,
		"codec":         d.Codec != nil,
		"index":         d.Index != nil,
		"store":         d.Store != nil,
		"authenticator": d.Authenticator != nil,
	} {
		if !ok {
			return fmt.Errorf("deps: %s is required", name)
		}
	}
	return nil
}

// Close releases the datastore and the cache.
func (d *Deps) Close() error {
	var errs []error
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close datastore: %w", err))
		}
	}
	if d.Cache != nil {
		if err := d.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

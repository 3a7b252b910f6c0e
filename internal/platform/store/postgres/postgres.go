// Package postgres registers the PostgreSQL datastore.
package postgres

import (
	"fmt"

	"gorm.io/driver/postgres"

	"github.com/MahdiBaghbani/localbox-go/internal/platform/store"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/store/gormstore"
)

func init() {
	store.Register("postgres", NewDriver)
}

// NewDriver creates a PostgreSQL datastore for cfg.PostgresDSN.
func NewDriver(cfg *store.DriverConfig) (store.Datastore, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("dsn is required for postgres driver")
	}
	return gormstore.New("postgres", postgres.Open(cfg.PostgresDSN), gormstore.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}), nil
}

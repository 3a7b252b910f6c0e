// Package sqlite registers the embedded SQLite datastore.
package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"

	"github.com/MahdiBaghbani/localbox-go/internal/platform/store"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/store/gormstore"
)

func init() {
	store.Register("sqlite", NewDriver)
}

// NewDriver creates a SQLite datastore for cfg.SQLitePath.
func NewDriver(cfg *store.DriverConfig) (store.Datastore, error) {
	if cfg.SQLitePath == "" {
		return nil, fmt.Errorf("path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := cfg.SQLitePath + "?_journal_mode=WAL&_busy_timeout=5000"
	return gormstore.New("sqlite", sqlite.Open(dsn), gormstore.Options{
		// a single writer avoids SQLITE_BUSY under concurrent requests
		MaxOpenConns: 1,
	}), nil
}

package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MahdiBaghbani/localbox-go/internal/platform/store"
	_ "github.com/MahdiBaghbani/localbox-go/internal/platform/store/sqlite"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/store/storetest"
)

func TestSQLiteDriver(t *testing.T) {
	storetest.RunDatastoreTests(t, func(t *testing.T) store.Datastore {
		return storetest.Open(t, &store.DriverConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "localbox.db"),
		})
	})
}

func TestSQLiteDriverCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "localbox.db")
	storetest.Open(t, &store.DriverConfig{Driver: "sqlite", SQLitePath: path})

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestSQLiteDriverSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := &store.DriverConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "localbox.db")}

	ds, err := store.New(cfg)
	require.NoError(t, err)
	require.NoError(t, ds.Init(ctx))
	require.NoError(t, ds.PutUser(ctx, &store.User{Name: "alice", PublicKey: "pub"}))
	require.NoError(t, ds.Close())

	ds2 := storetest.Open(t, cfg)
	u, err := ds2.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "pub", u.PublicKey)
}

func TestSQLiteDriverRequiresPath(t *testing.T) {
	_, err := store.New(&store.DriverConfig{Driver: "sqlite"})
	assert.Error(t, err)
}

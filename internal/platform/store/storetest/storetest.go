// Package storetest runs the shared conformance suite against a datastore driver.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MahdiBaghbani/localbox-go/internal/platform/store"
)

// Open creates, initializes and registers cleanup for a datastore.
func Open(t *testing.T, cfg *store.DriverConfig) store.Datastore {
	t.Helper()
	ds, err := store.New(cfg)
	require.NoError(t, err, "create %s driver", cfg.Driver)
	require.NoError(t, ds.Init(context.Background()), "init %s driver", cfg.Driver)
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func testShare(owner, path string) *store.Share {
	return &store.Share{
		User: owner,
		Path: path,
		Item: store.ShareItem{
			Path:       path,
			Title:      "docs",
			Icon:       "Folder",
			IsDir:      true,
			ModifiedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

// RunDatastoreTests runs the standard suite. open must return a fresh, empty datastore.
func RunDatastoreTests(t *testing.T, open func(t *testing.T) store.Datastore) {
	ctx := context.Background()

	t.Run("Users", func(t *testing.T) {
		ds := open(t)

		_, err := ds.GetUser(ctx, "alice")
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, ds.PutUser(ctx, &store.User{Name: "alice", PublicKey: "pub1", PrivateKey: "priv1"}))
		require.NoError(t, ds.PutUser(ctx, &store.User{Name: "bob", PublicKey: "pubB"}))
		require.NoError(t, ds.PutUser(ctx, &store.User{Name: "alice", PublicKey: "pub2", PrivateKey: "priv2"}))

		u, err := ds.GetUser(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "pub2", u.PublicKey)
		assert.Equal(t, "priv2", u.PrivateKey)

		users, err := ds.ListUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "alice", users[0].Name)
		assert.Equal(t, "bob", users[1].Name)
	})

	t.Run("Keys", func(t *testing.T) {
		ds := open(t)

		has, err := ds.HasKeys(ctx, "docs")
		require.NoError(t, err)
		assert.False(t, has)

		require.NoError(t, ds.PutKey(ctx, &store.Key{Path: "docs", User: "alice", Key: "k1", IV: "iv1"}))
		require.NoError(t, ds.PutKey(ctx, &store.Key{Path: "docs", User: "alice", Key: "k2", IV: "iv2"}))
		require.NoError(t, ds.PutKey(ctx, &store.Key{Path: "docs", User: "bob", Key: "kb", IV: "ivb"}))

		k, err := ds.GetKey(ctx, "docs", "alice")
		require.NoError(t, err)
		assert.Equal(t, "k2", k.Key)
		assert.Equal(t, "iv2", k.IV)

		has, err = ds.HasKeys(ctx, "docs")
		require.NoError(t, err)
		assert.True(t, has)

		require.NoError(t, ds.DeleteKey(ctx, "docs", "alice"))
		assert.ErrorIs(t, ds.DeleteKey(ctx, "docs", "alice"), store.ErrNotFound)
		_, err = ds.GetKey(ctx, "docs", "alice")
		assert.ErrorIs(t, err, store.ErrNotFound)

		_, err = ds.GetKey(ctx, "docs", "bob")
		assert.NoError(t, err)
	})

	t.Run("DeleteKeysUnder", func(t *testing.T) {
		ds := open(t)
		for _, p := range []string{"a", "a/b", "a/b/c", "ab", "a_b"} {
			require.NoError(t, ds.PutKey(ctx, &store.Key{Path: p, User: "alice", Key: "k"}))
		}
		require.NoError(t, ds.PutKey(ctx, &store.Key{Path: "a", User: "bob", Key: "k"}))

		n, err := ds.DeleteKeysUnder(ctx, "alice", "a")
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)

		_, err = ds.GetKey(ctx, "ab", "alice")
		assert.NoError(t, err, "sibling with shared prefix must survive")
		_, err = ds.GetKey(ctx, "a_b", "alice")
		assert.NoError(t, err, "underscore is not a wildcard")
		_, err = ds.GetKey(ctx, "a", "bob")
		assert.NoError(t, err, "other users keep their keys")
	})

	t.Run("Shares", func(t *testing.T) {
		ds := open(t)

		sh := testShare("alice", "/docs")
		require.NoError(t, ds.CreateShare(ctx, sh))
		require.NotZero(t, sh.ID)
		assert.Equal(t, sh.ID, sh.Item.ShareID)

		got, err := ds.GetShare(ctx, sh.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.User)
		assert.Equal(t, "/docs", got.Path)
		assert.Equal(t, "docs", got.Item.Title)
		assert.True(t, got.Item.IsDir)

		byPath, err := ds.FindShareByPath(ctx, "alice", "/docs")
		require.NoError(t, err)
		assert.Equal(t, sh.ID, byPath.ID)

		_, err = ds.FindShareByPath(ctx, "bob", "/docs")
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, ds.CreateShare(ctx, testShare("alice", "/music")))
		require.NoError(t, ds.CreateShare(ctx, testShare("bob", "/docs")))
		owned, err := ds.ListSharesByOwner(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, owned, 2)
		assert.Equal(t, "/docs", owned[0].Path)
		assert.Equal(t, "/music", owned[1].Path)
		assert.Equal(t, "/music", owned[1].Item.Path)

		require.NoError(t, ds.DeleteShare(ctx, sh.ID))
		_, err = ds.GetShare(ctx, sh.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, ds.DeleteShare(ctx, sh.ID), store.ErrNotFound)
	})

	t.Run("RenameSharePaths", func(t *testing.T) {
		ds := open(t)
		inner := testShare("alice", "/docs/inner")
		require.NoError(t, ds.CreateShare(ctx, testShare("alice", "/docs")))
		require.NoError(t, ds.CreateShare(ctx, inner))
		require.NoError(t, ds.CreateShare(ctx, testShare("alice", "/docsx")))
		require.NoError(t, ds.CreateShare(ctx, testShare("bob", "/docs")))

		n, err := ds.RenameSharePaths(ctx, "alice", "/docs", "/archive/docs")
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		got, err := ds.GetShare(ctx, inner.ID)
		require.NoError(t, err)
		assert.Equal(t, "/archive/docs/inner", got.Path)
		assert.Equal(t, "/archive/docs/inner", got.Item.Path)

		_, err = ds.FindShareByPath(ctx, "alice", "/docsx")
		assert.NoError(t, err)
		_, err = ds.FindShareByPath(ctx, "bob", "/docs")
		assert.NoError(t, err)
	})

	t.Run("DeleteSharesUnder", func(t *testing.T) {
		ds := open(t)
		docs := testShare("alice", "/docs")
		inner := testShare("alice", "/docs/inner")
		sibling := testShare("alice", "/docsx")
		other := testShare("bob", "/docs")
		for _, sh := range []*store.Share{docs, inner, sibling, other} {
			require.NoError(t, ds.CreateShare(ctx, sh))
		}
		inv := &store.Invitation{Sender: "alice", Receiver: "bob", ShareID: inner.ID, State: store.InvitationAccepted}
		require.NoError(t, ds.CreateInvitation(ctx, inv))

		n, err := ds.DeleteSharesUnder(ctx, "alice", "/docs")
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		_, err = ds.GetShare(ctx, docs.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = ds.GetShare(ctx, inner.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = ds.GetShare(ctx, sibling.ID)
		assert.NoError(t, err, "sibling with shared prefix must survive")
		_, err = ds.GetShare(ctx, other.ID)
		assert.NoError(t, err, "other owners keep their shares")

		got, err := ds.GetInvitation(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, store.InvitationRevoked, got.State)

		n, err = ds.DeleteSharesUnder(ctx, "alice", "/docs")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Invitations", func(t *testing.T) {
		ds := open(t)
		sh := testShare("alice", "/docs")
		require.NoError(t, ds.CreateShare(ctx, sh))

		bob := &store.Invitation{Sender: "alice", Receiver: "bob", ShareID: sh.ID, State: store.InvitationPending}
		carol := &store.Invitation{Sender: "alice", Receiver: "carol", ShareID: sh.ID, State: store.InvitationPending}
		require.NoError(t, ds.CreateInvitation(ctx, bob))
		require.NoError(t, ds.CreateInvitation(ctx, carol))
		require.NotZero(t, bob.ID)

		changed, err := ds.ToggleInvitationState(ctx, bob.ID, "bob", store.InvitationAccepted)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = ds.ToggleInvitationState(ctx, bob.ID, "bob", store.InvitationAccepted)
		require.NoError(t, err)
		assert.False(t, changed, "same state is not a change")

		changed, err = ds.ToggleInvitationState(ctx, bob.ID, "carol", store.InvitationRejected)
		require.NoError(t, err)
		assert.False(t, changed, "only the receiver may toggle")

		got, err := ds.GetInvitation(ctx, bob.ID)
		require.NoError(t, err)
		assert.Equal(t, store.InvitationAccepted, got.State)

		n, err := ds.SetShareInvitationsState(ctx, sh.ID, "", store.InvitationRevoked)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		all, err := ds.ListShareInvitations(ctx, sh.ID)
		require.NoError(t, err)
		require.Len(t, all, 2)
		for _, inv := range all {
			assert.Equal(t, store.InvitationRevoked, inv.State)
		}

		visible, err := ds.ListInvitations(ctx, "bob", store.InvitationRevoked)
		require.NoError(t, err)
		assert.Empty(t, visible)

		visible, err = ds.ListInvitations(ctx, "bob", "")
		require.NoError(t, err)
		assert.Len(t, visible, 1)

		_, err = ds.GetInvitation(ctx, 9999)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("InvitationsOutliveShare", func(t *testing.T) {
		ds := open(t)
		sh := testShare("alice", "/docs")
		require.NoError(t, ds.CreateShare(ctx, sh))
		inv := &store.Invitation{Sender: "alice", Receiver: "bob", ShareID: sh.ID, State: store.InvitationPending}
		require.NoError(t, ds.CreateInvitation(ctx, inv))

		require.NoError(t, ds.DeleteShare(ctx, sh.ID))
		_, err := ds.GetInvitation(ctx, inv.ID)
		assert.NoError(t, err)
	})

	t.Run("ConcurrentToggle", func(t *testing.T) {
		ds := open(t)
		sh := testShare("alice", "/docs")
		require.NoError(t, ds.CreateShare(ctx, sh))
		inv := &store.Invitation{Sender: "alice", Receiver: "bob", ShareID: sh.ID, State: store.InvitationPending}
		require.NoError(t, ds.CreateInvitation(ctx, inv))

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				changed, err := ds.ToggleInvitationState(ctx, inv.ID, "bob", store.InvitationAccepted)
				if err == nil && changed {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("Closed", func(t *testing.T) {
		ds := open(t)
		require.NoError(t, ds.Close())
		_, err := ds.GetUser(ctx, "alice")
		assert.ErrorIs(t, err, store.ErrClosed)
	})
}

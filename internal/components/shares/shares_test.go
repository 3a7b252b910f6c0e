package shares

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MahdiBaghbani/localbox-go/internal/components/files"
	"github.com/MahdiBaghbani/localbox-go/internal/components/linkindex"
	"github.com/MahdiBaghbani/localbox-go/internal/components/pathcodec"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/store"
	_ "github.com/MahdiBaghbani/localbox-go/internal/platform/store/sqlite"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/store/storetest"
)

type fixture struct {
	engine    *Engine
	codec     *pathcodec.Codec
	index     *linkindex.Index
	store     store.Datastore
	bindpoint string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bindpoint := t.TempDir()
	codec, err := pathcodec.New(bindpoint)
	require.NoError(t, err)
	for _, u := range []string{"alice", "bob", "carol"} {
		_, err := codec.EnsureHome(u)
		require.NoError(t, err)
	}
	ds := storetest.Open(t, &store.DriverConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "localbox.db"),
	})
	index := linkindex.New()
	return &fixture{
		engine:    NewEngine(codec, index, ds, nil),
		codec:     codec,
		index:     index,
		store:     ds,
		bindpoint: bindpoint,
	}
}

func (fx *fixture) path(user string, parts ...string) string {
	return filepath.Join(append([]string{fx.bindpoint, user}, parts...)...)
}

func (fx *fixture) write(t *testing.T, user, rel, content string) {
	t.Helper()
	p := fx.path(user, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o640))
}

func users(names ...string) []Identity {
	out := make([]Identity, 0, len(names))
	for _, n := range names {
		out = append(out, Identity{Type: TypeUser, Username: n})
	}
	return out
}

func identityIDs(v *ShareView) []string {
	out := make([]string, 0, len(v.Identities))
	for _, id := range v.Identities {
		out = append(out, id.ID)
	}
	return out
}

func assertLink(t *testing.T, link, target string) {
	t.Helper()
	dest, err := os.Readlink(link)
	require.NoError(t, err, "expected a link at %s", link)
	assert.Equal(t, target, dest)
}

func assertAbsent(t *testing.T, p string) {
	t.Helper()
	_, err := os.Lstat(p)
	assert.True(t, os.IsNotExist(err), "expected %s to be absent, got %v", p, err)
}

func TestCreateShare(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.write(t, "alice", "doc.txt", "hello")

	v, err := fx.engine.Create(ctx, "alice", "/doc.txt", users("bob"))
	require.NoError(t, err)
	assert.NotZero(t, v.ID)
	assert.Equal(t, []string{"alice", "bob"}, identityIDs(v))
	assert.Equal(t, "/doc.txt", v.Item.Path)
	assert.Equal(t, "doc.txt", v.Item.Title)
	assert.False(t, v.Item.IsDir)

	assertLink(t, fx.path("bob", "doc.txt"), fx.path("alice", "doc.txt"))
	assert.True(t, fx.index.IsTarget(fx.path("alice", "doc.txt")))

	invs, err := fx.store.ListInvitations(ctx, "bob", "")
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, "alice", invs[0].Sender)
	assert.Equal(t, store.InvitationPending, invs[0].State)
	assert.Equal(t, v.ID, invs[0].ShareID)
}

func TestCreateShareNestedPathCreatesParents(t *testing.T) {
	fx := newFixture(t)
	fx.write(t, "alice", "projects/x/report.txt", "r")

	_, err := fx.engine.Create(context.Background(), "alice", "projects/x", users("bob"))
	require.NoError(t, err)
	assertLink(t, fx.path("bob", "projects", "x"), fx.path("alice", "projects", "x"))

	b, err := os.ReadFile(fx.path("bob", "projects", "x", "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "r", string(b))
}

func TestCreateShareFiltersIdentities(t *testing.T) {
	fx := newFixture(t)
	fx.write(t, "alice", "doc.txt", "hello")

	ids := []Identity{
		{Type: "group", Username: "staff"},
		{Type: TypeUser, Username: "alice"},
		{Type: TypeUser, Username: "bob"},
		{Type: TypeUser, Title: "bob"},
	}
	v, err := fx.engine.Create(context.Background(), "alice", "doc.txt", ids)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, identityIDs(v))
	assertAbsent(t, fx.path("staff"))
}

func TestCreateShareFailures(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.write(t, "alice", "doc.txt", "hello")

	_, err := fx.engine.Create(ctx, "alice", "missing.txt", users("bob"))
	assert.ErrorIs(t, err, ErrSourceNotFound)

	_, err = fx.engine.Create(ctx, "alice", "/", users("bob"))
	assert.ErrorIs(t, err, pathcodec.ErrInvalidPath)

	_, err = fx.engine.Create(ctx, "alice", "../bob/doc.txt", users("bob"))
	assert.ErrorIs(t, err, pathcodec.ErrInvalidPath)

	_, err = fx.engine.Create(ctx, "alice", "doc.txt", users("../bob"))
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = fx.engine.Create(ctx, "alice", "doc.txt", users("bob"))
	require.NoError(t, err)
	_, err = fx.engine.Create(ctx, "alice", "doc.txt", users("carol"))
	assert.ErrorIs(t, err, ErrConflict, "a path is shared once")

	_, err = fx.engine.Create(ctx, "bob", "doc.txt", users("carol"))
	assert.ErrorIs(t, err, ErrForbidden, "links cannot be reshared")
}

func TestCreateShareConflictLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.write(t, "alice", "doc.txt", "alice")
	fx.write(t, "carol", "doc.txt", "carol's own")

	_, err := fx.engine.Create(ctx, "alice", "doc.txt", users("bob", "carol"))
	require.ErrorIs(t, err, ErrConflict)

	assertAbsent(t, fx.path("bob", "doc.txt"))
	assert.Zero(t, fx.index.Len())

	owned, err := fx.store.ListSharesByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, owned)
	invs, err := fx.store.ListInvitations(ctx, "bob", "")
	require.NoError(t, err)
	assert.Empty(t, invs)

	b, err := os.ReadFile(fx.path("carol", "doc.txt"))
	require.NoError(t, err)
	assert.Equal(t, "carol's own", string(b))
}

func TestEditShare(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.write(t, "alice", "doc.txt", "hello")
	v, err := fx.engine.Create(ctx, "alice", "doc.txt", users("bob"))
	require.NoError(t, err)

	edited, err := fx.engine.Edit(ctx, "alice", "/doc.txt", users("carol"))
	require.NoError(t, err)
	assert.Equal(t, v.ID, edited.ID)
	assert.Equal(t, []string{"alice", "carol"}, identityIDs(edited))

	assertAbsent(t, fx.path("bob", "doc.txt"))
	assertLink(t, fx.path("carol", "doc.txt"), fx.path("alice", "doc.txt"))

	bobInvs, err := fx.store.ListInvitations(ctx, "bob", "")
	require.NoError(t, err)
	require.Len(t, bobInvs, 1)
	assert.Equal(t, store.InvitationRevoked, bobInvs[0].State)

	carolInvs, err := fx.store.ListInvitations(ctx, "carol", "")
	require.NoError(t, err)
	require.Len(t, carolInvs, 1)
	assert.Equal(t, store.InvitationPending, carolInvs[0].State)

	// by id, posting the listed identities back
	listed := make([]Identity, 0, len(edited.Identities))
	for _, id := range edited.Identities {
		listed = append(listed, Identity{Type: id.Type, ID: id.ID})
	}
	edited, err = fx.engine.Edit(ctx, "alice", strconv.FormatInt(v.ID, 10), listed)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "carol"}, identityIDs(edited))
}

func TestEditShareRequiresOwner(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.write(t, "alice", "doc.txt", "hello")
	v, err := fx.engine.Create(ctx, "alice", "doc.txt", users("bob"))
	require.NoError(t, err)

	_, err = fx.engine.Edit(ctx, "bob", strconv.FormatInt(v.ID, 10), users("carol"))
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = fx.engine.Edit(ctx, "bob", "doc.txt", users("carol"))
	assert.ErrorIs(t, err, ErrShareNotFound, "path refs name the caller's own shares")

	_, err = fx.engine.Edit(ctx, "alice", "999", users("carol"))
	assert.ErrorIs(t, err, ErrShareNotFound)
}

func TestRevokeShare(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.write(t, "alice", "docs/a.txt", "a")
	v, err := fx.engine.Create(ctx, "alice", "docs", users("bob", "carol"))
	require.NoError(t, err)

	assert.ErrorIs(t, fx.engine.Revoke(ctx, "bob", strconv.FormatInt(v.ID, 10)), ErrForbidden)

	require.NoError(t, fx.engine.Revoke(ctx, "alice", strconv.FormatInt(v.ID, 10)))
	assertAbsent(t, fx.path("bob", "docs"))
	assertAbsent(t, fx.path("carol", "docs"))
	assert.FileExists(t, fx.path("alice", "docs", "a.txt"))
	assert.Zero(t, fx.index.Len())

	_, err = fx.store.GetShare(ctx, v.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	invs, err := fx.store.ListInvitations(ctx, "bob", "")
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, store.InvitationRevoked, invs[0].State)

	assert.ErrorIs(t, fx.engine.Revoke(ctx, "alice", strconv.FormatInt(v.ID, 10)), ErrShareNotFound)
}

func TestRevokeRemovesCopiedLinks(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.write(t, "carol", "a/doc.txt", "secret")
	v, err := fx.engine.Create(ctx, "carol", "a/doc.txt", users("alice"))
	require.NoError(t, err)

	svc := files.NewService(fx.codec, fx.index, fx.store, files.Options{}, nil)
	require.NoError(t, svc.Copy(ctx, "alice", "a", "b"))
	require.Len(t, fx.index.Links(fx.path("carol", "a", "doc.txt")), 2)

	require.NoError(t, fx.engine.Revoke(ctx, "carol", strconv.FormatInt(v.ID, 10)))
	assertAbsent(t, fx.path("alice", "a", "doc.txt"))
	assertAbsent(t, fx.path("alice", "b", "doc.txt"))
	assert.Zero(t, fx.index.Len())
	assert.FileExists(t, fx.path("carol", "a", "doc.txt"))
}

func TestEditRemovesCopiedLinks(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.write(t, "carol", "a/doc.txt", "secret")
	v, err := fx.engine.Create(ctx, "carol", "a/doc.txt", users("alice", "bob"))
	require.NoError(t, err)

	svc := files.NewService(fx.codec, fx.index, fx.store, files.Options{}, nil)
	require.NoError(t, svc.Copy(ctx, "alice", "a", "b"))

	edited, err := fx.engine.Edit(ctx, "carol", strconv.FormatInt(v.ID, 10), users("bob"))
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "bob"}, identityIDs(edited))
	assertAbsent(t, fx.path("alice", "a", "doc.txt"))
	assertAbsent(t, fx.path("alice", "b", "doc.txt"))
	assertLink(t, fx.path("bob", "a", "doc.txt"), fx.path("carol", "a", "doc.txt"))
	assert.Equal(t, 1, fx.index.Len())
}

func TestDeletingSharedPathRevokesShare(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.write(t, "alice", "docs/a.txt", "a")
	v, err := fx.engine.Create(ctx, "alice", "docs", users("bob"))
	require.NoError(t, err)

	svc := files.NewService(fx.codec, fx.index, fx.store, files.Options{}, nil)
	require.NoError(t, svc.Delete(ctx, "alice", "docs"))

	assertAbsent(t, fx.path("bob", "docs"))
	_, err = fx.store.GetShare(ctx, v.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	owned, err := fx.engine.ListAll(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, owned)
	granted, err := fx.engine.ListAll(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, granted)

	invs, err := fx.engine.Invitations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, store.InvitationRevoked, invs[0].State)
	assert.Nil(t, invs[0].Share)
}

func TestLeaveShare(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.write(t, "alice", "doc.txt", "hello")
	v, err := fx.engine.Create(ctx, "alice", "doc.txt", users("bob", "carol"))
	require.NoError(t, err)

	require.NoError(t, fx.engine.Leave(ctx, "bob", "doc.txt"))
	assertAbsent(t, fx.path("bob", "doc.txt"))
	assert.FileExists(t, fx.path("alice", "doc.txt"))

	invs, err := fx.store.ListInvitations(ctx, "bob", "")
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, store.InvitationRejected, invs[0].State)

	_, err = fx.store.GetShare(ctx, v.ID)
	require.NoError(t, err, "carol still holds a link")

	require.NoError(t, fx.engine.Leave(ctx, "carol", "doc.txt"))
	_, err = fx.store.GetShare(ctx, v.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, fx.engine.Leave(ctx, "bob", "doc.txt"), ErrShareNotFound)
	assert.ErrorIs(t, fx.engine.Leave(ctx, "alice", "doc.txt"), ErrShareNotFound, "owners revoke instead")
}

func TestListShares(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.write(t, "alice", "doc.txt", "hello")
	fx.write(t, "carol", "notes.txt", "n")
	_, err := fx.engine.Create(ctx, "alice", "doc.txt", users("bob"))
	require.NoError(t, err)
	_, err = fx.engine.Create(ctx, "carol", "notes.txt", users("bob"))
	require.NoError(t, err)

	owner, err := fx.engine.ListForPath(ctx, "alice", "doc.txt")
	require.NoError(t, err)
	require.Len(t, owner, 1)

	grantee, err := fx.engine.ListForPath(ctx, "bob", "doc.txt")
	require.NoError(t, err)
	require.Len(t, grantee, 1)
	assert.Equal(t, owner[0].ID, grantee[0].ID)

	none, err := fx.engine.ListForPath(ctx, "alice", "other.txt")
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := fx.engine.ListAll(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	all, err = fx.engine.ListAll(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestInvitations(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.write(t, "alice", "doc.txt", "hello")
	_, err := fx.engine.Create(ctx, "alice", "doc.txt", users("bob"))
	require.NoError(t, err)

	invs, err := fx.engine.Invitations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, invs, 1)
	inv := invs[0]
	assert.Equal(t, "alice", inv.Sender)
	assert.Equal(t, store.InvitationPending, inv.State)
	require.NotNil(t, inv.Share)
	assert.Equal(t, "/doc.txt", inv.Item.Path)

	assert.ErrorIs(t, fx.engine.ToggleInvitation(ctx, "carol", inv.ID, store.InvitationAccepted), ErrInvitationNotFound)
	require.NoError(t, fx.engine.ToggleInvitation(ctx, "bob", inv.ID, store.InvitationAccepted))
	assert.ErrorIs(t, fx.engine.ToggleInvitation(ctx, "bob", inv.ID, store.InvitationAccepted), ErrInvitationNotFound)

	invs, err = fx.engine.Invitations(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, invs, "accepted invitations are not listed")

	require.NoError(t, fx.engine.ToggleInvitation(ctx, "bob", inv.ID, store.InvitationRejected))
	invs, err = fx.engine.Invitations(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, invs, 1)
}

func TestLinkIndexSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.write(t, "alice", "doc.txt", "hello")
	_, err := fx.engine.Create(ctx, "alice", "doc.txt", users("bob"))
	require.NoError(t, err)

	rebuilt := linkindex.New()
	require.NoError(t, rebuilt.Build(ctx, fx.bindpoint))
	engine := NewEngine(fx.codec, rebuilt, fx.store, nil)

	list, err := engine.ListForPath(ctx, "alice", "doc.txt")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"alice", "bob"}, identityIDs(list[0]))
}

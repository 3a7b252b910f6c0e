// Package shares implements sharing: a share is one symlink per grantee
// pointing at the owner's entry, a share row with its item snapshot, and one
// invitation per grantee.
package shares

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/MahdiBaghbani/localbox-go/internal/components/linkindex"
	"github.com/MahdiBaghbani/localbox-go/internal/components/pathcodec"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/store"
)

var (
	ErrShareNotFound      = errors.New("share not found")
	ErrInvitationNotFound = errors.New("invitation not found")
	ErrSourceNotFound     = errors.New("shared path not found")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInvalidIdentity    = errors.New("invalid identity")
	ErrIO                 = errors.New("filesystem error")
	ErrDatastore          = errors.New("datastore error")
)

// TypeUser is the only identity type that receives links.
const TypeUser = "user"

// Identity names a grantee in create and edit requests.
type Identity struct {
	Type     string `json:"type" validate:"required"`
	Username string `json:"username"`
	// ID and Title are accepted in place of the username so identities
	// from a share listing can be posted back unchanged.
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (i Identity) name() string {
	switch {
	case i.Username != "":
		return i.Username
	case i.ID != "":
		return i.ID
	}
	return i.Title
}

// Store is the datastore subset used by the engine.
type Store interface {
	store.ShareStore
	store.InvitationStore
	HasKeys(ctx context.Context, path string) (bool, error)
}

// Engine coordinates the filesystem, the link index and the datastore.
// Mutations are serialized so check-then-act steps never interleave.
type Engine struct {
	codec  *pathcodec.Codec
	index  *linkindex.Index
	store  Store
	logger *slog.Logger

	mu sync.Mutex
}

// NewEngine creates an Engine.
func NewEngine(codec *pathcodec.Codec, index *linkindex.Index, st Store, logger *slog.Logger) *Engine {
	return &Engine{codec: codec, index: index, store: st, logger: logutil.NoopIfNil(logger)}
}

func ioErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrIO, op, err)
}

func dsErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDatastore, op, err)
}

func isLink(abs string) bool {
	lst, err := os.Lstat(abs)
	return err == nil && lst.Mode()&fs.ModeSymlink != 0
}

// grantees filters identities down to distinct valid usernames other than owner.
func (e *Engine) grantees(owner string, ids []Identity) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, id := range ids {
		if id.Type != TypeUser {
			e.logger.Debug("identity type ignored", "type", id.Type, "name", id.name())
			continue
		}
		name := id.name()
		if err := pathcodec.ValidUsername(name); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidIdentity, name)
		}
		if name == owner || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// linkedUsers returns the links to target grouped by the user holding them.
// A user can hold several links, e.g. after copying a directory that
// contains one.
func (e *Engine) linkedUsers(target string) map[string][]string {
	users := make(map[string][]string)
	for _, link := range e.index.Links(target) {
		user, _, err := e.codec.OwnerOf(link)
		if err != nil {
			continue
		}
		users[user] = append(users[user], link)
	}
	return users
}

// checkFree fails with ErrConflict when anything exists at the mirrored path
// of any grantee.
func (e *Engine) checkFree(rel string, grantees []string) error {
	for _, g := range grantees {
		link, err := e.codec.Resolve(g, rel)
		if err != nil {
			return err
		}
		if _, err := os.Lstat(link); err == nil {
			return fmt.Errorf("%w: %s already has an entry at %s", ErrConflict, g, pathcodec.Canonical(rel))
		} else if !errors.Is(err, fs.ErrNotExist) {
			return ioErr("lstat", err)
		}
	}
	return nil
}

// link creates the grantee link and its pending invitation.
func (e *Engine) link(ctx context.Context, share *store.Share, src, rel, grantee string) (string, error) {
	if _, err := e.codec.EnsureHome(grantee); err != nil {
		return "", ioErr("ensure home", err)
	}
	link, err := e.codec.Resolve(grantee, rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(link), pathcodec.HomeDirMode); err != nil {
		return "", ioErr("create parent", err)
	}
	if err := os.Symlink(src, link); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s already has an entry at %s", ErrConflict, grantee, share.Path)
		}
		return "", ioErr("symlink", err)
	}
	e.index.Add(src, link)

	inv := &store.Invitation{Sender: share.User, Receiver: grantee, ShareID: share.ID, State: store.InvitationPending}
	if err := e.store.CreateInvitation(ctx, inv); err != nil {
		e.unlink(link)
		return "", dsErr("create invitation", err)
	}
	return link, nil
}

func (e *Engine) unlink(link string) {
	if isLink(link) {
		if err := os.Remove(link); err != nil {
			e.logger.Warn("failed to remove share link", "link", link, "error", err)
		}
	}
	e.index.Remove(link)
}

func (e *Engine) snapshot(ctx context.Context, src, canonical string) (store.ShareItem, error) {
	fi, err := os.Stat(src)
	if err != nil {
		return store.ShareItem{}, ioErr("stat", err)
	}
	item := store.ShareItem{
		Path:       canonical,
		Title:      filepath.Base(src),
		Icon:       "File",
		IsDir:      fi.IsDir(),
		IsShare:    true,
		ModifiedAt: fi.ModTime().UTC(),
	}
	if item.IsDir {
		item.Icon = "Folder"
	}
	if item.HasKeys, err = e.store.HasKeys(ctx, pathcodec.KeyPath(canonical)); err != nil {
		return store.ShareItem{}, dsErr("has keys", err)
	}
	return item, nil
}

// Create shares rel of owner with identities. All preconditions are checked
// before anything is written; a failure while linking undoes the links made
// so far and the share row.
func (e *Engine) Create(ctx context.Context, owner, rel string, identities []Identity) (*ShareView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rel, err := pathcodec.Clean(rel)
	if err != nil {
		return nil, err
	}
	if rel == "" {
		return nil, fmt.Errorf("%w: the home directory cannot be shared", pathcodec.ErrInvalidPath)
	}
	canonical := pathcodec.Canonical(rel)
	src, err := e.codec.Resolve(owner, rel)
	if err != nil {
		return nil, err
	}
	if _, err := os.Lstat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, canonical)
		}
		return nil, ioErr("lstat", err)
	}
	if isLink(src) {
		return nil, fmt.Errorf("%w: %s is shared with you and cannot be shared again", ErrForbidden, canonical)
	}

	grantees, err := e.grantees(owner, identities)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.FindShareByPath(ctx, owner, canonical); err == nil {
		return nil, fmt.Errorf("%w: %s is already shared", ErrConflict, canonical)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, dsErr("find share", err)
	}
	if err := e.checkFree(rel, grantees); err != nil {
		return nil, err
	}

	item, err := e.snapshot(ctx, src, canonical)
	if err != nil {
		return nil, err
	}
	share := &store.Share{User: owner, Path: canonical, CreatedAt: time.Now().UTC(), Item: item}
	if err := e.store.CreateShare(ctx, share); err != nil {
		return nil, dsErr("create share", err)
	}

	var created []string
	for _, g := range grantees {
		link, err := e.link(ctx, share, src, rel, g)
		if err != nil {
			e.rollback(ctx, share, created)
			return nil, err
		}
		created = append(created, link)
	}

	e.logger.Info("share created", "owner", owner, "path", canonical, "share_id", share.ID, "grantees", len(grantees))
	return e.view(share), nil
}

func (e *Engine) rollback(ctx context.Context, share *store.Share, links []string) {
	for _, link := range links {
		e.unlink(link)
	}
	if _, err := e.store.SetShareInvitationsState(ctx, share.ID, "", store.InvitationRevoked); err != nil {
		e.logger.Error("rollback: failed to revoke invitations", "share_id", share.ID, "error", err)
	}
	if err := e.store.DeleteShare(ctx, share.ID); err != nil {
		e.logger.Error("rollback: failed to delete share", "share_id", share.ID, "error", err)
	}
}

func (e *Engine) view(share *store.Share) *ShareView {
	v := &ShareView{
		ID:         share.ID,
		Identities: []IdentityView{userIdentity(share.User)},
		Item:       itemView(share.Item),
	}
	src, err := e.codec.Resolve(share.User, share.Path)
	if err != nil {
		return v
	}
	users := e.linkedUsers(src)
	names := make([]string, 0, len(users))
	for u := range users {
		names = append(names, u)
	}
	sort.Strings(names)
	for _, u := range names {
		v.Identities = append(v.Identities, userIdentity(u))
	}
	return v
}

// Lookup resolves a share reference: a numeric id, or otherwise a path of a
// share owned by caller.
func (e *Engine) Lookup(ctx context.Context, caller, ref string) (*store.Share, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		sh, err := e.store.GetShare(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrShareNotFound, id)
		}
		if err != nil {
			return nil, dsErr("get share", err)
		}
		return sh, nil
	}
	rel, err := pathcodec.Clean(ref)
	if err != nil {
		return nil, err
	}
	sh, err := e.store.FindShareByPath(ctx, caller, pathcodec.Canonical(rel))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrShareNotFound, pathcodec.Canonical(rel))
	}
	if err != nil {
		return nil, dsErr("find share", err)
	}
	return sh, nil
}

// Edit makes the grantee set of a share equal to identities. Removed
// grantees lose their link and their invitation is revoked; new grantees
// get a link and a pending invitation.
func (e *Engine) Edit(ctx context.Context, caller, ref string, identities []Identity) (*ShareView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	share, err := e.Lookup(ctx, caller, ref)
	if err != nil {
		return nil, err
	}
	if share.User != caller {
		return nil, fmt.Errorf("%w: only the owner can edit share %d", ErrForbidden, share.ID)
	}
	want, err := e.grantees(caller, identities)
	if err != nil {
		return nil, err
	}
	rel, err := pathcodec.Clean(share.Path)
	if err != nil {
		return nil, err
	}
	src, err := e.codec.Resolve(share.User, rel)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(src); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, share.Path)
	}

	current := e.linkedUsers(src)
	wanted := make(map[string]bool, len(want))
	var added []string
	for _, g := range want {
		wanted[g] = true
		if _, ok := current[g]; !ok {
			added = append(added, g)
		}
	}
	if err := e.checkFree(rel, added); err != nil {
		return nil, err
	}

	for user, links := range current {
		if wanted[user] {
			continue
		}
		for _, link := range links {
			e.unlink(link)
		}
		if _, err := e.store.SetShareInvitationsState(ctx, share.ID, user, store.InvitationRevoked); err != nil {
			return nil, dsErr("revoke invitation", err)
		}
	}
	for _, g := range added {
		if _, err := e.link(ctx, share, src, rel, g); err != nil {
			return nil, err
		}
	}

	e.logger.Info("share edited", "share_id", share.ID, "added", len(added), "grantees", len(want))
	return e.view(share), nil
}

// Revoke removes every grantee link of a share, revokes its invitations and
// deletes the share.
func (e *Engine) Revoke(ctx context.Context, caller, ref string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	share, err := e.Lookup(ctx, caller, ref)
	if err != nil {
		return err
	}
	if share.User != caller {
		return fmt.Errorf("%w: only the owner can revoke share %d", ErrForbidden, share.ID)
	}
	if src, err := e.codec.Resolve(share.User, share.Path); err == nil {
		for _, link := range e.index.Links(src) {
			e.unlink(link)
		}
	}
	if _, err := e.store.SetShareInvitationsState(ctx, share.ID, "", store.InvitationRevoked); err != nil {
		return dsErr("revoke invitations", err)
	}
	if err := e.store.DeleteShare(ctx, share.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return dsErr("delete share", err)
	}
	e.logger.Info("share revoked", "share_id", share.ID)
	return nil
}

// Leave removes the caller's link at rel and rejects the caller's invitation.
// A share nobody holds a link to any more is deleted.
func (e *Engine) Leave(ctx context.Context, caller, rel string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	link, err := e.codec.Resolve(caller, rel)
	if err != nil {
		return err
	}
	if !isLink(link) {
		return fmt.Errorf("%w: no share at %s", ErrShareNotFound, pathcodec.Canonical(rel))
	}
	target, ok := e.index.TargetOf(link)
	if !ok {
		dest, err := os.Readlink(link)
		if err != nil {
			return ioErr("readlink", err)
		}
		if !filepath.IsAbs(dest) {
			dest = filepath.Join(filepath.Dir(link), dest)
		}
		target = filepath.Clean(dest)
	}

	if err := os.Remove(link); err != nil {
		return ioErr("remove link", err)
	}
	e.index.Remove(link)

	owner, ownerPath, err := e.codec.OwnerOf(target)
	if err != nil {
		return nil
	}
	share, err := e.store.FindShareByPath(ctx, owner, ownerPath)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dsErr("find share", err)
	}
	if _, err := e.store.SetShareInvitationsState(ctx, share.ID, caller, store.InvitationRejected); err != nil {
		return dsErr("reject invitation", err)
	}
	if !e.index.IsTarget(target) {
		if err := e.store.DeleteShare(ctx, share.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return dsErr("delete share", err)
		}
	}
	e.logger.Info("share left", "user", caller, "share_id", share.ID)
	return nil
}

// ListForPath returns the shares covering rel for caller: the caller's own
// share of rel, or the share behind the caller's link at rel.
func (e *Engine) ListForPath(ctx context.Context, caller, rel string) ([]*ShareView, error) {
	abs, err := e.codec.Resolve(caller, rel)
	if err != nil {
		return nil, err
	}
	owner, path := caller, ""
	if target, ok := e.index.TargetOf(abs); ok {
		if owner, path, err = e.codec.OwnerOf(target); err != nil {
			return []*ShareView{}, nil
		}
	} else {
		clean, err := pathcodec.Clean(rel)
		if err != nil {
			return nil, err
		}
		path = pathcodec.Canonical(clean)
	}

	share, err := e.store.FindShareByPath(ctx, owner, path)
	if errors.Is(err, store.ErrNotFound) {
		return []*ShareView{}, nil
	}
	if err != nil {
		return nil, dsErr("find share", err)
	}
	return []*ShareView{e.view(share)}, nil
}

// ListAll returns the shares caller owns followed by the shares caller
// holds a link to.
func (e *Engine) ListAll(ctx context.Context, caller string) ([]*ShareView, error) {
	owned, err := e.store.ListSharesByOwner(ctx, caller)
	if err != nil {
		return nil, dsErr("list shares", err)
	}
	out := make([]*ShareView, 0, len(owned))
	for _, sh := range owned {
		out = append(out, e.view(sh))
	}

	invs, err := e.store.ListInvitations(ctx, caller, "")
	if err != nil {
		return nil, dsErr("list invitations", err)
	}
	seen := make(map[int64]bool)
	for _, inv := range invs {
		if seen[inv.ShareID] || inv.State == store.InvitationRevoked || inv.State == store.InvitationRejected {
			continue
		}
		seen[inv.ShareID] = true
		sh, err := e.store.GetShare(ctx, inv.ShareID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, dsErr("get share", err)
		}
		out = append(out, e.view(sh))
	}
	return out, nil
}

// Invitations returns the invitations of caller that are not accepted yet.
func (e *Engine) Invitations(ctx context.Context, caller string) ([]*InvitationView, error) {
	invs, err := e.store.ListInvitations(ctx, caller, store.InvitationAccepted)
	if err != nil {
		return nil, dsErr("list invitations", err)
	}
	out := make([]*InvitationView, 0, len(invs))
	for _, inv := range invs {
		v := &InvitationView{ID: inv.ID, Sender: inv.Sender, State: inv.State}
		sh, err := e.store.GetShare(ctx, inv.ShareID)
		switch {
		case err == nil:
			v.Share = e.view(sh)
			v.Item = &v.Share.Item
		case !errors.Is(err, store.ErrNotFound):
			return nil, dsErr("get share", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ToggleInvitation moves invitation id of caller to state. It fails with
// ErrInvitationNotFound when no invitation of caller with a different state exists.
func (e *Engine) ToggleInvitation(ctx context.Context, caller string, id int64, state string) error {
	changed, err := e.store.ToggleInvitationState(ctx, id, caller, state)
	if err != nil {
		return dsErr("toggle invitation", err)
	}
	if !changed {
		return fmt.Errorf("%w: %d", ErrInvitationNotFound, id)
	}
	e.logger.Info("invitation updated", "invitation_id", id, "user", caller, "state", state)
	return nil
}

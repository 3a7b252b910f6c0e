// Package store defines the relational Datastore and its driver registry.
package store

import (
	"context"
	"errors"
)

// Common errors for store operations.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrClosed        = errors.New("store closed")
)

// Driver defines the lifecycle of a persistence backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Init opens the connection and migrates the schema.
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name (sqlite, postgres).
	Name() string
}

// UserStore persists users and their key pairs.
type UserStore interface {
	GetUser(ctx context.Context, name string) (*User, error)
	// PutUser creates the user or replaces its key pair.
	PutUser(ctx context.Context, user *User) error
	ListUsers(ctx context.Context) ([]*User, error)
}

// KeyStore persists per-path encryption keys. Key paths are relative
// localbox paths without a leading slash.
type KeyStore interface {
	GetKey(ctx context.Context, path, user string) (*Key, error)
	// PutKey creates or replaces the key for (path, user).
	PutKey(ctx context.Context, key *Key) error
	// DeleteKey removes the key for (path, user); ErrNotFound when absent.
	DeleteKey(ctx context.Context, path, user string) error
	// DeleteKeysUnder removes the keys of user for path and its descendants.
	DeleteKeysUnder(ctx context.Context, user, path string) (int64, error)
	// HasKeys reports whether any key row exists for path.
	HasKeys(ctx context.Context, path string) (bool, error)
}

// ShareStore persists shares together with their item snapshot.
type ShareStore interface {
	// CreateShare inserts share and its item, assigning share.ID.
	CreateShare(ctx context.Context, share *Share) error
	GetShare(ctx context.Context, id int64) (*Share, error)
	FindShareByPath(ctx context.Context, owner, path string) (*Share, error)
	ListSharesByOwner(ctx context.Context, owner string) ([]*Share, error)
	// RenameSharePaths rewrites the path of every share of owner at or below oldPath.
	RenameSharePaths(ctx context.Context, owner, oldPath, newPath string) (int64, error)
	// DeleteShare removes the share row and its item.
	DeleteShare(ctx context.Context, id int64) error
	// DeleteSharesUnder removes every share of owner at or below path after
	// the entry was deleted. Their invitations are moved to revoked.
	DeleteSharesUnder(ctx context.Context, owner, path string) (int64, error)
}

// InvitationStore persists invitations. Invitations are never deleted.
type InvitationStore interface {
	CreateInvitation(ctx context.Context, inv *Invitation) error
	GetInvitation(ctx context.Context, id int64) (*Invitation, error)
	// ListInvitations returns the invitations of receiver whose state differs from excludeState.
	ListInvitations(ctx context.Context, receiver, excludeState string) ([]*Invitation, error)
	ListShareInvitations(ctx context.Context, shareID int64) ([]*Invitation, error)
	// ToggleInvitationState sets state on invitation id when it belongs to
	// receiver and its current state differs. It reports whether a row changed.
	ToggleInvitationState(ctx context.Context, id int64, receiver, state string) (bool, error)
	// SetShareInvitationsState moves the invitations of a share to state.
	// An empty receiver matches every receiver.
	SetShareInvitationsState(ctx context.Context, shareID int64, receiver, state string) (int64, error)
}

// Datastore is everything the request handlers persist.
type Datastore interface {
	Driver
	UserStore
	KeyStore
	ShareStore
	InvitationStore
}

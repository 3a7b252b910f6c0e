// Package keys serves user key pairs, per-path encryption keys and the
// identity listing used to pick share grantees.
package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MahdiBaghbani/localbox-go/internal/components/pathcodec"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/localbox-go/internal/platform/store"
)

var (
	ErrUnknownUser = errors.New("unknown user")
	ErrNoKey       = errors.New("no key for path")
	ErrForbidden   = errors.New("forbidden")
	ErrDatastore   = errors.New("datastore error")
)

// Store is the datastore subset used by the service.
type Store interface {
	store.UserStore
	GetKey(ctx context.Context, path, user string) (*store.Key, error)
	PutKey(ctx context.Context, key *store.Key) error
	DeleteKey(ctx context.Context, path, user string) error
}

// UserView is a user's key pair. PrivateKey is only set for the caller.
type UserView struct {
	Name       string `json:"name"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key,omitempty"`
}

// KeyView is the key and IV of a path.
type KeyView struct {
	Key string `json:"key"`
	IV  string `json:"iv"`
}

// IdentityView is a user as offered for sharing.
type IdentityView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// Service implements the key endpoints on top of a Store.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(st Store, logger *slog.Logger) *Service {
	return &Service{store: st, logger: logutil.NoopIfNil(logger)}
}

func wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDatastore, op, err)
}

// User returns the key pair of name as seen by caller.
func (s *Service) User(ctx context.Context, caller, name string) (*UserView, error) {
	u, err := s.store.GetUser(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, name)
	}
	if err != nil {
		return nil, wrap("get user", err)
	}
	v := &UserView{Name: u.Name, PublicKey: u.PublicKey}
	if name == caller {
		v.PrivateKey = u.PrivateKey
	}
	return v, nil
}

// PutUser stores the key pair of caller.
func (s *Service) PutUser(ctx context.Context, caller, publicKey, privateKey string) error {
	if err := s.store.PutUser(ctx, &store.User{Name: caller, PublicKey: publicKey, PrivateKey: privateKey}); err != nil {
		return wrap("put user", err)
	}
	s.logger.Info("user keys stored", "user", caller)
	return nil
}

// Key returns the key of rel for caller.
func (s *Service) Key(ctx context.Context, caller, rel string) (*KeyView, error) {
	k, err := s.store.GetKey(ctx, rel, caller)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoKey, pathcodec.Canonical(rel))
	}
	if err != nil {
		return nil, wrap("get key", err)
	}
	return &KeyView{Key: k.Key, IV: k.IV}, nil
}

// PutKey stores the key of rel for user, which defaults to caller. Owners
// use it to deposit the key of a shared path for a grantee.
func (s *Service) PutKey(ctx context.Context, caller, user, rel string, kv KeyView) error {
	if user == "" {
		user = caller
	}
	if err := pathcodec.ValidUsername(user); err != nil {
		return err
	}
	if rel == "" {
		return fmt.Errorf("%w: the home directory has no key", pathcodec.ErrInvalidPath)
	}
	if err := s.store.PutKey(ctx, &store.Key{Path: rel, User: user, Key: kv.Key, IV: kv.IV}); err != nil {
		return wrap("put key", err)
	}
	s.logger.Debug("key stored", "path", pathcodec.Canonical(rel), "for", user)
	return nil
}

// RevokeKey removes the key of rel for user. Callers can only revoke their
// own keys.
func (s *Service) RevokeKey(ctx context.Context, caller, user, rel string) error {
	if user == "" {
		user = caller
	}
	if user != caller {
		return fmt.Errorf("%w: cannot revoke keys of %s", ErrForbidden, user)
	}
	err := s.store.DeleteKey(ctx, rel, user)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNoKey, pathcodec.Canonical(rel))
	}
	if err != nil {
		return wrap("delete key", err)
	}
	return nil
}

// Identities lists every known user.
func (s *Service) Identities(ctx context.Context) ([]IdentityView, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, wrap("list users", err)
	}
	out := make([]IdentityView, 0, len(users))
	for _, u := range users {
		out = append(out, IdentityView{ID: u.Name, Name: u.Name, Title: u.Name, Type: "user"})
	}
	return out, nil
}

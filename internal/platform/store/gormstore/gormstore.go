// Package gormstore implements store.Datastore on GORM. The sqlite and
// postgres drivers differ only in the dialector and pool settings they pass in.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/MahdiBaghbani/localbox-go/internal/platform/store"
)

// Options tune the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// AfterOpen runs once on the fresh connection, before migration.
	AfterOpen func(db *gorm.DB) error
}

// Store implements store.Datastore.
type Store struct {
	name      string
	dialector gorm.Dialector
	opts      Options

	mu sync.RWMutex
	db *gorm.DB
}

// New returns an uninitialized Store; Init opens and migrates.
func New(name string, dialector gorm.Dialector, opts Options) *Store {
	return &Store{name: name, dialector: dialector, opts: opts}
}

// Name returns the driver name.
func (s *Store) Name() string { return s.name }

// Init opens the database and runs AutoMigrate.
func (s *Store) Init(ctx context.Context) error {
	db, err := gorm.Open(s.dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		// invitations outlive their share, so no FK between them
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if s.opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(s.opts.MaxOpenConns)
	}
	if s.opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(s.opts.MaxIdleConns)
	}
	if s.opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(s.opts.ConnMaxLifetime)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("failed to reach database: %w", err)
	}

	if s.opts.AfterOpen != nil {
		if err := s.opts.AfterOpen(db); err != nil {
			_ = sqlDB.Close()
			return err
		}
	}

	if err := db.WithContext(ctx).AutoMigrate(store.Models()...); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	s.db = nil
	return sqlDB.Close()
}

func (s *Store) conn(ctx context.Context) (*gorm.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, store.ErrClosed
	}
	return s.db.WithContext(ctx), nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

// escapeLike escapes LIKE wildcards so a path is matched literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// UserStore implementation

// GetUser retrieves a user by name.
func (s *Store) GetUser(ctx context.Context, name string) (*store.User, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var u store.User
	if err := db.First(&u, "name = ?", name).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// PutUser upserts a user.
func (s *Store) PutUser(ctx context.Context, user *store.User) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"public_key", "private_key"}),
	}).Create(user).Error
}

// ListUsers returns every user ordered by name.
func (s *Store) ListUsers(ctx context.Context) ([]*store.User, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var users []*store.User
	if err := db.Order("name").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// KeyStore implementation

// GetKey retrieves the key of user for path.
func (s *Store) GetKey(ctx context.Context, path, user string) (*store.Key, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var k store.Key
	if err := db.First(&k, "path = ? AND "+quoteUser(db)+" = ?", path, user).Error; err != nil {
		return nil, notFound(err)
	}
	return &k, nil
}

// PutKey upserts a key on (path, user).
func (s *Store) PutKey(ctx context.Context, key *store.Key) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}, {Name: "user"}},
		DoUpdates: clause.AssignmentColumns([]string{"key", "iv"}),
	}).Create(key).Error
}

// DeleteKey removes the key of user for path.
func (s *Store) DeleteKey(ctx context.Context, path, user string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res := db.Where("path = ? AND "+quoteUser(db)+" = ?", path, user).Delete(&store.Key{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteKeysUnder removes the keys of user for path and everything below it.
func (s *Store) DeleteKeysUnder(ctx context.Context, user, path string) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	q := db.Where(quoteUser(db)+" = ?", user)
	if path = strings.Trim(path, "/"); path != "" {
		q = q.Where("(path = ? OR path LIKE ? ESCAPE '\\')", path, escapeLike(path)+"/%")
	}
	res := q.Delete(&store.Key{})
	return res.RowsAffected, res.Error
}

// HasKeys reports whether any key exists for path.
func (s *Store) HasKeys(ctx context.Context, path string) (bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	var n int64
	if err := db.Model(&store.Key{}).Where("path = ?", path).Limit(1).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// ShareStore implementation

// CreateShare inserts the share and its item in one transaction.
func (s *Store) CreateShare(ctx context.Context, share *store.Share) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return db.Transaction(func(tx *gorm.DB) error {
		item := share.Item
		if err := tx.Omit("Item").Create(share).Error; err != nil {
			return err
		}
		item.ShareID = share.ID
		if err := tx.Create(&item).Error; err != nil {
			return err
		}
		share.Item = item
		return nil
	})
}

// GetShare retrieves a share with its item.
func (s *Store) GetShare(ctx context.Context, id int64) (*store.Share, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var sh store.Share
	if err := db.Preload("Item").First(&sh, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &sh, nil
}

// FindShareByPath retrieves the share of owner for path.
func (s *Store) FindShareByPath(ctx context.Context, owner, path string) (*store.Share, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var sh store.Share
	if err := db.Preload("Item").Where(quoteUser(db)+" = ? AND path = ?", owner, path).Order("id").First(&sh).Error; err != nil {
		return nil, notFound(err)
	}
	return &sh, nil
}

// ListSharesByOwner returns the shares of owner ordered by id.
func (s *Store) ListSharesByOwner(ctx context.Context, owner string) ([]*store.Share, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var shares []*store.Share
	if err := db.Preload("Item").Where(quoteUser(db)+" = ?", owner).Order("id").Find(&shares).Error; err != nil {
		return nil, err
	}
	return shares, nil
}

// RenameSharePaths rewrites share and item paths below oldPath after a move.
func (s *Store) RenameSharePaths(ctx context.Context, owner, oldPath, newPath string) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	var renamed int64
	err = db.Transaction(func(tx *gorm.DB) error {
		var shares []*store.Share
		if err := tx.Where(quoteUser(tx)+" = ? AND (path = ? OR path LIKE ? ESCAPE '\\')",
			owner, oldPath, escapeLike(oldPath)+"/%").Find(&shares).Error; err != nil {
			return err
		}
		for _, sh := range shares {
			p := newPath + strings.TrimPrefix(sh.Path, oldPath)
			if err := tx.Model(&store.Share{}).Where("id = ?", sh.ID).Update("path", p).Error; err != nil {
				return err
			}
			if err := tx.Model(&store.ShareItem{}).Where("share_id = ?", sh.ID).Update("path", p).Error; err != nil {
				return err
			}
			renamed++
		}
		return nil
	})
	return renamed, err
}

// DeleteShare removes a share and its item.
func (s *Store) DeleteShare(ctx context.Context, id int64) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("share_id = ?", id).Delete(&store.ShareItem{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&store.Share{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// DeleteSharesUnder removes the shares of owner at or below path and revokes
// their invitations.
func (s *Store) DeleteSharesUnder(ctx context.Context, owner, path string) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	var deleted int64
	err = db.Transaction(func(tx *gorm.DB) error {
		var ids []int64
		if err := tx.Model(&store.Share{}).
			Where(quoteUser(tx)+" = ? AND (path = ? OR path LIKE ? ESCAPE '\\')", owner, path, escapeLike(path)+"/%").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Model(&store.Invitation{}).
			Where("share_id IN ? AND state <> ?", ids, store.InvitationRevoked).
			Updates(map[string]any{"state": store.InvitationRevoked, "updated_at": time.Now().UTC()}).Error; err != nil {
			return err
		}
		if err := tx.Where("share_id IN ?", ids).Delete(&store.ShareItem{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&store.Share{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}

// InvitationStore implementation

// CreateInvitation inserts an invitation, assigning inv.ID.
func (s *Store) CreateInvitation(ctx context.Context, inv *store.Invitation) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return db.Create(inv).Error
}

// GetInvitation retrieves an invitation by id.
func (s *Store) GetInvitation(ctx context.Context, id int64) (*store.Invitation, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var inv store.Invitation
	if err := db.First(&inv, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

// ListInvitations returns the invitations of receiver not in excludeState.
func (s *Store) ListInvitations(ctx context.Context, receiver, excludeState string) ([]*store.Invitation, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Where("receiver = ?", receiver)
	if excludeState != "" {
		q = q.Where("state <> ?", excludeState)
	}
	var invs []*store.Invitation
	if err := q.Order("id").Find(&invs).Error; err != nil {
		return nil, err
	}
	return invs, nil
}

// ListShareInvitations returns every invitation of a share.
func (s *Store) ListShareInvitations(ctx context.Context, shareID int64) ([]*store.Invitation, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var invs []*store.Invitation
	if err := db.Where("share_id = ?", shareID).Order("id").Find(&invs).Error; err != nil {
		return nil, err
	}
	return invs, nil
}

// ToggleInvitationState is a single conditional UPDATE; concurrent togglers
// cannot both observe the old state.
func (s *Store) ToggleInvitationState(ctx context.Context, id int64, receiver, state string) (bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	res := db.Model(&store.Invitation{}).
		Where("id = ? AND receiver = ? AND state <> ?", id, receiver, state).
		Updates(map[string]any{"state": state, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetShareInvitationsState moves the invitations of a share to state.
func (s *Store) SetShareInvitationsState(ctx context.Context, shareID int64, receiver, state string) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	q := db.Model(&store.Invitation{}).Where("share_id = ? AND state <> ?", shareID, state)
	if receiver != "" {
		q = q.Where("receiver = ?", receiver)
	}
	res := q.Updates(map[string]any{"state": state, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

// quoteUser quotes the "user" column, a reserved word in postgres.
func quoteUser(db *gorm.DB) string {
	var sb strings.Builder
	db.Dialector.QuoteTo(&sb, "user")
	return sb.String()
}

var _ store.Datastore = (*Store)(nil)

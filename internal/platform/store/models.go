package store

import "time"

// Invitation states.
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationRejected = "rejected"
	InvitationRevoked  = "revoked"
)

// User is a localbox account. The name doubles as the home directory name.
type User struct {
	Name       string `gorm:"primaryKey;size:255"`
	PublicKey  string `gorm:"type:text"`
	PrivateKey string `gorm:"type:text"`
}

func (User) TableName() string { return "users" }

// Key is the encryption key and IV of a path for one user.
type Key struct {
	ID   int64  `gorm:"primaryKey;autoIncrement"`
	Path string `gorm:"size:1024;not null;uniqueIndex:idx_keys_path_user;index"`
	User string `gorm:"column:user;size:255;not null;uniqueIndex:idx_keys_path_user"`
	Key  string `gorm:"type:text"`
	IV   string `gorm:"column:iv;type:text"`
}

func (Key) TableName() string { return "keys" }

// Share grants access to Path inside the home of User (the owner).
type Share struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	User      string `gorm:"column:user;size:255;not null;index:idx_shares_user_path"`
	Path      string `gorm:"size:1024;not null;index:idx_shares_user_path"`
	CreatedAt time.Time
	Item      ShareItem `gorm:"foreignKey:ShareID"`
}

func (Share) TableName() string { return "shares" }

// ShareItem is the metadata snapshot taken when a share is created.
type ShareItem struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	ShareID    int64  `gorm:"uniqueIndex"`
	Path       string `gorm:"size:1024"`
	Title      string
	Icon       string
	IsDir      bool
	HasKeys    bool
	IsShare    bool
	IsShared   bool
	ModifiedAt time.Time
}

func (ShareItem) TableName() string { return "shareitem" }

// Invitation tracks a grantee's response to a share.
type Invitation struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Sender    string `gorm:"size:255;not null"`
	Receiver  string `gorm:"size:255;not null;index"`
	ShareID   int64  `gorm:"index"`
	State     string `gorm:"size:32;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Invitation) TableName() string { return "invitations" }

// Models lists every table, in migration order.
func Models() []any {
	return []any{&User{}, &Key{}, &Share{}, &ShareItem{}, &Invitation{}}
}

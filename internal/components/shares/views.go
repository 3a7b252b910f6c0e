package shares

import (
	"time"

	"github.com/MahdiBaghbani/localbox-go/internal/platform/store"
)

// IdentityView is a user as listed in a share.
type IdentityView struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

func userIdentity(name string) IdentityView {
	return IdentityView{ID: name, Title: name, Type: TypeUser}
}

// ItemView is the metadata snapshot of a shared entry.
type ItemView struct {
	Icon       string `json:"icon"`
	Path       string `json:"path"`
	HasKeys    bool   `json:"has_keys"`
	IsShare    bool   `json:"is_share"`
	IsShared   bool   `json:"is_shared"`
	ModifiedAt string `json:"modified_at"`
	Title      string `json:"title"`
	IsDir      bool   `json:"is_dir"`
}

func itemView(it store.ShareItem) ItemView {
	return ItemView{
		Icon:       it.Icon,
		Path:       it.Path,
		HasKeys:    it.HasKeys,
		IsShare:    it.IsShare,
		IsShared:   it.IsShared,
		ModifiedAt: it.ModifiedAt.UTC().Format(time.RFC3339),
		Title:      it.Title,
		IsDir:      it.IsDir,
	}
}

// ShareView is a share with the identities that can access it. The owner
// comes first, grantees follow in name order.
type ShareView struct {
	ID         int64          `json:"id"`
	Identities []IdentityView `json:"identities"`
	Item       ItemView       `json:"item"`
}

// InvitationView is an invitation of the calling user.
type InvitationView struct {
	ID     int64      `json:"id"`
	Sender string     `json:"sender"`
	State  string     `json:"state"`
	Share  *ShareView `json:"share"`
	Item   *ItemView  `json:"item"`
}

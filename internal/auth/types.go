package auth

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Account is a person able to authenticate. PasswordHash never leaves the
// service boundary; handlers serialize View instead.
type Account struct {
	ID              uuid.UUID
	Name            string
	Email           string
	EmailVerifiedAt *time.Time
	Username        string
	PasswordHash    string
	ProfilePhotoID  *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// AccountView is the public projection of an account.
type AccountView struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Username        string     `json:"username"`
	EmailVerifiedAt *time.Time `json:"email_verified_at"`
	ProfilePhotoID  *string    `json:"profile_photo_id"`
}

func (a Account) View() AccountView {
	return AccountView{
		ID:              a.ID,
		Name:            a.Name,
		Email:           a.Email,
		Username:        a.Username,
		EmailVerifiedAt: a.EmailVerifiedAt,
		ProfilePhotoID:  a.ProfilePhotoID,
	}
}

// CatalogEntry is a permission or a role. Both share one shape: a stable
// unique code and a mutable display name.
type CatalogEntry struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
	Name string    `json:"name"`
}

type (
	Permission = CatalogEntry
	Role       = CatalogEntry
)

// Catalog selects the permission or role catalog together with its
// account association table.
type Catalog string

const (
	CatalogPermissions Catalog = "permissions"
	CatalogRoles       Catalog = "roles"
)

func (c Catalog) Valid() bool {
	return c == CatalogPermissions || c == CatalogRoles
}

// Token is a persisted bearer credential. ID doubles as the secret.
type Token struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// Association is one account<->catalog entry row.
type Association struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	EntryID   uuid.UUID
}

// Link returns the association in the shape consumed by Reconcile.
func (a Association) Link() Link[uuid.UUID, uuid.UUID] {
	return Link[uuid.UUID, uuid.UUID]{Row: a.ID, Member: a.EntryID}
}

// ListQuery drives paginated listings.
type ListQuery struct {
	Page   int
	Limit  int
	Search string
	Order  string
	Sort   string
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	// maxPage keeps Offset within int.
	maxPage = math.MaxInt / maxPageLimit
)

// Normalize clamps paging values and whitelists ordering against allowed
// columns; the first allowed column is the default.
func (q ListQuery) Normalize(allowed ...string) ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Page > maxPage {
		q.Page = maxPage
	}
	if q.Limit <= 0 {
		q.Limit = defaultPageLimit
	}
	if q.Limit > maxPageLimit {
		q.Limit = maxPageLimit
	}
	order := ""
	for _, col := range allowed {
		if q.Order == col {
			order = col
			break
		}
	}
	if order == "" && len(allowed) > 0 {
		order = allowed[0]
	}
	q.Order = order
	if q.Sort != "desc" {
		q.Sort = "asc"
	}
	return q
}

// Offset is the number of rows to skip for the current page.
func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// Page is one slice of a listing.
type Page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

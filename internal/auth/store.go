package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AccountStore persists accounts. Every lookup skips soft-deleted rows.
type AccountStore interface {
	CreateAccount(ctx context.Context, a Account) (Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (Account, error)
	// FindAccountByLogin matches login against email or username.
	FindAccountByLogin(ctx context.Context, login string) (Account, error)
	ListAccounts(ctx context.Context, q ListQuery) (Page[Account], error)
	// EmailInUse and UsernameInUse ignore the account identified by except.
	EmailInUse(ctx context.Context, email string, except uuid.UUID) (bool, error)
	UsernameInUse(ctx context.Context, username string, except uuid.UUID) (bool, error)
	UpdateProfile(ctx context.Context, a Account) (Account, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	// SoftDeleteAccount marks the account deleted and drops its tokens in one step.
	SoftDeleteAccount(ctx context.Context, id uuid.UUID, at time.Time) error
}

// TokenStore persists bearer tokens.
type TokenStore interface {
	IssueToken(ctx context.Context, t Token) error
	RevokeAllTokens(ctx context.Context, accountID uuid.UUID) (int64, error)
	PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// PrincipalStore holds the lookups behind token resolution. Each one is a
// single typed query; the resolver assembles the result.
type PrincipalStore interface {
	// ResolveToken returns the token and its owning account when the token
	// exists, has not expired at now, and the account is not deleted.
	ResolveToken(ctx context.Context, id uuid.UUID, now time.Time) (Token, Account, error)
	AttachedEntries(ctx context.Context, c Catalog, accountID uuid.UUID) ([]CatalogEntry, error)
}

// CatalogStore manages permissions and roles and their account associations.
type CatalogStore interface {
	CreateEntry(ctx context.Context, c Catalog, e CatalogEntry) (CatalogEntry, error)
	GetEntry(ctx context.Context, c Catalog, id uuid.UUID) (CatalogEntry, error)
	ListEntries(ctx context.Context, c Catalog, q ListQuery) (Page[CatalogEntry], error)
	FindEntries(ctx context.Context, c Catalog, ids []uuid.UUID) ([]CatalogEntry, error)
	RenameEntry(ctx context.Context, c Catalog, id uuid.UUID, name string) (CatalogEntry, error)
	DeleteEntry(ctx context.Context, c Catalog, id uuid.UUID) error
	// SyncEntries replaces the account's associations in c with desired.
	// Concurrent calls for one account are serialized; the final state is
	// exactly one caller's desired set.
	SyncEntries(ctx context.Context, c Catalog, accountID uuid.UUID, desired []uuid.UUID) (Plan[uuid.UUID, uuid.UUID], error)
}

// Store is everything the service needs from persistence.
type Store interface {
	AccountStore
	TokenStore
	PrincipalStore
	CatalogStore
}

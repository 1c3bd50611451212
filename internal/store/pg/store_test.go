package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"authcore.org/internal/auth"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestResolveTokenJoinsLiveAccount(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	tokenID, accountID := uuid.New(), uuid.New()
	exp := now.Add(time.Hour)

	mock.ExpectQuery(`from tokens t\s+join accounts a on a.id = t.account_id`).
		WithArgs(tokenID, now).
		WillReturnRows(sqlmock.NewRows([]string{
			"t.id", "t.account_id", "t.expires_at", "t.created_at",
			"a.id", "a.name", "a.email", "a.email_verified_at", "a.username", "a.password", "a.profile_photo_id", "a.created_at", "a.updated_at",
		}).AddRow(
			tokenID.String(), accountID.String(), exp, now,
			accountID.String(), "Alice", "alice@example.com", nil, "alice", "$argon2id$...", "photo-1", now, now,
		))

	tok, acct, err := s.ResolveToken(context.Background(), tokenID, now)
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if tok.ID != tokenID || tok.AccountID != accountID {
		t.Fatalf("unexpected token %+v", tok)
	}
	if tok.ExpiresAt == nil || !tok.ExpiresAt.Equal(exp) {
		t.Fatalf("expected expiry %v, got %v", exp, tok.ExpiresAt)
	}
	if acct.Username != "alice" || acct.EmailVerifiedAt != nil {
		t.Fatalf("unexpected account %+v", acct)
	}
	if acct.ProfilePhotoID == nil || *acct.ProfilePhotoID != "photo-1" {
		t.Fatalf("expected profile photo, got %v", acct.ProfilePhotoID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResolveTokenUnknown(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`from tokens t`).WillReturnRows(sqlmock.NewRows([]string{"t.id"}))

	_, _, err := s.ResolveToken(context.Background(), uuid.New(), time.Now())
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAttachedEntriesUsesCatalogTables(t *testing.T) {
	s, mock := newMock(t)
	accountID := uuid.New()
	read := uuid.New()

	mock.ExpectQuery(`from account_roles l\s+join roles e on e.id = l.role_id`).
		WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name"}).
			AddRow(read.String(), "ADMIN", "admin").
			AddRow(read.String(), "ADMIN", "admin"))

	entries, err := s.AttachedEntries(context.Background(), auth.CatalogRoles, accountID)
	if err != nil {
		t.Fatalf("AttachedEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected duplicate rows to pass through, got %d", len(entries))
	}
	if _, err := s.AttachedEntries(context.Background(), auth.Catalog("groups"), accountID); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown catalog, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSyncEntriesLocksThenReconciles(t *testing.T) {
	s, mock := newMock(t)
	accountID := uuid.New()
	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()
	row1, row2 := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`select id from accounts where id = \$1 and deleted_at is null for update`).
		WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(accountID.String()))
	mock.ExpectQuery(`select id, permission_id\s+from account_permissions`).
		WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "permission_id"}).
			AddRow(row1.String(), p1.String()).
			AddRow(row2.String(), p2.String()))
	mock.ExpectExec(`delete from account_permissions where id = \$1`).
		WithArgs(row1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into account_permissions \(id, account_id, permission_id\)`).
		WithArgs(sqlmock.AnyArg(), accountID, p3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	plan, err := s.SyncEntries(context.Background(), auth.CatalogPermissions, accountID, []uuid.UUID{p2, p3})
	if err != nil {
		t.Fatalf("SyncEntries: %v", err)
	}
	if len(plan.Attach) != 1 || plan.Attach[0] != p3 {
		t.Fatalf("unexpected attach %v", plan.Attach)
	}
	if len(plan.Detach) != 1 || plan.Detach[0] != row1 {
		t.Fatalf("unexpected detach %v", plan.Detach)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSyncEntriesNoopCommits(t *testing.T) {
	s, mock := newMock(t)
	accountID, p1, row1 := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`for update`).WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(accountID.String()))
	mock.ExpectQuery(`from account_roles`).WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "role_id"}).AddRow(row1.String(), p1.String()))
	mock.ExpectCommit()

	plan, err := s.SyncEntries(context.Background(), auth.CatalogRoles, accountID, []uuid.UUID{p1})
	if err != nil {
		t.Fatalf("SyncEntries: %v", err)
	}
	if !plan.Empty() {
		t.Fatalf("expected empty plan, got %+v", plan)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSyncEntriesMissingAccountRollsBack(t *testing.T) {
	s, mock := newMock(t)
	accountID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`for update`).WithArgs(accountID).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := s.SyncEntries(context.Background(), auth.CatalogRoles, accountID, []uuid.UUID{uuid.New()})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSyncEntriesForeignKeyViolation(t *testing.T) {
	s, mock := newMock(t)
	accountID, gone := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`for update`).WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(accountID.String()))
	mock.ExpectQuery(`from account_roles`).WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "role_id"}))
	mock.ExpectExec(`insert into account_roles`).
		WithArgs(sqlmock.AnyArg(), accountID, gone).
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectRollback()

	_, err := s.SyncEntries(context.Background(), auth.CatalogRoles, accountID, []uuid.UUID{gone})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateEntryDuplicateCode(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`insert into permissions`).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := s.CreateEntry(context.Background(), auth.CatalogPermissions, auth.CatalogEntry{ID: uuid.New(), Code: "USER_READ", Name: "read"})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestFindEntriesPlaceholders(t *testing.T) {
	s, mock := newMock(t)
	a, b := uuid.New(), uuid.New()
	mock.ExpectQuery(`from roles\s+where id in \(\$1, \$2\)`).
		WithArgs(a, b).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name"}).AddRow(a.String(), "ADMIN", "admin"))

	found, err := s.FindEntries(context.Background(), auth.CatalogRoles, []uuid.UUID{a, b})
	if err != nil {
		t.Fatalf("FindEntries: %v", err)
	}
	if len(found) != 1 || found[0].ID != a {
		t.Fatalf("unexpected entries %+v", found)
	}
}

func TestTokensIssueRevokePurge(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	now := time.Now().UTC()
	tok := auth.Token{ID: uuid.New(), AccountID: uuid.New(), CreatedAt: now}

	mock.ExpectExec(`insert into tokens`).
		WithArgs(tok.ID, tok.AccountID, nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`delete from tokens where account_id = \$1`).
		WithArgs(tok.AccountID).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`delete from tokens where expires_at is not null and expires_at <= \$1`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := s.IssueToken(ctx, tok); err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if n, err := s.RevokeAllTokens(ctx, tok.AccountID); err != nil || n != 3 {
		t.Fatalf("RevokeAllTokens: n=%d err=%v", n, err)
	}
	if n, err := s.PurgeExpiredTokens(ctx, now); err != nil || n != 2 {
		t.Fatalf("PurgeExpiredTokens: n=%d err=%v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSoftDeleteAccountRevokesInOneTx(t *testing.T) {
	s, mock := newMock(t)
	id := uuid.New()
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`update accounts set deleted_at`).WithArgs(id, at).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`delete from tokens where account_id`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	if err := s.SoftDeleteAccount(context.Background(), id, at); err != nil {
		t.Fatalf("SoftDeleteAccount: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec(`update accounts set deleted_at`).WithArgs(id, at).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	if err := s.SoftDeleteAccount(context.Background(), id, at); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestNilDB(t *testing.T) {
	s := &Store{}
	if err := s.Ping(context.Background()); !errors.Is(err, errNoDB) {
		t.Fatalf("expected errNoDB, got %v", err)
	}
	if _, err := s.SyncEntries(context.Background(), auth.CatalogRoles, uuid.New(), nil); !errors.Is(err, errNoDB) {
		t.Fatalf("expected errNoDB, got %v", err)
	}
}

func TestLikePatternEscapes(t *testing.T) {
	if got := likePattern(`A_b%c\`); got != `%a\_b\%c\\%` {
		t.Fatalf("unexpected pattern %q", got)
	}
}

package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"authcore.org/internal/auth"
)

const accountColumns = `id, name, email, email_verified_at, username, password, profile_photo_id, created_at, updated_at, deleted_at`

var accountOrderColumns = map[string]string{
	"name":       "name",
	"username":   "username",
	"email":      "email",
	"created_at": "created_at",
}

func scanAccount(row rowScanner) (auth.Account, error) {
	var (
		a        auth.Account
		verified sql.NullTime
		photo    sql.NullString
		deleted  sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &verified, &a.Username, &a.PasswordHash, &photo, &a.CreatedAt, &a.UpdatedAt, &deleted); err != nil {
		return auth.Account{}, err
	}
	if verified.Valid {
		t := verified.Time
		a.EmailVerifiedAt = &t
	}
	if photo.Valid {
		p := photo.String
		a.ProfilePhotoID = &p
	}
	if deleted.Valid {
		t := deleted.Time
		a.DeletedAt = &t
	}
	return a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a auth.Account) (auth.Account, error) {
	if s.db == nil {
		return auth.Account{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		insert into accounts (id, name, email, username, password, profile_photo_id, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning `+accountColumns,
		a.ID, a.Name, a.Email, a.Username, a.PasswordHash, nullIfEmpty(a.ProfilePhotoID), a.CreatedAt, a.UpdatedAt)
	created, err := scanAccount(row)
	if err != nil {
		return auth.Account{}, mapWriteError(err, "email or username already used")
	}
	return created, nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (auth.Account, error) {
	if s.db == nil {
		return auth.Account{}, errNoDB
	}
	a, err := scanAccount(s.db.QueryRowContext(ctx, `
		select `+accountColumns+`
		from accounts
		where id = $1 and deleted_at is null
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Account{}, auth.ErrNotFound
	}
	return a, err
}

func (s *Store) FindAccountByLogin(ctx context.Context, login string) (auth.Account, error) {
	if s.db == nil {
		return auth.Account{}, errNoDB
	}
	a, err := scanAccount(s.db.QueryRowContext(ctx, `
		select `+accountColumns+`
		from accounts
		where (email = $1 or username = $1) and deleted_at is null
		limit 1
	`, login))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Account{}, auth.ErrNotFound
	}
	return a, err
}

func (s *Store) ListAccounts(ctx context.Context, q auth.ListQuery) (auth.Page[auth.Account], error) {
	if s.db == nil {
		return auth.Page[auth.Account]{}, errNoDB
	}
	where := `deleted_at is null`
	var args []any
	if q.Search != "" {
		where += ` and (lower(name) like $1 or email like $1 or username like $1)`
		args = append(args, likePattern(q.Search))
	}

	page := auth.Page[auth.Account]{Page: q.Page, Limit: q.Limit, Items: []auth.Account{}}
	if err := s.db.QueryRowContext(ctx, `select count(*) from accounts where `+where, args...).Scan(&page.Total); err != nil {
		return auth.Page[auth.Account]{}, err
	}

	order, ok := accountOrderColumns[q.Order]
	if !ok {
		order = "name"
	}
	query := fmt.Sprintf(`
		select %s
		from accounts
		where %s
		order by %s %s, id
		limit $%d offset $%d
	`, accountColumns, where, order, sortDirection(q.Sort), len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, q.Limit, q.Offset())...)
	if err != nil {
		return auth.Page[auth.Account]{}, err
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return auth.Page[auth.Account]{}, err
		}
		page.Items = append(page.Items, a)
	}
	if err := rows.Err(); err != nil {
		return auth.Page[auth.Account]{}, err
	}
	return page, nil
}

func (s *Store) EmailInUse(ctx context.Context, email string, except uuid.UUID) (bool, error) {
	return s.inUse(ctx, `select exists(select 1 from accounts where email = $1 and id <> $2)`, email, except)
}

func (s *Store) UsernameInUse(ctx context.Context, username string, except uuid.UUID) (bool, error) {
	return s.inUse(ctx, `select exists(select 1 from accounts where username = $1 and id <> $2)`, username, except)
}

func (s *Store) inUse(ctx context.Context, query, value string, except uuid.UUID) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	var taken bool
	if err := s.db.QueryRowContext(ctx, query, value, except).Scan(&taken); err != nil {
		return false, err
	}
	return taken, nil
}

func (s *Store) UpdateProfile(ctx context.Context, a auth.Account) (auth.Account, error) {
	if s.db == nil {
		return auth.Account{}, errNoDB
	}
	updated, err := scanAccount(s.db.QueryRowContext(ctx, `
		update accounts
		set name = $2, email = $3, username = $4, profile_photo_id = $5, updated_at = $6
		where id = $1 and deleted_at is null
		returning `+accountColumns,
		a.ID, a.Name, a.Email, a.Username, nullIfEmpty(a.ProfilePhotoID), a.UpdatedAt))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Account{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Account{}, mapWriteError(err, "email or username already used")
	}
	return updated, nil
}

func (s *Store) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update accounts set password = $2, updated_at = now()
		where id = $1 and deleted_at is null
	`, id, hash)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) SoftDeleteAccount(ctx context.Context, id uuid.UUID, at time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update accounts set deleted_at = $2, updated_at = $2
		where id = $1 and deleted_at is null
	`, id, at)
	if err != nil {
		return err
	}
	if err := expectAffected(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from tokens where account_id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func expectAffected(res sql.Result) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

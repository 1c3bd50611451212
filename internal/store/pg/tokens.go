package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"authcore.org/internal/auth"
)

func (s *Store) IssueToken(ctx context.Context, t auth.Token) error {
	if s.db == nil {
		return errNoDB
	}
	var expires sql.NullTime
	if t.ExpiresAt != nil {
		expires = sql.NullTime{Time: *t.ExpiresAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into tokens (id, account_id, expires_at, created_at)
		values ($1, $2, $3, $4)
	`, t.ID, t.AccountID, expires, t.CreatedAt)
	if err != nil {
		return mapWriteError(err, "token id already issued")
	}
	return nil
}

func (s *Store) RevokeAllTokens(ctx context.Context, accountID uuid.UUID) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from tokens where account_id = $1`, accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from tokens where expires_at is not null and expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ResolveToken loads a live token with its owner in one query.
func (s *Store) ResolveToken(ctx context.Context, id uuid.UUID, now time.Time) (auth.Token, auth.Account, error) {
	if s.db == nil {
		return auth.Token{}, auth.Account{}, errNoDB
	}
	var (
		t        auth.Token
		expires  sql.NullTime
		a        auth.Account
		verified sql.NullTime
		photo    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select t.id, t.account_id, t.expires_at, t.created_at,
		       a.id, a.name, a.email, a.email_verified_at, a.username, a.password, a.profile_photo_id, a.created_at, a.updated_at
		from tokens t
		join accounts a on a.id = t.account_id
		where t.id = $1
		  and (t.expires_at is null or t.expires_at > $2)
		  and a.deleted_at is null
	`, id, now).Scan(
		&t.ID, &t.AccountID, &expires, &t.CreatedAt,
		&a.ID, &a.Name, &a.Email, &verified, &a.Username, &a.PasswordHash, &photo, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Token{}, auth.Account{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Token{}, auth.Account{}, err
	}
	if expires.Valid {
		e := expires.Time
		t.ExpiresAt = &e
	}
	if verified.Valid {
		v := verified.Time
		a.EmailVerifiedAt = &v
	}
	if photo.Valid {
		p := photo.String
		a.ProfilePhotoID = &p
	}
	return t, a, nil
}

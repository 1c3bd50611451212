package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"authcore.org/internal/auth"
)

func (s *Store) CreateEntry(ctx context.Context, c auth.Catalog, e auth.CatalogEntry) (auth.CatalogEntry, error) {
	if s.db == nil {
		return auth.CatalogEntry{}, errNoDB
	}
	tbl, err := tablesFor(c)
	if err != nil {
		return auth.CatalogEntry{}, err
	}
	var out auth.CatalogEntry
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`
		insert into %s (id, code, name)
		values ($1, $2, $3)
		returning id, code, name
	`, tbl.entries), e.ID, e.Code, e.Name).Scan(&out.ID, &out.Code, &out.Name)
	if err != nil {
		return auth.CatalogEntry{}, mapWriteError(err, fmt.Sprintf("code %s already exists", e.Code))
	}
	return out, nil
}

func (s *Store) GetEntry(ctx context.Context, c auth.Catalog, id uuid.UUID) (auth.CatalogEntry, error) {
	if s.db == nil {
		return auth.CatalogEntry{}, errNoDB
	}
	tbl, err := tablesFor(c)
	if err != nil {
		return auth.CatalogEntry{}, err
	}
	var e auth.CatalogEntry
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`select id, code, name from %s where id = $1`, tbl.entries), id).
		Scan(&e.ID, &e.Code, &e.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.CatalogEntry{}, auth.ErrNotFound
	}
	return e, err
}

func (s *Store) ListEntries(ctx context.Context, c auth.Catalog, q auth.ListQuery) (auth.Page[auth.CatalogEntry], error) {
	if s.db == nil {
		return auth.Page[auth.CatalogEntry]{}, errNoDB
	}
	tbl, err := tablesFor(c)
	if err != nil {
		return auth.Page[auth.CatalogEntry]{}, err
	}
	where := `true`
	var args []any
	if q.Search != "" {
		where = `(lower(code) like $1 or name like $1)`
		args = append(args, likePattern(q.Search))
	}

	page := auth.Page[auth.CatalogEntry]{Page: q.Page, Limit: q.Limit, Items: []auth.CatalogEntry{}}
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`select count(*) from %s where %s`, tbl.entries, where), args...).Scan(&page.Total); err != nil {
		return auth.Page[auth.CatalogEntry]{}, err
	}
	order := "code"
	if q.Order == "name" {
		order = "name"
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select id, code, name
		from %s
		where %s
		order by %s %s, id
		limit $%d offset $%d
	`, tbl.entries, where, order, sortDirection(q.Sort), len(args)+1, len(args)+2), append(args, q.Limit, q.Offset())...)
	if err != nil {
		return auth.Page[auth.CatalogEntry]{}, err
	}
	defer rows.Close()
	page.Items, err = scanEntries(rows)
	if err != nil {
		return auth.Page[auth.CatalogEntry]{}, err
	}
	return page, nil
}

// FindEntries returns the entries among ids that exist; missing ids are
// simply absent from the result.
func (s *Store) FindEntries(ctx context.Context, c auth.Catalog, ids []uuid.UUID) ([]auth.CatalogEntry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if len(ids) == 0 {
		return nil, nil
	}
	tbl, err := tablesFor(c)
	if err != nil {
		return nil, err
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select id, code, name
		from %s
		where id in (%s)
	`, tbl.entries, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) RenameEntry(ctx context.Context, c auth.Catalog, id uuid.UUID, name string) (auth.CatalogEntry, error) {
	if s.db == nil {
		return auth.CatalogEntry{}, errNoDB
	}
	tbl, err := tablesFor(c)
	if err != nil {
		return auth.CatalogEntry{}, err
	}
	var e auth.CatalogEntry
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`
		update %s set name = $2
		where id = $1
		returning id, code, name
	`, tbl.entries), id, name).Scan(&e.ID, &e.Code, &e.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.CatalogEntry{}, auth.ErrNotFound
	}
	return e, err
}

// DeleteEntry removes the entry; association rows go with it by cascade.
func (s *Store) DeleteEntry(ctx context.Context, c auth.Catalog, id uuid.UUID) error {
	if s.db == nil {
		return errNoDB
	}
	tbl, err := tablesFor(c)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`delete from %s where id = $1`, tbl.entries), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// AttachedEntries lists the entries of catalog c linked to the account.
// Duplicate association rows are returned as is; callers collapse by id.
func (s *Store) AttachedEntries(ctx context.Context, c auth.Catalog, accountID uuid.UUID) ([]auth.CatalogEntry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	tbl, err := tablesFor(c)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select e.id, e.code, e.name
		from %s l
		join %s e on e.id = l.%s
		where l.account_id = $1
		order by e.code
	`, tbl.links, tbl.entries, tbl.column), accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]auth.CatalogEntry, error) {
	out := []auth.CatalogEntry{}
	for rows.Next() {
		var e auth.CatalogEntry
		if err := rows.Scan(&e.ID, &e.Code, &e.Name); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

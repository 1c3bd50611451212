package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"authcore.org/internal/auth"
)

// SyncEntries replaces the account's associations in catalog c with desired
// inside one transaction. The account row is locked first, so concurrent
// syncs of one account queue up and each one reconciles against the state
// the previous one committed.
func (s *Store) SyncEntries(ctx context.Context, c auth.Catalog, accountID uuid.UUID, desired []uuid.UUID) (auth.Plan[uuid.UUID, uuid.UUID], error) {
	var plan auth.Plan[uuid.UUID, uuid.UUID]
	if s.db == nil {
		return plan, errNoDB
	}
	tbl, err := tablesFor(c)
	if err != nil {
		return plan, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return plan, err
	}
	defer func() { _ = tx.Rollback() }()

	var locked uuid.UUID
	err = tx.QueryRowContext(ctx, `select id from accounts where id = $1 and deleted_at is null for update`, accountID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return plan, auth.ErrNotFound
	}
	if err != nil {
		return plan, fmt.Errorf("lock account: %w", err)
	}

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		select id, %s
		from %s
		where account_id = $1
		order by id
	`, tbl.column, tbl.links), accountID)
	if err != nil {
		return plan, fmt.Errorf("load associations: %w", err)
	}
	var existing []auth.Link[uuid.UUID, uuid.UUID]
	for rows.Next() {
		var a auth.Association
		if err := rows.Scan(&a.ID, &a.EntryID); err != nil {
			rows.Close()
			return plan, err
		}
		existing = append(existing, a.Link())
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return plan, err
	}
	rows.Close()

	plan = auth.Reconcile(existing, desired)
	if plan.Empty() {
		return plan, tx.Commit()
	}

	for _, rowID := range plan.Detach {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where id = $1`, tbl.links), rowID); err != nil {
			return auth.Plan[uuid.UUID, uuid.UUID]{}, fmt.Errorf("detach: %w", err)
		}
	}
	for _, entryID := range plan.Attach {
		rowID, err := uuid.NewRandom()
		if err != nil {
			return auth.Plan[uuid.UUID, uuid.UUID]{}, err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			insert into %s (id, account_id, %s)
			values ($1, $2, $3)
		`, tbl.links, tbl.column), rowID, accountID, entryID); err != nil {
			return auth.Plan[uuid.UUID, uuid.UUID]{}, mapWriteError(err, "association already exists")
		}
	}
	if err := tx.Commit(); err != nil {
		return auth.Plan[uuid.UUID, uuid.UUID]{}, err
	}
	return plan, nil
}

//go:build integration

package pg

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"authcore.org/internal/auth"
	"authcore.org/internal/migrate"
)

// setupPostgres starts a container and applies the embedded schema.
func setupPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("authcore_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	store, err := Open(dsn, PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Ping(ctx))

	_, err = migrate.NewManager(store.DB(), migrate.Embedded()).Up(ctx)
	require.NoError(t, err, "Failed to run migrations")
	return store
}

func countLinks(t *testing.T, db *sql.DB, accountID uuid.UUID) map[uuid.UUID]int {
	t.Helper()
	rows, err := db.Query(`select permission_id from account_permissions where account_id = $1`, accountID)
	require.NoError(t, err)
	defer rows.Close()
	out := map[uuid.UUID]int{}
	for rows.Next() {
		var id uuid.UUID
		require.NoError(t, rows.Scan(&id))
		out[id]++
	}
	require.NoError(t, rows.Err())
	return out
}

func TestIntegrationConcurrentSyncConverges(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	store := setupPostgres(t)

	now := time.Now().UTC()
	account, err := store.CreateAccount(ctx, auth.Account{
		ID: uuid.New(), Name: "Alice", Email: "alice@example.com", Username: "alice",
		PasswordHash: "x", CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	var ids []uuid.UUID
	for _, code := range []string{"P1", "P2", "P3"} {
		e, err := store.CreateEntry(ctx, auth.CatalogPermissions, auth.CatalogEntry{ID: uuid.New(), Code: code, Name: code})
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	for round := 0; round < 20; round++ {
		_, err := store.SyncEntries(ctx, auth.CatalogPermissions, account.ID, nil)
		require.NoError(t, err)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := store.SyncEntries(ctx, auth.CatalogPermissions, account.ID, ids)
				assert.NoError(t, err)
			}()
		}
		close(start)
		wg.Wait()

		counts := countLinks(t, store.DB(), account.ID)
		require.Len(t, counts, len(ids), "round %d", round)
		for _, id := range ids {
			require.Equal(t, 1, counts[id], "round %d: duplicate rows for %s", round, id)
		}
	}
}

func TestIntegrationResolveAndRevoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	store := setupPostgres(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	account, err := store.CreateAccount(ctx, auth.Account{
		ID: uuid.New(), Name: "Bob", Email: "bob@example.com", Username: "bob",
		PasswordHash: "x", CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	_, err = store.CreateAccount(ctx, auth.Account{
		ID: uuid.New(), Name: "Bob 2", Email: "bob@example.com", Username: "bob2",
		PasswordHash: "x", CreatedAt: now, UpdatedAt: now,
	})
	require.ErrorIs(t, err, auth.ErrConflict)

	tok := auth.Token{ID: uuid.New(), AccountID: account.ID, CreatedAt: now}
	require.NoError(t, store.IssueToken(ctx, tok))

	_, got, err := store.ResolveToken(ctx, tok.ID, now)
	require.NoError(t, err)
	require.Equal(t, account.ID, got.ID)

	n, err := store.RevokeAllTokens(ctx, account.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	_, _, err = store.ResolveToken(ctx, tok.ID, now)
	require.ErrorIs(t, err, auth.ErrNotFound)
}

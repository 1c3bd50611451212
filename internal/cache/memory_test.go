package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"authcore.org/internal/auth"
)

func principalFor(accountID uuid.UUID, perms ...string) auth.Principal {
	var entries []auth.CatalogEntry
	for _, p := range perms {
		entries = append(entries, auth.CatalogEntry{ID: uuid.New(), Code: p})
	}
	return auth.NewPrincipal(auth.AccountView{ID: accountID, Username: "user"}, entries, nil)
}

func TestMemoryPutGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10, time.Minute)
	tok := uuid.New()
	acct := uuid.New()

	_, ok := c.Get(ctx, tok)
	require.False(t, ok)

	c.Put(ctx, tok, principalFor(acct, "USER_READ"), 0)
	got, ok := c.Get(ctx, tok)
	require.True(t, ok)
	require.Equal(t, acct, got.Account.ID)
	require.True(t, got.HasPermission("USER_READ"))
}

func TestMemoryRespectsTokenExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10, time.Hour)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	tok := uuid.New()
	c.Put(ctx, tok, principalFor(uuid.New()), 30*time.Second)
	_, ok := c.Get(ctx, tok)
	require.True(t, ok)

	now = now.Add(31 * time.Second)
	_, ok = c.Get(ctx, tok)
	require.False(t, ok, "entry must not outlive the token")
}

func TestMemoryInvalidateAccount(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10, time.Minute)
	alice, bob := uuid.New(), uuid.New()
	a1, a2, b1 := uuid.New(), uuid.New(), uuid.New()
	c.Put(ctx, a1, principalFor(alice), 0)
	c.Put(ctx, a2, principalFor(alice), 0)
	c.Put(ctx, b1, principalFor(bob), 0)

	c.InvalidateAccount(ctx, alice)

	_, ok := c.Get(ctx, a1)
	require.False(t, ok)
	_, ok = c.Get(ctx, a2)
	require.False(t, ok)
	_, ok = c.Get(ctx, b1)
	require.True(t, ok)

	c.Flush(ctx)
	require.Zero(t, c.Len())
}

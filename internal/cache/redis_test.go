package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func setupRedisCache(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	c, err := NewRedis(context.Background(), RedisConfig{URL: "redis://" + mr.Addr(), TTL: ttl})
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create Redis cache: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
		mr.Close()
	})
	return c, mr
}

func TestRedisPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := setupRedisCache(t, time.Minute)
	tok, acct := uuid.New(), uuid.New()

	c.Put(ctx, tok, principalFor(acct, "USER_READ", "USER_WRITE"), 0)

	got, ok := c.Get(ctx, tok)
	require.True(t, ok)
	require.Equal(t, acct, got.Account.ID)
	require.Equal(t, []string{"USER_READ", "USER_WRITE"}, got.PermissionCodes())
	require.Empty(t, got.RoleCodes())
}

func TestRedisTTLCappedByToken(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedisCache(t, time.Hour)
	tok := uuid.New()

	c.Put(ctx, tok, principalFor(uuid.New()), 10*time.Second)
	require.Equal(t, 10*time.Second, mr.TTL(tokenKey(tok)))

	mr.FastForward(11 * time.Second)
	_, ok := c.Get(ctx, tok)
	require.False(t, ok)
}

func TestRedisInvalidateAccount(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedisCache(t, time.Minute)
	alice, bob := uuid.New(), uuid.New()
	a1, a2, b1 := uuid.New(), uuid.New(), uuid.New()
	c.Put(ctx, a1, principalFor(alice), 0)
	c.Put(ctx, a2, principalFor(alice), 0)
	c.Put(ctx, b1, principalFor(bob), 0)

	c.InvalidateAccount(ctx, alice)

	require.False(t, mr.Exists(tokenKey(a1)))
	require.False(t, mr.Exists(tokenKey(a2)))
	require.False(t, mr.Exists(accountKey(alice)))
	_, ok := c.Get(ctx, b1)
	require.True(t, ok)
}

func TestRedisFlush(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedisCache(t, time.Minute)
	require.NoError(t, mr.Set("unrelated", "keep"))
	for i := 0; i < 5; i++ {
		c.Put(ctx, uuid.New(), principalFor(uuid.New()), 0)
	}

	c.Flush(ctx)

	keys := mr.Keys()
	require.Equal(t, []string{"unrelated"}, keys)
}

func TestRedisCorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedisCache(t, time.Minute)
	tok := uuid.New()
	require.NoError(t, mr.Set(tokenKey(tok), "{not json"))

	_, ok := c.Get(ctx, tok)
	require.False(t, ok)
	require.False(t, mr.Exists(tokenKey(tok)))
}

func TestRedisUnavailableIsMiss(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisWithClient(client, time.Minute)
	mr.Close()

	_, ok := c.Get(ctx, uuid.New())
	require.False(t, ok)
	c.Put(ctx, uuid.New(), principalFor(uuid.New()), 0)
	_ = client.Close()
}

func TestRedisInvalidateFailureIsLoggedAsError(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedisCache(t, time.Minute)
	logger, hook := logtest.NewNullLogger()
	c.logger = logger
	tok, acct := uuid.New(), uuid.New()
	c.Put(ctx, tok, principalFor(acct, "USER_READ"), 0)

	mr.SetError("LOADING redis is loading the dataset in memory")
	c.InvalidateAccount(ctx, acct)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, logrus.ErrorLevel, entry.Level)
	require.Equal(t, acct, entry.Data["account_id"])

	mr.SetError("")
	require.True(t, mr.Exists(tokenKey(tok)), "entry survives a failed invalidation")
}

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"authcore.org/internal/auth"
	"authcore.org/internal/obs"
)

const keyPrefix = "authcore:principal:"

// RedisConfig configures the shared principal cache.
type RedisConfig struct {
	URL      string        `yaml:"url" env:"URL"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	PoolSize int           `yaml:"pool_size" env:"POOL_SIZE"`
	TTL      time.Duration `yaml:"-"`
}

// Redis shares resolved principals between instances. Each token key is
// also recorded in a per-account set so an account can be invalidated
// without knowing its token ids. Cache failures are logged and treated as
// misses.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger logrus.FieldLogger
}

var _ auth.PrincipalCache = (*Redis)(nil)

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisWithClient(client, cfg.TTL), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Redis{client: client, ttl: ttl, logger: obs.Logger()}
}

func (r *Redis) Close() error { return r.client.Close() }

func tokenKey(id uuid.UUID) string { return keyPrefix + "token:" + id.String() }

func accountKey(id uuid.UUID) string { return keyPrefix + "account:" + id.String() }

func (r *Redis) Get(ctx context.Context, tokenID uuid.UUID) (auth.Principal, bool) {
	data, err := r.client.Get(ctx, tokenKey(tokenID)).Bytes()
	if err == redis.Nil {
		return auth.Principal{}, false
	}
	if err != nil {
		r.logger.WithError(err).Warn("principal cache get failed")
		return auth.Principal{}, false
	}
	var p auth.Principal
	if err := json.Unmarshal(data, &p); err != nil {
		r.client.Del(ctx, tokenKey(tokenID))
		return auth.Principal{}, false
	}
	return p, true
}

func (r *Redis) Put(ctx context.Context, tokenID uuid.UUID, p auth.Principal, ttl time.Duration) {
	if ttl <= 0 || ttl > r.ttl {
		ttl = r.ttl
	}
	data, err := json.Marshal(p)
	if err != nil {
		r.logger.WithError(err).Warn("principal cache encode failed")
		return
	}
	acct := accountKey(p.Account.ID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, tokenKey(tokenID), data, ttl)
		pipe.SAdd(ctx, acct, tokenKey(tokenID))
		pipe.Expire(ctx, acct, r.ttl)
		return nil
	})
	if err != nil {
		r.logger.WithError(err).Warn("principal cache put failed")
	}
}

func (r *Redis) InvalidateAccount(ctx context.Context, accountID uuid.UUID) {
	acct := accountKey(accountID)
	keys, err := r.client.SMembers(ctx, acct).Result()
	if err != nil {
		r.logger.WithError(err).WithField("account_id", accountID).Error("principal cache invalidate failed; stale entries live until ttl")
		return
	}
	if err := r.client.Del(ctx, append(keys, acct)...).Err(); err != nil {
		r.logger.WithError(err).WithField("account_id", accountID).Error("principal cache invalidate failed; stale entries live until ttl")
	}
}

func (r *Redis) Flush(ctx context.Context) {
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 500).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 500 {
			r.client.Del(ctx, batch...)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		r.client.Del(ctx, batch...)
	}
	if err := iter.Err(); err != nil {
		r.logger.WithError(err).Warn("principal cache flush failed")
	}
}

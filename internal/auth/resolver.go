package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"authcore.org/internal/obs"
	"authcore.org/internal/token"
)

var tracer = otel.Tracer("authcore.org/internal/auth")

// PrincipalCache keeps resolved principals by token id. Implementations must
// never hold a principal past ttl (when ttl > 0) and must drop every entry of
// an account on InvalidateAccount.
type PrincipalCache interface {
	Get(ctx context.Context, tokenID uuid.UUID) (Principal, bool)
	Put(ctx context.Context, tokenID uuid.UUID, p Principal, ttl time.Duration)
	InvalidateAccount(ctx context.Context, accountID uuid.UUID)
	Flush(ctx context.Context)
}

// Resolver turns a bearer token into a Principal.
type Resolver struct {
	store  PrincipalStore
	cache  PrincipalCache
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewResolver builds a resolver; cache may be nil.
func NewResolver(store PrincipalStore, cache PrincipalCache, logger logrus.FieldLogger, now func() time.Time) *Resolver {
	if logger == nil {
		logger = obs.Logger()
	}
	if now == nil {
		now = time.Now
	}
	return &Resolver{store: store, cache: cache, logger: logger, now: now}
}

// Resolve decodes raw and loads the owning account with its permission and
// role sets. Every failure, including storage errors, is ErrUnauthorized;
// storage errors are logged here.
func (r *Resolver) Resolve(ctx context.Context, raw string) (Principal, error) {
	ctx, span := tracer.Start(ctx, "auth.Resolve")
	defer span.End()

	id, err := token.Decode(raw)
	if err != nil {
		obs.ObserveResolve("malformed")
		return Principal{}, ErrUnauthorized
	}
	if r.cache != nil {
		if p, ok := r.cache.Get(ctx, id); ok {
			obs.ObserveResolve("cached")
			return p, nil
		}
	}

	now := r.now().UTC()
	tok, account, err := r.store.ResolveToken(ctx, id, now)
	if errors.Is(err, ErrNotFound) {
		obs.ObserveResolve("unknown")
		return Principal{}, ErrUnauthorized
	}
	if err != nil {
		span.RecordError(err)
		r.logger.WithError(err).Error("resolve token: load account")
		obs.ObserveResolve("error")
		return Principal{}, ErrUnauthorized
	}
	span.SetAttributes(attribute.String("account.id", account.ID.String()))

	var permissions, roles []CatalogEntry
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		permissions, err = r.store.AttachedEntries(gctx, CatalogPermissions, account.ID)
		return err
	})
	g.Go(func() error {
		var err error
		roles, err = r.store.AttachedEntries(gctx, CatalogRoles, account.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		r.logger.WithError(err).WithField("account_id", account.ID).Error("resolve token: load permissions and roles")
		obs.ObserveResolve("error")
		return Principal{}, ErrUnauthorized
	}

	p := NewPrincipal(account.View(), permissions, roles)
	if r.cache != nil {
		var ttl time.Duration
		if tok.ExpiresAt != nil {
			ttl = tok.ExpiresAt.Sub(now)
		}
		r.cache.Put(ctx, id, p, ttl)
	}
	obs.ObserveResolve("ok")
	return p, nil
}

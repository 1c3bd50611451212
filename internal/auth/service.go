package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"authcore.org/internal/obs"
	"authcore.org/internal/token"
)

// Service is the entry point for login, token resolution, relation sync and
// account and catalog management.
type Service struct {
	store    Store
	hasher   *PasswordHasher
	cache    PrincipalCache
	resolver *Resolver
	logger   logrus.FieldLogger
	now      func() time.Time
	tokenTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithHasher overrides the password hasher.
func WithHasher(h *PasswordHasher) ServiceOption {
	return func(s *Service) error {
		if h == nil {
			return errors.New("auth: hasher is nil")
		}
		s.hasher = h
		return nil
	}
}

// WithCache enables the principal cache.
func WithCache(c PrincipalCache) ServiceOption {
	return func(s *Service) error {
		s.cache = c
		return nil
	}
}

// WithLogger overrides the logger.
func WithLogger(l logrus.FieldLogger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// WithTokenTTL sets the lifetime of issued tokens. Zero issues tokens that
// never expire.
func WithTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl < 0 {
			return fmt.Errorf("auth: negative token ttl %s", ttl)
		}
		s.tokenTTL = ttl
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:  store,
		hasher: NewPasswordHasher(DefaultPasswordParams(), 0),
		logger: obs.Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	svc.resolver = NewResolver(store, svc.cache, svc.logger, svc.now)
	return svc, nil
}

// LoginInput carries login credentials.
type LoginInput struct {
	EmailOrUsername string `json:"email_or_username"`
	Password        string `json:"password"`
}

// LoginResult is returned on successful login.
type LoginResult struct {
	Token     string      `json:"token"`
	User      AccountView `json:"user"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}

// Login checks credentials and issues a fresh token. Missing fields yield a
// ValidationError; an unknown account or a wrong password yield
// ErrUnauthorized, and no token is issued.
func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	ctx, span := tracer.Start(ctx, "auth.Login")
	defer span.End()

	login := strings.ToLower(strings.TrimSpace(in.EmailOrUsername))
	var v validation
	if login == "" {
		v.add("email_or_username", "field email or username is required")
	}
	if in.Password == "" {
		v.add("password", "password field is required")
	}
	if err := v.err(); err != nil {
		obs.ObserveLogin("invalid")
		return LoginResult{}, err
	}

	account, err := s.store.FindAccountByLogin(ctx, login)
	switch {
	case errors.Is(err, ErrNotFound):
		// same KDF cost as a real check
		s.hasher.Verify(ctx, s.decoyHash(), uuid.Nil, in.Password)
		obs.ObserveLogin("rejected")
		return LoginResult{}, ErrUnauthorized
	case err != nil:
		obs.ObserveLogin("error")
		return LoginResult{}, fmt.Errorf("login: find account: %w", err)
	}
	if !s.hasher.Verify(ctx, account.PasswordHash, account.ID, in.Password) {
		obs.ObserveLogin("rejected")
		s.logger.WithField("account_id", account.ID).Info("login rejected: wrong password")
		return LoginResult{}, ErrUnauthorized
	}

	tok, err := s.issueToken(ctx, account.ID)
	if err != nil {
		obs.ObserveLogin("error")
		return LoginResult{}, err
	}
	obs.ObserveLogin("ok")
	span.SetAttributes(attribute.String("account.id", account.ID.String()))
	s.logger.WithField("account_id", account.ID).Info("login succeeded")
	return LoginResult{
		Token:     token.Encode(tok.ID),
		User:      account.View(),
		ExpiresAt: tok.ExpiresAt,
	}, nil
}

func (s *Service) decoyHash() string {
	p := s.hasher.params
	return encodeHash(p, uuid.Nil[:], make([]byte, p.KeyLength))
}

func (s *Service) issueToken(ctx context.Context, accountID uuid.UUID) (Token, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return Token{}, fmt.Errorf("issue token: generate id: %w", err)
	}
	now := s.now().UTC()
	t := Token{ID: id, AccountID: accountID, CreatedAt: now}
	if s.tokenTTL > 0 {
		exp := now.Add(s.tokenTTL)
		t.ExpiresAt = &exp
	}
	if err := s.store.IssueToken(ctx, t); err != nil {
		return Token{}, fmt.Errorf("issue token: %w", err)
	}
	return t, nil
}

// Authenticate resolves a raw bearer token into a Principal.
func (s *Service) Authenticate(ctx context.Context, raw string) (Principal, error) {
	return s.resolver.Resolve(ctx, raw)
}

// Logout revokes every token of the account.
func (s *Service) Logout(ctx context.Context, accountID uuid.UUID) error {
	n, err := s.store.RevokeAllTokens(ctx, accountID)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	s.invalidate(ctx, accountID)
	s.logger.WithFields(logrus.Fields{"account_id": accountID, "revoked": n}).Info("logout")
	return nil
}

// SyncPermissions makes the account's permissions exactly ids.
func (s *Service) SyncPermissions(ctx context.Context, accountID uuid.UUID, ids []uuid.UUID) error {
	return s.Sync(ctx, CatalogPermissions, accountID, ids)
}

// SyncRoles makes the account's roles exactly ids.
func (s *Service) SyncRoles(ctx context.Context, accountID uuid.UUID, ids []uuid.UUID) error {
	return s.Sync(ctx, CatalogRoles, accountID, ids)
}

// Sync replaces the account's associations in catalog c with ids. Unknown
// account or entry ids yield ErrNotFound and change nothing. An empty ids
// detaches everything.
func (s *Service) Sync(ctx context.Context, c Catalog, accountID uuid.UUID, ids []uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "auth.Sync", trace.WithAttributes(
		attribute.String("catalog", string(c)),
		attribute.String("account.id", accountID.String()),
	))
	defer span.End()

	if err := checkCatalog(c); err != nil {
		return err
	}
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return err
	}
	desired := dedupeIDs(ids)
	if len(desired) > 0 {
		found, err := s.store.FindEntries(ctx, c, desired)
		if err != nil {
			return fmt.Errorf("sync %s: load entries: %w", c, err)
		}
		if missing := missingIDs(desired, found); len(missing) > 0 {
			obs.ObserveSync(string(c), "not_found")
			return fmt.Errorf("%w: unknown %s %s", ErrNotFound, c, strings.Join(missing, ", "))
		}
	}

	plan, err := s.store.SyncEntries(ctx, c, accountID, desired)
	if err != nil {
		obs.ObserveSync(string(c), "error")
		span.RecordError(err)
		return fmt.Errorf("sync %s: %w", c, err)
	}
	s.invalidate(ctx, accountID)
	obs.ObserveSync(string(c), "ok")
	s.logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"catalog":    c,
		"attached":   len(plan.Attach),
		"detached":   len(plan.Detach),
	}).Info("relations synced")
	return nil
}

// PurgeExpiredTokens deletes tokens whose expiry has passed.
func (s *Service) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	n, err := s.store.PurgeExpiredTokens(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired tokens: %w", err)
	}
	return n, nil
}

func (s *Service) invalidate(ctx context.Context, accountID uuid.UUID) {
	if s.cache != nil {
		s.cache.InvalidateAccount(ctx, accountID)
	}
}

func checkCatalog(c Catalog) error {
	if !c.Valid() {
		return fmt.Errorf("%w: unknown catalog %q", ErrInvalidInput, c)
	}
	return nil
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func missingIDs(want []uuid.UUID, found []CatalogEntry) []string {
	have := make(map[uuid.UUID]struct{}, len(found))
	for _, e := range found {
		have[e.ID] = struct{}{}
	}
	var missing []string
	for _, id := range want {
		if _, ok := have[id]; !ok {
			missing = append(missing, id.String())
		}
	}
	return missing
}

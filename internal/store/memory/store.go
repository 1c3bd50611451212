// Package memory is an in-process implementation of auth.Store used for
// development runs and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"authcore.org/internal/auth"
)

type Store struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]auth.Account
	tokens   map[uuid.UUID]auth.Token
	entries  map[auth.Catalog]map[uuid.UUID]auth.CatalogEntry
	links    map[auth.Catalog][]auth.Association

	// per-account serialization of SyncEntries
	syncMu    sync.Mutex
	syncLocks map[uuid.UUID]*sync.Mutex
}

var _ auth.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts: make(map[uuid.UUID]auth.Account),
		tokens:   make(map[uuid.UUID]auth.Token),
		entries: map[auth.Catalog]map[uuid.UUID]auth.CatalogEntry{
			auth.CatalogPermissions: {},
			auth.CatalogRoles:       {},
		},
		links:     make(map[auth.Catalog][]auth.Association),
		syncLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// --- accounts ---

func (s *Store) CreateAccount(_ context.Context, a auth.Account) (auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return auth.Account{}, auth.ErrConflict
	}
	for _, other := range s.accounts {
		if other.Email == a.Email || other.Username == a.Username {
			return auth.Account{}, auth.ErrConflict
		}
	}
	s.accounts[a.ID] = a
	return a, nil
}

func (s *Store) GetAccount(_ context.Context, id uuid.UUID) (auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveAccount(id)
}

func (s *Store) liveAccount(id uuid.UUID) (auth.Account, error) {
	a, ok := s.accounts[id]
	if !ok || a.DeletedAt != nil {
		return auth.Account{}, auth.ErrNotFound
	}
	return a, nil
}

func (s *Store) FindAccountByLogin(_ context.Context, login string) (auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.DeletedAt == nil && (a.Email == login || a.Username == login) {
			return a, nil
		}
	}
	return auth.Account{}, auth.ErrNotFound
}

func (s *Store) ListAccounts(_ context.Context, q auth.ListQuery) (auth.Page[auth.Account], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(q.Search)
	var all []auth.Account
	for _, a := range s.accounts {
		if a.DeletedAt != nil {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(a.Name), needle) &&
			!strings.Contains(a.Email, needle) &&
			!strings.Contains(a.Username, needle) {
			continue
		}
		all = append(all, a)
	}
	key := func(a auth.Account) string {
		switch q.Order {
		case "username":
			return a.Username
		case "email":
			return a.Email
		case "created_at":
			return a.CreatedAt.Format(time.RFC3339Nano)
		default:
			return strings.ToLower(a.Name)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if q.Sort == "desc" {
			return key(all[i]) > key(all[j])
		}
		return key(all[i]) < key(all[j])
	})
	return auth.Page[auth.Account]{
		Items: window(all, q),
		Total: int64(len(all)),
		Page:  q.Page,
		Limit: q.Limit,
	}, nil
}

func (s *Store) EmailInUse(_ context.Context, email string, except uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, a := range s.accounts {
		if id != except && a.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) UsernameInUse(_ context.Context, username string, except uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, a := range s.accounts {
		if id != except && a.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) UpdateProfile(_ context.Context, a auth.Account) (auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.liveAccount(a.ID)
	if err != nil {
		return auth.Account{}, err
	}
	for id, other := range s.accounts {
		if id != a.ID && (other.Email == a.Email || other.Username == a.Username) {
			return auth.Account{}, auth.ErrConflict
		}
	}
	current.Name = a.Name
	current.Email = a.Email
	current.Username = a.Username
	current.ProfilePhotoID = a.ProfilePhotoID
	current.UpdatedAt = a.UpdatedAt
	s.accounts[a.ID] = current
	return current, nil
}

func (s *Store) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.liveAccount(id)
	if err != nil {
		return err
	}
	current.PasswordHash = hash
	current.UpdatedAt = time.Now().UTC()
	s.accounts[id] = current
	return nil
}

func (s *Store) SoftDeleteAccount(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.liveAccount(id)
	if err != nil {
		return err
	}
	current.DeletedAt = &at
	current.UpdatedAt = at
	s.accounts[id] = current
	for tid, t := range s.tokens {
		if t.AccountID == id {
			delete(s.tokens, tid)
		}
	}
	return nil
}

// --- tokens ---

func (s *Store) IssueToken(_ context.Context, t auth.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.liveAccount(t.AccountID); err != nil {
		return err
	}
	if _, ok := s.tokens[t.ID]; ok {
		return auth.ErrConflict
	}
	s.tokens[t.ID] = t
	return nil
}

func (s *Store) RevokeAllTokens(_ context.Context, accountID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.tokens {
		if t.AccountID == accountID {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) PurgeExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.tokens {
		if t.Expired(now) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) ResolveToken(_ context.Context, id uuid.UUID, now time.Time) (auth.Token, auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok || t.Expired(now) {
		return auth.Token{}, auth.Account{}, auth.ErrNotFound
	}
	a, err := s.liveAccount(t.AccountID)
	if err != nil {
		return auth.Token{}, auth.Account{}, err
	}
	return t, a, nil
}

// --- catalog ---

func (s *Store) CreateEntry(_ context.Context, c auth.Catalog, e auth.CatalogEntry) (auth.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.entries[c] {
		if other.Code == e.Code {
			return auth.CatalogEntry{}, auth.ErrConflict
		}
	}
	s.entries[c][e.ID] = e
	return e, nil
}

func (s *Store) GetEntry(_ context.Context, c auth.Catalog, id uuid.UUID) (auth.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[c][id]
	if !ok {
		return auth.CatalogEntry{}, auth.ErrNotFound
	}
	return e, nil
}

func (s *Store) ListEntries(_ context.Context, c auth.Catalog, q auth.ListQuery) (auth.Page[auth.CatalogEntry], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(q.Search)
	var all []auth.CatalogEntry
	for _, e := range s.entries[c] {
		if needle != "" && !strings.Contains(strings.ToLower(e.Code), needle) && !strings.Contains(e.Name, needle) {
			continue
		}
		all = append(all, e)
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i].Code, all[j].Code
		if q.Order == "name" {
			a, b = all[i].Name, all[j].Name
		}
		if q.Sort == "desc" {
			return a > b
		}
		return a < b
	})
	return auth.Page[auth.CatalogEntry]{
		Items: window(all, q),
		Total: int64(len(all)),
		Page:  q.Page,
		Limit: q.Limit,
	}, nil
}

func (s *Store) FindEntries(_ context.Context, c auth.Catalog, ids []uuid.UUID) ([]auth.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.CatalogEntry
	for _, id := range ids {
		if e, ok := s.entries[c][id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) RenameEntry(_ context.Context, c auth.Catalog, id uuid.UUID, name string) (auth.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[c][id]
	if !ok {
		return auth.CatalogEntry{}, auth.ErrNotFound
	}
	e.Name = name
	s.entries[c][id] = e
	return e, nil
}

func (s *Store) DeleteEntry(_ context.Context, c auth.Catalog, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[c][id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.entries[c], id)
	kept := s.links[c][:0]
	for _, l := range s.links[c] {
		if l.EntryID != id {
			kept = append(kept, l)
		}
	}
	s.links[c] = kept
	return nil
}

func (s *Store) AttachedEntries(_ context.Context, c auth.Catalog, accountID uuid.UUID) ([]auth.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.CatalogEntry
	for _, l := range s.links[c] {
		if l.AccountID != accountID {
			continue
		}
		if e, ok := s.entries[c][l.EntryID]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Associations returns the raw association rows of an account, duplicates
// included.
func (s *Store) Associations(c auth.Catalog, accountID uuid.UUID) []auth.Association {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.Association
	for _, l := range s.links[c] {
		if l.AccountID == accountID {
			out = append(out, l)
		}
	}
	return out
}

func (s *Store) SyncEntries(_ context.Context, c auth.Catalog, accountID uuid.UUID, desired []uuid.UUID) (auth.Plan[uuid.UUID, uuid.UUID], error) {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	_, err := s.liveAccount(accountID)
	var existing []auth.Link[uuid.UUID, uuid.UUID]
	for _, l := range s.links[c] {
		if l.AccountID == accountID {
			existing = append(existing, l.Link())
		}
	}
	s.mu.RUnlock()
	if err != nil {
		return auth.Plan[uuid.UUID, uuid.UUID]{}, err
	}

	plan := auth.Reconcile(existing, desired)
	if plan.Empty() {
		return plan, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range plan.Attach {
		if _, ok := s.entries[c][id]; !ok {
			return auth.Plan[uuid.UUID, uuid.UUID]{}, auth.ErrNotFound
		}
	}
	drop := make(map[uuid.UUID]struct{}, len(plan.Detach))
	for _, id := range plan.Detach {
		drop[id] = struct{}{}
	}
	kept := make([]auth.Association, 0, len(s.links[c])+len(plan.Attach))
	for _, l := range s.links[c] {
		if _, ok := drop[l.ID]; !ok {
			kept = append(kept, l)
		}
	}
	for _, entryID := range plan.Attach {
		kept = append(kept, auth.Association{ID: uuid.New(), AccountID: accountID, EntryID: entryID})
	}
	s.links[c] = kept
	return plan, nil
}

func (s *Store) accountLock(id uuid.UUID) *sync.Mutex {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	l, ok := s.syncLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.syncLocks[id] = l
	}
	return l
}

func window[T any](all []T, q auth.ListQuery) []T {
	start := q.Offset()
	if start < 0 || start >= len(all) {
		return []T{}
	}
	end := start + q.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

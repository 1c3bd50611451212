// Package cache holds auth.PrincipalCache implementations: an in-process
// expirable LRU and a shared Redis cache.
package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"authcore.org/internal/auth"
)

type memoryEntry struct {
	principal auth.Principal
	expiresAt time.Time
}

// Memory is a per-process principal cache. Entries live for at most the
// configured TTL, or less when the token itself expires sooner.
type Memory struct {
	lru *lru.LRU[uuid.UUID, memoryEntry]
	now func() time.Time
}

var _ auth.PrincipalCache = (*Memory)(nil)

func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Memory{
		lru: lru.NewLRU[uuid.UUID, memoryEntry](size, nil, ttl),
		now: time.Now,
	}
}

func (m *Memory) Get(_ context.Context, tokenID uuid.UUID) (auth.Principal, bool) {
	e, ok := m.lru.Get(tokenID)
	if !ok {
		return auth.Principal{}, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.lru.Remove(tokenID)
		return auth.Principal{}, false
	}
	return e.principal, true
}

func (m *Memory) Put(_ context.Context, tokenID uuid.UUID, p auth.Principal, ttl time.Duration) {
	e := memoryEntry{principal: p}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.lru.Add(tokenID, e)
}

func (m *Memory) InvalidateAccount(_ context.Context, accountID uuid.UUID) {
	for _, key := range m.lru.Keys() {
		if e, ok := m.lru.Peek(key); ok && e.principal.Account.ID == accountID {
			m.lru.Remove(key)
		}
	}
}

func (m *Memory) Flush(context.Context) {
	m.lru.Purge()
}

func (m *Memory) Len() int { return m.lru.Len() }

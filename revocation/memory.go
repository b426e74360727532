package revocation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local [Store]. Records expire lazily on lookup and
// eagerly on [MemoryStore.Sweep]. It is not shared across processes, so it only
// provides centralized revocation for single-process deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore creates an empty store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     now,
	}
}

// Name implements [Store].
func (s *MemoryStore) Name() string { return "memory" }

// MarkRevoked implements [Store].
func (s *MemoryStore) MarkRevoked(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return ErrEmptyJTI
	}
	if err := ctx.Err(); err != nil {
		return ErrStoreUnavailable
	}

	s.mu.Lock()
	s.entries[jti] = s.now().Add(normalizeTTL(ttl))
	s.mu.Unlock()
	return nil
}

// IsRevoked implements [Store].
func (s *MemoryStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, ErrStoreUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.entries[jti]
	if !ok {
		return false, nil
	}
	if !s.now().Before(expiresAt) {
		delete(s.entries, jti)
		return false, nil
	}
	return true, nil
}

// Ping implements [Store].
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Sweep drops expired records and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for jti, expiresAt := range s.entries {
		if !now.Before(expiresAt) {
			delete(s.entries, jti)
			removed++
		}
	}
	return removed
}

// Len returns the number of records currently held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

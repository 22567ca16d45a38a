package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is a process-local Store. It keeps the same observable
// semantics as the Redis store (lazy expiry, atomic windows and updates) so
// the gate behaves identically in single-node deployments and tests.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return "", false, nil
	}
	if e.expired(time.Now()) {
		delete(s.items, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.items[key] = e
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

func (s *MemoryStore) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.items[key]
	if !ok || e.expired(now) {
		resetAt := now.Add(window)
		s.items[key] = memoryEntry{value: "1", expiresAt: resetAt}
		return 1, resetAt, nil
	}

	count, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		count = 0
	}
	count++
	e.value = strconv.FormatInt(count, 10)
	s.items[key] = e
	return count, e.expiresAt, nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, fn UpdateFunc) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.items[key]
	if ok && e.expired(now) {
		delete(s.items, key)
		e, ok = memoryEntry{}, false
	}

	next, err := fn(e.value, ok)
	if err != nil {
		return "", err
	}

	// Keep the existing expiry, mirroring SET KEEPTTL.
	s.items[key] = memoryEntry{value: next, expiresAt: e.expiresAt}
	return next, nil
}

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/aq2208/gorder-fulfillment/internal/usecase"
)

type memEntry struct {
	value   string
	expires time.Time
}

// MemoryIdempotencyStore is the single-process stand-in used when redis is
// disabled.
type MemoryIdempotencyStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]memEntry
	now   func() time.Time
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{ttl: ttl, items: make(map[string]memEntry), now: time.Now}
}

func (s *MemoryIdempotencyStore) get(k string) (memEntry, bool) {
	e, ok := s.items[k]
	if ok && s.ttl > 0 && s.now().After(e.expires) {
		delete(s.items, k)
		return memEntry{}, false
	}
	return e, ok
}

func (s *MemoryIdempotencyStore) set(k, v string) {
	s.items[k] = memEntry{value: v, expires: s.now().Add(s.ttl)}
}

func (s *MemoryIdempotencyStore) TryLock(_ context.Context, scope, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.get(lockKey(scope, key)); ok {
		return false, nil
	}
	s.set(lockKey(scope, key), "1")
	return true, nil
}

func (s *MemoryIdempotencyStore) Remember(_ context.Context, scope, key, value string) error {
	s.mu.Lock()
	s.set(mapKey(scope, key), value)
	s.mu.Unlock()
	return nil
}

func (s *MemoryIdempotencyStore) Recall(_ context.Context, scope, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(mapKey(scope, key))
	return e.value, ok, nil
}

func (s *MemoryIdempotencyStore) Unlock(_ context.Context, scope, key string) error {
	s.mu.Lock()
	delete(s.items, lockKey(scope, key))
	s.mu.Unlock()
	return nil
}

var _ usecase.IdempotencyStore = (*MemoryIdempotencyStore)(nil)

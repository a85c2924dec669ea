package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process dedup store. Suitable for single-instance
// deployments and tests; entries are pruned lazily on write.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (s *MemoryStore) MarkSeen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, expiry := range s.seen {
		if expiry.Before(now) {
			delete(s.seen, k)
		}
	}

	if expiry, ok := s.seen[key]; ok && expiry.After(now) {
		return true, nil
	}
	s.seen[key] = now.Add(ttl)
	return false, nil
}

func (s *MemoryStore) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, key)
	return nil
}

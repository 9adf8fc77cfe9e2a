package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu    sync.RWMutex
	calls map[string]time.Time
}

// NewMemoryStore keeps last-call timestamps in process memory.
func NewMemoryStore() Store {
	return &memoryStore{calls: make(map[string]time.Time)}
}

func (s *memoryStore) LastCall(_ context.Context, actor string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.calls[actor]
	return at, ok, nil
}

func (s *memoryStore) Record(_ context.Context, actor string, at time.Time, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[actor] = at
	return nil
}

package access

import (
	"context"
	"sync"
	"time"
)

type memberKey struct {
	role  Role
	actor string
}

type memoryRepository struct {
	mu      sync.RWMutex
	members map[memberKey]time.Time
}

// NewMemoryRepository builds an in-memory role store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{members: make(map[memberKey]time.Time)}
}

func (r *memoryRepository) HasRole(_ context.Context, role Role, actor string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[memberKey{role, actor}]
	return ok, nil
}

func (r *memoryRepository) Grant(_ context.Context, role Role, actor string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := memberKey{role, actor}
	if _, ok := r.members[k]; ok {
		return false, nil
	}
	r.members[k] = at
	return true, nil
}

func (r *memoryRepository) Revoke(_ context.Context, role Role, actor string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := memberKey{role, actor}
	if _, ok := r.members[k]; !ok {
		return false, nil
	}
	delete(r.members, k)
	return true, nil
}

package registry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dee-identity/dee_registry/internal/domain"
)

type memoryRepository struct {
	records   map[string]*Record
	order     []string
	delegates map[string]map[string]struct{}
	stats     Stats
	issued    []IssuedCredential
}

// NewMemoryRepository returns a Repository held in process memory. The
// Service serializes access, so the repository takes no lock of its own.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		records:   make(map[string]*Record),
		delegates: make(map[string]map[string]struct{}),
	}
}

func (r *memoryRepository) Get(_ context.Context, identity string) (Record, error) {
	rec, ok := r.records[identity]
	if !ok {
		return Record{}, domain.ErrNotFound
	}
	return *rec, nil
}

func (r *memoryRepository) Exists(_ context.Context, identity string) (bool, error) {
	_, ok := r.records[identity]
	return ok, nil
}

func (r *memoryRepository) Create(_ context.Context, records ...Record) error {
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if _, ok := r.records[rec.Identity]; ok {
			return domain.ErrAlreadyExists
		}
		if _, ok := seen[rec.Identity]; ok {
			return domain.ErrAlreadyExists
		}
		seen[rec.Identity] = struct{}{}
	}
	for _, rec := range records {
		copied := rec
		r.records[rec.Identity] = &copied
		r.order = append(r.order, rec.Identity)
	}
	n := uint64(len(records))
	r.stats.TotalDIDs += n
	r.stats.ActiveDIDs += n
	return nil
}

func (r *memoryRepository) UpdateDocHash(_ context.Context, identity, docHash string, at time.Time) error {
	rec, ok := r.records[identity]
	if !ok {
		return domain.ErrNotFound
	}
	rec.DocHash = docHash
	rec.LastUpdated = at
	return nil
}

func (r *memoryRepository) Deactivate(_ context.Context, identity string, at time.Time) error {
	rec, ok := r.records[identity]
	if !ok {
		return domain.ErrNotFound
	}
	if !rec.Active {
		return domain.ErrAlreadyInactive
	}
	rec.Active = false
	rec.LastUpdated = at
	r.stats.ActiveDIDs--
	return nil
}

func (r *memoryRepository) List(_ context.Context, offset, limit int) ([]Record, error) {
	if offset >= len(r.order) {
		return []Record{}, nil
	}
	end := offset + limit
	if end > len(r.order) {
		end = len(r.order)
	}
	out := make([]Record, 0, end-offset)
	for _, id := range r.order[offset:end] {
		out = append(out, *r.records[id])
	}
	return out, nil
}

func (r *memoryRepository) Stats(context.Context) (Stats, error) {
	return r.stats, nil
}

func (r *memoryRepository) AddDelegate(_ context.Context, identity, delegate string) (bool, error) {
	set, ok := r.delegates[identity]
	if !ok {
		set = make(map[string]struct{})
		r.delegates[identity] = set
	}
	if _, dup := set[delegate]; dup {
		return false, nil
	}
	set[delegate] = struct{}{}
	return true, nil
}

func (r *memoryRepository) RemoveDelegate(_ context.Context, identity, delegate string) (bool, error) {
	set := r.delegates[identity]
	if _, ok := set[delegate]; !ok {
		return false, nil
	}
	delete(set, delegate)
	return true, nil
}

func (r *memoryRepository) IsDelegate(_ context.Context, identity, delegate string) (bool, error) {
	_, ok := r.delegates[identity][delegate]
	return ok, nil
}

func (r *memoryRepository) Delegates(_ context.Context, identity string) ([]string, error) {
	set := r.delegates[identity]
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

func (r *memoryRepository) NextIssuedID(context.Context) (uint64, error) {
	return uint64(len(r.issued)) + 1, nil
}

func (r *memoryRepository) AddIssued(_ context.Context, cred IssuedCredential) error {
	if cred.ID != uint64(len(r.issued))+1 {
		return fmt.Errorf("issued credential id %d out of sequence", cred.ID)
	}
	r.issued = append(r.issued, cred)
	return nil
}

func (r *memoryRepository) Issued(_ context.Context, subject string) ([]IssuedCredential, error) {
	var out []IssuedCredential
	for _, c := range r.issued {
		if c.Subject == subject {
			out = append(out, c)
		}
	}
	return out, nil
}

package credential

import (
	"context"
	"fmt"
	"sync"

	"github.com/dee-identity/dee_registry/internal/domain"
)

type inMemoryStore struct {
	mu      sync.RWMutex
	tokens  map[uint64]Credential
	lastID  uint64
	baseURI string
}

// NewInMemory creates a concurrency-safe in-memory credential store.
func NewInMemory() Store {
	return &inMemoryStore{tokens: make(map[uint64]Credential)}
}

func (s *inMemoryStore) NextTokenID(context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastID + 1, nil
}

func (s *inMemoryStore) Mint(_ context.Context, c Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.TokenID != s.lastID+1 {
		return fmt.Errorf("token id %d out of sequence, next is %d", c.TokenID, s.lastID+1)
	}
	s.lastID = c.TokenID
	s.tokens[c.TokenID] = c
	return nil
}

func (s *inMemoryStore) Get(_ context.Context, tokenID uint64) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.tokens[tokenID]
	if !ok {
		return Credential{}, domain.ErrTokenNotFound
	}
	return c, nil
}

func (s *inMemoryStore) SetHolder(_ context.Context, tokenID uint64, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.tokens[tokenID]
	if !ok {
		return domain.ErrTokenNotFound
	}
	c.Holder = holder
	s.tokens[tokenID] = c
	return nil
}

func (s *inMemoryStore) SetMetadata(_ context.Context, tokenID uint64, docHash, credentialType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.tokens[tokenID]
	if !ok {
		return domain.ErrTokenNotFound
	}
	c.DocHash = docHash
	c.CredentialType = credentialType
	s.tokens[tokenID] = c
	return nil
}

func (s *inMemoryStore) BaseURI(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseURI, nil
}

func (s *inMemoryStore) SetBaseURI(_ context.Context, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseURI = uri
	return nil
}

func (s *inMemoryStore) LastTokenID(context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastID, nil
}

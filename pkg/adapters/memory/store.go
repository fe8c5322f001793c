package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/ratchet/pkg/domain"
)

// Store implements ports.StateStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.ReleaseState
	mu   sync.RWMutex

	// saves counts successful Save calls, for tests asserting "no write".
	saves int
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.ReleaseState),
	}
}

// Save persists a copy of the state in memory.
func (s *Store) Save(ctx context.Context, key string, state *domain.ReleaseState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = state.Clone()
	s.saves++
	return nil
}

// Load returns a copy so callers cannot mutate the stored state by pointer.
func (s *Store) Load(ctx context.Context, key string) (*domain.ReleaseState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.data[key]
	if !ok {
		return nil, domain.ErrStateNotFound
	}
	return state.Clone(), nil
}

// Delete removes the state.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// List returns stored keys in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Archive moves key to archiveKey.
func (s *Store) Archive(ctx context.Context, key, archiveKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.data[key]
	if !ok {
		return domain.ErrStateNotFound
	}
	s.data[archiveKey] = state
	delete(s.data, key)
	return nil
}

// Saves reports how many times Save succeeded.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

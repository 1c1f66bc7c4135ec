package shellcache

import (
	"context"
	"sync"
)

// CacheStore persists cache entries grouped by generation.
type CacheStore interface {
	// Put stores an entry under the generation and request key.
	Put(ctx context.Context, generation, key string, e Entry) error

	// Get returns the entry for the key, or nil on miss.
	Get(ctx context.Context, generation, key string) (*Entry, error)

	// Generations lists every generation with stored entries.
	Generations(ctx context.Context) ([]string, error)

	// DeleteGeneration removes a generation and all its entries.
	DeleteGeneration(ctx context.Context, generation string) error
}

// MemoryStore is the in-process CacheStore used when Redis is not
// configured.
type MemoryStore struct {
	mu          sync.RWMutex
	generations map[string]map[string]Entry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{generations: make(map[string]map[string]Entry)}
}

// Put stores a copy of the entry.
func (s *MemoryStore) Put(ctx context.Context, generation, key string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen, ok := s.generations[generation]
	if !ok {
		gen = make(map[string]Entry)
		s.generations[generation] = gen
	}
	e.Body = append([]byte(nil), e.Body...)
	gen[key] = e
	return nil
}

// Get returns a copy of the stored entry, or nil on miss.
func (s *MemoryStore) Get(ctx context.Context, generation, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gen, ok := s.generations[generation]
	if !ok {
		return nil, nil
	}
	e, ok := gen[key]
	if !ok {
		return nil, nil
	}
	e.Body = append([]byte(nil), e.Body...)
	return &e, nil
}

// Generations lists stored generation names.
func (s *MemoryStore) Generations(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.generations))
	for name := range s.generations {
		names = append(names, name)
	}
	return names, nil
}

// DeleteGeneration drops a generation and everything in it.
func (s *MemoryStore) DeleteGeneration(ctx context.Context, generation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.generations, generation)
	return nil
}

package store

import (
	"context"
	"sync"
)

// MemoryStore keeps cursors for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	cursors map[string]uint64
}

// NewMemoryStore initializes an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: make(map[string]uint64)}
}

func (s *MemoryStore) Get(ctx context.Context, path string) (uint64, bool, error) {
	defer track(BackendMemory, "get")()
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.cursors[path]
	return v, ok, nil
}

func (s *MemoryStore) Advance(ctx context.Context, path string, version uint64) error {
	defer track(BackendMemory, "advance")()
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.cursors[path]; !ok || version > cur {
		s.cursors[path] = version
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, path)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

package quota

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. The check-and-increment critical
// section runs under a single mutex, so concurrent callers for the same
// key can never both observe "under limit" when only one slot remains.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]int)}
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, key string, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := s.counts[key]
	if limit >= 0 && count >= limit {
		return count, false, nil
	}
	count++
	s.counts[key] = count
	return count, true, nil
}

// Get implements Store. A missing key reads as zero.
func (s *MemoryStore) Get(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key], nil
}

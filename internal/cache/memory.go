package cache

import (
	"context"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore process-local Store. Entries never expire; staleness is decided
// by the caller from the entry timestamp, not by eviction.
type MemoryStore struct {
	items *gocache.Cache
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: gocache.New(gocache.NoExpiration, 0)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	val := v.([]byte)
	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	s.items.Set(key, stored, gocache.NoExpiration)
	return nil
}

// Len number of keys held.
func (s *MemoryStore) Len() int {
	return s.items.ItemCount()
}

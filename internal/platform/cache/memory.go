package cache

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/singleflight"
)

// MemoryStore is the fallback backend for deployments without a tag-capable
// cache. Entries never expire and Invalidate is a no-op; the store lives
// only as long as the process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
	group   singleflight.Group
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

// Fetch loads key into dest, computing and storing the value on a miss.
// The tag is ignored; this backend has no grouping.
func (s *MemoryStore) Fetch(ctx context.Context, key, tag string, dest any, compute func(context.Context) (any, error)) error {
	s.mu.RLock()
	payload, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return json.Unmarshal(payload, dest)
	}

	resultCh := s.group.DoChan(key, func() (any, error) {
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.entries[key] = raw
		s.mu.Unlock()
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-resultCh:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}

// Invalidate is a no-op; entries are rebuilt when the process restarts.
func (s *MemoryStore) Invalidate(ctx context.Context, tag string) error {
	return nil
}

package localstate

import (
	"context"
	"sort"
	"sync"

	"bodyshop-storefront/internal/domain"
)

type memoryRepo struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemory returns a process-local Repository.
func NewMemory() Repository {
	return &memoryRepo{data: make(map[string]map[string][]byte)}
}

func (r *memoryRepo) Get(_ context.Context, sessionID, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.data[sessionID][key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (r *memoryRepo) Set(_ context.Context, sessionID, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.data[sessionID]
	if !ok {
		s = make(map[string][]byte)
		r.data[sessionID] = s
	}
	s[key] = append([]byte(nil), value...)
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, sessionID string, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		delete(r.data[sessionID], k)
	}
	return nil
}

func (r *memoryRepo) Keys(_ context.Context, sessionID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.data[sessionID]))
	for k := range r.data[sessionID] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Package memory implements domain.KVStore in process memory. State is lost
// on exit.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/tradewatch/internal/domain"
)

// KVStore is a map guarded by a RWMutex.
type KVStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewKVStore creates an empty store.
func NewKVStore() *KVStore {
	return &KVStore{data: make(map[string][]byte)}
}

// Get returns a copy of the stored value.
func (s *KVStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("memory: get %s: %w", key, domain.ErrNotFound)
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value.
func (s *KVStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

var _ domain.KVStore = (*KVStore)(nil)

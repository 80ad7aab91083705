package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradewatch/internal/domain"
)

// KVStore implements domain.KVStore with plain Redis string keys under a
// common prefix.
type KVStore struct {
	rdb    *redis.Client
	prefix string
}

// NewKVStore creates a KVStore. prefix is prepended to every key.
func NewKVStore(c *Client, prefix string) *KVStore {
	return &KVStore{rdb: c.Underlying(), prefix: prefix}
}

// Get returns the stored value or domain.ErrNotFound.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return v, nil
}

// Set stores value without expiry.
func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

var _ domain.KVStore = (*KVStore)(nil)

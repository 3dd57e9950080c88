package redis

import (
	"context"
	"errors"

	"github.com/goodtune/labportal/internal/storage"
	"github.com/redis/go-redis/v9"
)

type kvStore struct {
	client *redis.Client
}

// Get returns the value stored under key
func (s *kvStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, kvKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set replaces the value stored under key. Values never expire.
func (s *kvStore) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, kvKey(key), value, 0).Err()
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/labportal/internal/storage"
	"github.com/redis/go-redis/v9"
)

type userStore struct {
	client       *redis.Client
	createScript *redis.Script
}

// Get retrieves a user by ID
func (s *userStore) Get(ctx context.Context, id string) (*storage.User, error) {
	data, err := s.client.HGetAll(ctx, userKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return parseUser(data)
}

// GetByIdentity resolves a username or email through the unique indexes
func (s *userStore) GetByIdentity(ctx context.Context, identity string) (*storage.User, error) {
	for _, key := range []string{usernameKey(identity), emailKey(identity)} {
		id, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s.Get(ctx, id)
	}
	return nil, storage.ErrNotFound
}

// Create inserts a user, failing with a *storage.ConflictError when the
// username or email is taken
func (s *userStore) Create(ctx context.Context, user storage.User) error {
	keys := []string{userKey(user.ID), usernameKey(user.Username), emailKey(user.Email)}
	args := []interface{}{
		user.ID,
		user.Username,
		user.Email,
		fmt.Sprintf("%t", user.EmailVisibility),
		user.PasswordHash,
		user.Created.Format(time.RFC3339Nano),
		user.Updated.Format(time.RFC3339Nano),
	}

	result, err := s.createScript.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if result != "OK" {
		return &storage.ConflictError{Field: result}
	}
	return nil
}

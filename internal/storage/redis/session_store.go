package redis

import (
	"context"
	"time"

	"github.com/goodtune/labportal/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
}

// Put writes a session and lets Redis expire it at ExpiresAt
func (s *sessionStore) Put(ctx context.Context, session storage.Session) error {
	key := sessionKey(session.ID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", session.ID,
			"token", session.Token,
			"user_id", session.UserID,
			"username", session.Username,
			"email", session.Email,
			"user_created", session.UserCreated.Format(time.RFC3339Nano),
			"created_at", session.CreatedAt.Format(time.RFC3339Nano),
			"last_activity", session.LastActivity.Format(time.RFC3339Nano),
			"expires_at", session.ExpiresAt.Format(time.RFC3339Nano),
		)
		if !session.ExpiresAt.IsZero() {
			pipe.ExpireAt(ctx, key, session.ExpiresAt)
		}
		return nil
	})
	return err
}

// Get retrieves a session by ID
func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	data, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return parseSession(data)
}

// Delete removes a session by ID
func (s *sessionStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, sessionKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteExpired is a no-op: session keys carry their own TTL
func (s *sessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

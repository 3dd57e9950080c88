package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/labportal/internal/storage"
)

func kvKey(key string) string {
	return keyPrefix + "kv:" + key
}

func userKey(id string) string {
	return keyPrefix + "user:" + id
}

func usernameKey(username string) string {
	return keyPrefix + "user:username:" + storage.NormalizeIdentity(username)
}

func emailKey(email string) string {
	return keyPrefix + "user:email:" + storage.NormalizeIdentity(email)
}

func sessionKey(id string) string {
	return keyPrefix + "session:" + id
}

// parseUser converts a Redis hash to User
func parseUser(data map[string]string) (*storage.User, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	created, err := time.Parse(time.RFC3339Nano, data["created"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created: %w", err)
	}

	updated, err := time.Parse(time.RFC3339Nano, data["updated"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated: %w", err)
	}

	visible, err := strconv.ParseBool(data["email_visibility"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse email_visibility: %w", err)
	}

	return &storage.User{
		ID:              data["id"],
		Username:        data["username"],
		Email:           data["email"],
		EmailVisibility: visible,
		PasswordHash:    data["password_hash"],
		Created:         created,
		Updated:         updated,
	}, nil
}

// parseSession converts a Redis hash to Session
func parseSession(data map[string]string) (*storage.Session, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	times := make(map[string]time.Time, 4)
	for _, field := range []string{"user_created", "created_at", "last_activity", "expires_at"} {
		t, err := time.Parse(time.RFC3339Nano, data[field])
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", field, err)
		}
		times[field] = t
	}

	return &storage.Session{
		ID:           data["id"],
		Token:        data["token"],
		UserID:       data["user_id"],
		Username:     data["username"],
		Email:        data["email"],
		UserCreated:  times["user_created"],
		CreatedAt:    times["created_at"],
		LastActivity: times["last_activity"],
		ExpiresAt:    times["expires_at"],
	}, nil
}

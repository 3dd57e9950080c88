package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrConflict is returned when a unique field is already taken.
var ErrConflict = errors.New("storage: unique constraint violated")

// ConflictError names the unique field that caused a conflict.
// It matches ErrConflict with errors.Is.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("storage: %s already in use", e.Field)
}

// Is reports whether target is ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Store represents the root storage interface.
type Store interface {
	Close() error
	KV() KVStore
	Users() UserStore
	Sessions() SessionStore
}

// KVStore is a flat string key-value store. Values are opaque to the store.
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// UserStore manages locally registered portal accounts.
type UserStore interface {
	Get(ctx context.Context, id string) (*User, error)
	// GetByIdentity looks a user up by username or email, case-insensitively.
	GetByIdentity(ctx context.Context, identity string) (*User, error)
	// Create inserts a new user. A taken username or email yields a *ConflictError.
	Create(ctx context.Context, user User) error
}

// SessionStore manages persisted browser sessions.
type SessionStore interface {
	Put(ctx context.Context, session Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

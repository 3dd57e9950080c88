package bolt

import (
	"context"
	"fmt"

	"github.com/goodtune/labportal/internal/storage"
	"go.etcd.io/bbolt"
)

type userStore struct {
	db *bbolt.DB
}

// Get retrieves a user by ID.
func (s *userStore) Get(ctx context.Context, id string) (*storage.User, error) {
	return getBucketValue[storage.User](ctx, s.db, bucketUsers, id)
}

// GetByIdentity retrieves a user by username or email.
func (s *userStore) GetByIdentity(ctx context.Context, identity string) (*storage.User, error) {
	key := []byte(storage.NormalizeIdentity(identity))

	var id string
	err := s.db.View(func(tx *bbolt.Tx) error {
		indexes := tx.Bucket([]byte(bucketIndexes))
		for _, name := range []string{bucketIndexUsername, bucketIndexUserEmail} {
			if value := indexes.Bucket([]byte(name)).Get(key); value != nil {
				id = string(value)
				return nil
			}
		}
		return storage.ErrNotFound
	})
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}

// Create stores a new user and claims its username and email.
func (s *userStore) Create(ctx context.Context, user storage.User) error {
	data, err := marshal(user)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		usernames, err := ensureIndexBucket(tx, bucketIndexUsername)
		if err != nil {
			return err
		}
		emails, err := ensureIndexBucket(tx, bucketIndexUserEmail)
		if err != nil {
			return err
		}

		username := []byte(storage.NormalizeIdentity(user.Username))
		email := []byte(storage.NormalizeIdentity(user.Email))
		if usernames.Get(username) != nil {
			return &storage.ConflictError{Field: "username"}
		}
		if emails.Get(email) != nil {
			return &storage.ConflictError{Field: "email"}
		}

		bucket := tx.Bucket([]byte(bucketUsers))
		if bucket == nil {
			return fmt.Errorf("users bucket not found")
		}
		if err := bucket.Put([]byte(user.ID), data); err != nil {
			return err
		}
		if err := usernames.Put(username, []byte(user.ID)); err != nil {
			return err
		}
		return emails.Put(email, []byte(user.ID))
	})
}

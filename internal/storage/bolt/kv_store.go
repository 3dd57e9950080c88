package bolt

import (
	"context"

	"github.com/goodtune/labportal/internal/storage"
	"go.etcd.io/bbolt"
)

type kvStore struct {
	db *bbolt.DB
}

// Get returns the raw value stored under key.
func (s *kvStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		data := tx.Bucket([]byte(bucketKV)).Get([]byte(key))
		if data == nil {
			return storage.ErrNotFound
		}
		// data is only valid inside the transaction
		value = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set stores value under key as-is.
func (s *kvStore) Set(ctx context.Context, key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return tx.Bucket([]byte(bucketKV)).Put([]byte(key), []byte(value))
	})
}

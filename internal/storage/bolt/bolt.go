package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/goodtune/labportal/internal/storage"
	"go.etcd.io/bbolt"
)

const (
	bucketKV             = "kv"
	bucketUsers          = "users"
	bucketSessions       = "sessions"
	bucketIndexes        = "indexes"
	bucketIndexUsername  = "username"
	bucketIndexUserEmail = "email"
)

// Store implements the storage.Store interface using bbolt.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{
			[]byte(bucketKV),
			[]byte(bucketUsers),
			[]byte(bucketSessions),
			[]byte(bucketIndexes),
		}

		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}

		if _, err := ensureIndexBucket(tx, bucketIndexUsername); err != nil {
			return fmt.Errorf("create username index: %w", err)
		}
		if _, err := ensureIndexBucket(tx, bucketIndexUserEmail); err != nil {
			return fmt.Errorf("create email index: %w", err)
		}

		return nil
	})
}

// Close closes the underlying store database.
func (s *Store) Close() error {
	return s.db.Close()
}

// KV returns the key-value store.
func (s *Store) KV() storage.KVStore { return &kvStore{db: s.db} }

// Users returns the user store.
func (s *Store) Users() storage.UserStore { return &userStore{db: s.db} }

// Sessions returns the session store.
func (s *Store) Sessions() storage.SessionStore { return &sessionStore{db: s.db} }

func marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}

func getBucketValue[T any](ctx context.Context, db *bbolt.DB, bucket string, key string) (*T, error) {
	var item *T
	err := db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return storage.ErrNotFound
		}
		value := b.Get([]byte(key))
		if value == nil {
			return storage.ErrNotFound
		}
		var result T
		if err := unmarshal(value, &result); err != nil {
			return err
		}
		item = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func putBucketValue(ctx context.Context, db *bbolt.DB, bucket string, key string, value any) error {
	data, err := marshal(value)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket missing: %s", bucket)
		}
		return b.Put([]byte(key), data)
	})
}

func deleteBucketValue(ctx context.Context, db *bbolt.DB, bucket string, key string) error {
	return db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return storage.ErrNotFound
		}
		value := b.Get([]byte(key))
		if value == nil {
			return storage.ErrNotFound
		}
		return b.Delete([]byte(key))
	})
}

func ensureIndexBucket(tx *bbolt.Tx, path ...string) (*bbolt.Bucket, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("empty index bucket path")
	}
	root := tx.Bucket([]byte(bucketIndexes))
	if root == nil {
		return nil, fmt.Errorf("indexes bucket missing")
	}
	current := root
	for _, part := range path {
		bucket := current.Bucket([]byte(part))
		if bucket == nil {
			var err error
			bucket, err = current.CreateBucketIfNotExists([]byte(part))
			if err != nil {
				return nil, err
			}
		}
		current = bucket
	}
	return current, nil
}

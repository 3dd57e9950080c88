package bolt

import (
	"context"
	"time"

	"github.com/goodtune/labportal/internal/storage"
	"go.etcd.io/bbolt"
)

type sessionStore struct {
	db *bbolt.DB
}

func (s *sessionStore) Put(ctx context.Context, session storage.Session) error {
	return putBucketValue(ctx, s.db, bucketSessions, session.ID, session)
}

func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	return getBucketValue[storage.Session](ctx, s.db, bucketSessions, id)
}

func (s *sessionStore) Delete(ctx context.Context, id string) error {
	return deleteBucketValue(ctx, s.db, bucketSessions, id)
}

// DeleteExpired removes every session past its expiry at now.
func (s *sessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketSessions))
		if bucket == nil {
			return nil
		}

		var expired [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var session storage.Session
			if err := unmarshal(v, &session); err != nil {
				return err
			}
			if session.Expired(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range expired {
			if err := bucket.Delete(key); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

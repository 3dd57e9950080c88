// Package labstats persists per-user lab usage records.
//
// Each user owns one value in the key-value store, keyed labStats_<userId>,
// holding a JSON array of records. The array is read and rewritten in full
// on every update.
package labstats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/labportal/internal/storage"
	"github.com/rs/zerolog"
)

// KeyPrefix is prepended to the user ID to form the storage key.
const KeyPrefix = "labStats_"

// TimestampLayout matches the ISO-8601 form browsers produce for lastAccessed.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// ErrNoData is returned by Load when the user has no stored records.
var ErrNoData = errors.New("labstats: no usage recorded")

// CorruptError is returned by Load when the stored value cannot be decoded.
type CorruptError struct {
	Key string
	Err error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("labstats: corrupt value at %s: %v", e.Key, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Record is the accumulated time one user spent on one lab.
type Record struct {
	LabName      string `json:"labName"`
	Category     string `json:"category"`
	TimeSpent    int64  `json:"timeSpent"`
	LastAccessed string `json:"lastAccessed"`
}

// Key returns the storage key for userID.
func Key(userID string) string {
	return KeyPrefix + userID
}

// FormatTimestamp renders t as a lastAccessed value.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Merge adds seconds to the record matching (labName, category) exactly,
// or appends a new record when none matches. The input slice is not modified.
func Merge(records []Record, labName, category string, seconds int64, at time.Time) []Record {
	out := make([]Record, len(records), len(records)+1)
	copy(out, records)

	stamp := FormatTimestamp(at)
	for i := range out {
		if out[i].LabName == labName && out[i].Category == category {
			out[i].TimeSpent += seconds
			out[i].LastAccessed = stamp
			return out
		}
	}

	return append(out, Record{
		LabName:      labName,
		Category:     category,
		TimeSpent:    seconds,
		LastAccessed: stamp,
	})
}

// Store reads and writes usage records through a storage.KVStore.
//
// Writers for the same key are serialized within this process. Separate
// processes sharing a backend still race, and the last write wins.
type Store struct {
	kv     storage.KVStore
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates a Store over kv.
func NewStore(kv storage.KVStore, logger zerolog.Logger) *Store {
	return &Store{
		kv:     kv,
		logger: logger.With().Str("component", "labstats").Logger(),
		locks:  make(map[string]*keyLock),
	}
}

// Load returns the stored records for userID. It returns ErrNoData when
// nothing is stored and a *CorruptError when the value is not a JSON array
// of records.
func (s *Store) Load(ctx context.Context, userID string) ([]Record, error) {
	key := Key(userID)

	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoData
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}

	var records []Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, &CorruptError{Key: key, Err: err}
	}
	if records == nil {
		return nil, &CorruptError{Key: key, Err: errors.New("value is not an array")}
	}

	return records, nil
}

// Records returns the stored records for userID, treating a missing or
// corrupt value as empty. Only backend failures are returned.
func (s *Store) Records(ctx context.Context, userID string) ([]Record, error) {
	records, err := s.Load(ctx, userID)
	if err == nil {
		return records, nil
	}

	var corrupt *CorruptError
	switch {
	case errors.Is(err, ErrNoData):
		return []Record{}, nil
	case errors.As(err, &corrupt):
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Ignoring corrupt usage records")
		return []Record{}, nil
	default:
		return nil, err
	}
}

// Save replaces the stored records for userID.
func (s *Store) Save(ctx context.Context, userID string, records []Record) error {
	if records == nil {
		records = []Record{}
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}

	key := Key(userID)
	if err := s.kv.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Add credits seconds to (labName, category) for userID and persists the
// full record list. A corrupt stored value is replaced.
func (s *Store) Add(ctx context.Context, userID, labName, category string, seconds int64, at time.Time) ([]Record, error) {
	unlock := s.lock(Key(userID))
	defer unlock()

	records, err := s.Records(ctx, userID)
	if err != nil {
		return nil, err
	}

	merged := Merge(records, labName, category, seconds, at)
	if err := s.Save(ctx, userID, merged); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("user_id", userID).
		Str("lab", labName).
		Str("category", category).
		Int64("seconds", seconds).
		Msg("Lab usage saved")

	return merged, nil
}

func (s *Store) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

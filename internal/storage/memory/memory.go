package memory

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/labportal/internal/storage"
)

// Store is an in-process storage.Store for development and tests.
// Nothing survives a restart.
type Store struct {
	mu        sync.RWMutex
	kv        map[string]string
	users     map[string]storage.User
	usernames map[string]string // normalized username -> id
	emails    map[string]string // normalized email -> id
	sessions  map[string]storage.Session
}

func New() *Store {
	return &Store{
		kv:        make(map[string]string),
		users:     make(map[string]storage.User),
		usernames: make(map[string]string),
		emails:    make(map[string]string),
		sessions:  make(map[string]storage.Session),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) KV() storage.KVStore { return (*kvStore)(s) }

func (s *Store) Users() storage.UserStore { return (*userStore)(s) }

func (s *Store) Sessions() storage.SessionStore { return (*sessionStore)(s) }

type kvStore Store

func (s *kvStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (s *kvStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

type userStore Store

func (s *userStore) Get(ctx context.Context, id string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

func (s *userStore) GetByIdentity(ctx context.Context, identity string) (*storage.User, error) {
	key := storage.NormalizeIdentity(identity)
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[key]
	if !ok {
		id, ok = s.emails[key]
	}
	if !ok {
		return nil, storage.ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

func (s *userStore) Create(ctx context.Context, user storage.User) error {
	username := storage.NormalizeIdentity(user.Username)
	email := storage.NormalizeIdentity(user.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usernames[username]; ok {
		return &storage.ConflictError{Field: "username"}
	}
	if _, ok := s.emails[email]; ok {
		return &storage.ConflictError{Field: "email"}
	}
	s.users[user.ID] = user
	s.usernames[username] = user.ID
	s.emails[email] = user.ID
	return nil
}

type sessionStore Store

func (s *sessionStore) Put(ctx context.Context, session storage.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &v, nil
}

func (s *sessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *sessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, v := range s.sessions {
		if v.Expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goodtune/labportal/internal/storage"
	"github.com/google/uuid"
)

// AuthStore is the identity session of one browser: the current token and
// user record, plus subscribers that are told whenever either changes.
// AuthStores are shared by every request carrying the same session cookie,
// so a logout is observed by everything holding the store.
type AuthStore struct {
	manager *Manager

	mu        sync.RWMutex
	session   *storage.Session
	listeners map[int]func(*AuthStore)
	nextID    int
}

func newAuthStore(m *Manager, session *storage.Session) *AuthStore {
	return &AuthStore{
		manager:   m,
		session:   session,
		listeners: make(map[int]func(*AuthStore)),
	}
}

// ID returns the session ID, or "" when signed out.
func (a *AuthStore) ID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return ""
	}
	return a.session.ID
}

// Token returns the identity token, or "" when signed out.
func (a *AuthStore) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return ""
	}
	return a.session.Token
}

// Record returns the signed-in user's profile.
func (a *AuthStore) Record() (Record, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil || a.session.UserID == "" {
		return Record{}, false
	}
	return Record{
		ID:       a.session.UserID,
		Username: a.session.Username,
		Email:    a.session.Email,
		Created:  a.session.UserCreated,
	}, true
}

// ExpiresAt returns when the session lapses.
func (a *AuthStore) ExpiresAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return time.Time{}
	}
	return a.session.ExpiresAt
}

// IsValid reports whether a session is present, unexpired, and carries a
// token the identity provider still accepts.
func (a *AuthStore) IsValid() bool {
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()

	if session == nil || session.Token == "" || session.UserID == "" {
		return false
	}
	if session.Expired(a.manager.clock.Now()) {
		return false
	}
	return a.manager.verifier.VerifyToken(session.Token) == nil
}

// Save replaces the session with a new one for token and record. A new
// session ID is issued every time.
func (a *AuthStore) Save(ctx context.Context, token string, record Record) error {
	m := a.manager
	now := m.clock.Now()

	expires := now.Add(m.ttl)
	if exp, ok := tokenExpiry(token); ok && exp.Before(expires) {
		expires = exp
	}

	session := &storage.Session{
		ID:           uuid.NewString(),
		Token:        token,
		UserID:       record.ID,
		Username:     record.Username,
		Email:        record.Email,
		UserCreated:  record.Created,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    expires,
	}
	if err := m.store.Put(ctx, *session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	a.mu.Lock()
	previous := a.session
	a.session = session
	a.mu.Unlock()

	if previous != nil {
		m.forget(previous.ID)
		if err := m.store.Delete(ctx, previous.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn().Err(err).Str("session_id", previous.ID).Msg("Failed to delete replaced session")
		}
	}
	m.remember(session.ID, a)

	a.notify()
	return nil
}

// Clear signs the browser out and deletes the persisted session.
func (a *AuthStore) Clear(ctx context.Context) error {
	a.mu.Lock()
	previous := a.session
	a.session = nil
	a.mu.Unlock()

	if previous == nil {
		return nil
	}

	m := a.manager
	m.forget(previous.ID)
	a.notify()

	if err := m.store.Delete(ctx, previous.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// OnChange registers fn to run after every Save or Clear. The returned
// function unsubscribes it.
func (a *AuthStore) OnChange(fn func(*AuthStore)) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

func (a *AuthStore) notify() {
	a.mu.RLock()
	fns := make([]func(*AuthStore), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.RUnlock()

	for _, fn := range fns {
		fn(a)
	}
}

// expire drops an expired session without touching storage.
func (a *AuthStore) expire() {
	a.mu.Lock()
	had := a.session != nil
	a.session = nil
	a.mu.Unlock()
	if had {
		a.notify()
	}
}

// tokenExpiry reads the exp claim without verifying the signature.
func tokenExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/labportal/internal/clock"
	"github.com/goodtune/labportal/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultSessionTTL caps how long a session lives when the token has no
// earlier expiry.
const DefaultSessionTTL = 14 * 24 * time.Hour

// Manager loads and persists AuthStores.
type Manager struct {
	store    storage.SessionStore
	verifier TokenVerifier
	ttl      time.Duration
	clock    clock.Clock
	logger   zerolog.Logger

	mu   sync.Mutex
	live map[string]*AuthStore
}

// NewManager creates a Manager. Tokens are verified by provider when it
// implements TokenVerifier; otherwise only their exp claim is checked.
func NewManager(store storage.SessionStore, provider Provider, ttl time.Duration, clk clock.Clock, logger zerolog.Logger) *Manager {
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}

	verifier, ok := provider.(TokenVerifier)
	if !ok {
		verifier = expiryVerifier{clock: clk}
	}

	return &Manager{
		store:    store,
		verifier: verifier,
		ttl:      ttl,
		clock:    clk,
		logger:   logger.With().Str("component", "sessions").Logger(),
		live:     make(map[string]*AuthStore),
	}
}

// New returns an empty, signed-out AuthStore.
func (m *Manager) New() *AuthStore {
	return newAuthStore(m, nil)
}

// Load returns the AuthStore for a session ID. Unknown or expired IDs yield
// a signed-out store; only backend failures are returned as errors.
func (m *Manager) Load(ctx context.Context, id string) (*AuthStore, error) {
	if id == "" {
		return m.New(), nil
	}

	m.mu.Lock()
	a, ok := m.live[id]
	m.mu.Unlock()
	if ok {
		return a, nil
	}

	session, err := m.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return m.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	if session.Expired(m.clock.Now()) {
		if err := m.store.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to delete expired session")
		}
		return m.New(), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another request may have loaded it meanwhile
	if existing, ok := m.live[id]; ok {
		return existing, nil
	}
	a = newAuthStore(m, session)
	m.live[id] = a
	return a, nil
}

// Active returns the number of sessions held in memory.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// CleanupExpired deletes expired sessions from storage and signs out the
// in-memory stores holding them.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	now := m.clock.Now()

	m.mu.Lock()
	var expired []*AuthStore
	for id, a := range m.live {
		a.mu.RLock()
		lapsed := a.session == nil || a.session.Expired(now)
		a.mu.RUnlock()
		if lapsed {
			expired = append(expired, a)
			delete(m.live, id)
		}
	}
	m.mu.Unlock()

	for _, a := range expired {
		a.expire()
	}

	n, err := m.store.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return n, nil
}

// StartCleanup runs CleanupExpired every interval until ctx is done.
func (m *Manager) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval == 0 {
		interval = 15 * time.Minute
	}

	go func() {
		ticker := m.clock.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				count, err := m.CleanupExpired(ctx)
				if err != nil {
					m.logger.Error().Err(err).Msg("Session cleanup failed")
					continue
				}
				if count > 0 {
					m.logger.Info().Int("count", count).Msg("Cleaned up expired sessions")
				}
			}
		}
	}()
}

func (m *Manager) remember(id string, a *AuthStore) {
	m.mu.Lock()
	m.live[id] = a
	m.mu.Unlock()
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.live, id)
	m.mu.Unlock()
}

// expiryVerifier accepts any well-formed JWT whose exp is in the future.
// Signatures are the issuing backend's concern.
type expiryVerifier struct {
	clock clock.Clock
}

func (v expiryVerifier) VerifyToken(token string) error {
	exp, ok := tokenExpiry(token)
	if !ok || !exp.After(v.clock.Now()) {
		return ErrInvalidToken
	}
	return nil
}

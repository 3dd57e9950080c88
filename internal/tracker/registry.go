package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goodtune/labportal/internal/clock"
	"github.com/goodtune/labportal/internal/identity"
	"github.com/goodtune/labportal/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultInactivityTimeout is how long a session may go without a
	// heartbeat before it is stopped.
	DefaultInactivityTimeout = 30 * time.Second

	// DefaultReapInterval is how often idle sessions are looked for.
	DefaultReapInterval = 10 * time.Second
)

// ErrUnknownSession is returned for tracking IDs that are not open for the
// caller.
var ErrUnknownSession = errors.New("tracker: unknown tracking session")

// Config holds registry configuration
type Config struct {
	FlushInterval     time.Duration
	InactivityTimeout time.Duration
	ReapInterval      time.Duration
}

// Registry owns the open tracking sessions of the server.
type Registry struct {
	stats             Recorder
	flushInterval     time.Duration
	inactivityTimeout time.Duration
	clock             clock.Clock
	logger            zerolog.Logger
	baseLogger        zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*entry // key: tracking ID

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type entry struct {
	id          string
	owner       string
	session     *Session
	lastSeen    time.Time
	unsubscribe func()
}

// NewRegistry creates a registry and starts its inactivity reaper.
func NewRegistry(stats Recorder, cfg Config, clk clock.Clock, logger zerolog.Logger) *Registry {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}

	r := &Registry{
		stats:             stats,
		flushInterval:     cfg.FlushInterval,
		inactivityTimeout: cfg.InactivityTimeout,
		clock:             clk,
		logger:            logger.With().Str("component", "tracker-registry").Logger(),
		baseLogger:        logger,
		sessions:          make(map[string]*entry),
		stopChan:          make(chan struct{}),
	}

	ticker := clk.NewTicker(cfg.ReapInterval)
	r.wg.Add(1)
	go r.reapLoop(ticker)

	return r
}

// Open starts tracking (labName, category) for the browser session auth.
// Every call gets its own accumulator and ID, so a reloaded page or a second
// tab on the same lab is tracked independently of the page it replaces.
// ok is false when auth is not a valid session.
func (r *Registry) Open(ctx context.Context, auth *identity.AuthStore, labName, category string) (id string, ok bool) {
	if !auth.IsValid() {
		return "", false
	}

	owner := auth.ID()
	session := NewSession(auth, r.stats, labName, category, r.flushInterval, r.clock, r.baseLogger)
	if !session.Start(ctx) {
		return "", false
	}

	e := &entry{
		id:       uuid.NewString(),
		owner:    owner,
		session:  session,
		lastSeen: r.clock.Now(),
	}
	e.unsubscribe = auth.OnChange(func(a *identity.AuthStore) {
		if a.ID() != owner || !a.IsValid() {
			r.logger.Debug().Str("tracking_id", e.id).Msg("Browser session ended, closing tracking session")
			_ = r.Close(context.WithoutCancel(ctx), e.id, owner)
		}
	})

	r.mu.Lock()
	r.sessions[e.id] = e
	r.mu.Unlock()

	// Signed out between Start and insertion; the listener missed the entry
	if !auth.IsValid() || auth.ID() != owner {
		_ = r.Close(ctx, e.id, owner)
		return "", false
	}

	r.logger.Info().
		Str("tracking_id", e.id).
		Str("lab", labName).
		Str("category", category).
		Msg("Tracking session opened")

	return e.id, true
}

// Heartbeat marks a tracking session as still displayed.
func (r *Registry) Heartbeat(id, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok || e.owner != owner {
		return ErrUnknownSession
	}
	e.lastSeen = r.clock.Now()
	return nil
}

// Close stops a tracking session and writes its remaining time.
func (r *Registry) Close(ctx context.Context, id, owner string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok || e.owner != owner {
		r.mu.Unlock()
		return ErrUnknownSession
	}
	r.removeLocked(e)
	r.mu.Unlock()

	return r.stop(ctx, e, r.clock.Now())
}

// Active returns the number of open tracking sessions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown stops the reaper and every open session.
func (r *Registry) Shutdown(ctx context.Context) {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()

	r.mu.Lock()
	open := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		open = append(open, e)
		r.removeLocked(e)
	}
	r.mu.Unlock()

	now := r.clock.Now()
	for _, e := range open {
		if err := r.stop(ctx, e, now); err != nil {
			r.logger.Error().Err(err).Str("tracking_id", e.id).Msg("Failed to save lab usage on shutdown")
		}
	}

	r.logger.Info().Int("count", len(open)).Msg("Tracking sessions stopped")
}

// Reap stops sessions whose last heartbeat is older than the inactivity
// timeout. Their final flush counts only up to that heartbeat.
func (r *Registry) Reap(ctx context.Context) int {
	now := r.clock.Now()

	r.mu.Lock()
	var idle []*entry
	for _, e := range r.sessions {
		if now.Sub(e.lastSeen) > r.inactivityTimeout {
			idle = append(idle, e)
			r.removeLocked(e)
		}
	}
	r.mu.Unlock()

	for _, e := range idle {
		r.logger.Debug().
			Str("tracking_id", e.id).
			Dur("inactive", now.Sub(e.lastSeen)).
			Msg("Stopping inactive tracking session")

		if err := r.stop(ctx, e, e.lastSeen); err != nil {
			r.logger.Error().Err(err).Str("tracking_id", e.id).Msg("Failed to save lab usage for inactive session")
		}
		metrics.TrackingSessionsReaped.Inc()
	}

	return len(idle)
}

func (r *Registry) reapLoop(ticker clock.Ticker) {
	defer r.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C():
			r.Reap(context.Background())
		}
	}
}

func (r *Registry) removeLocked(e *entry) {
	delete(r.sessions, e.id)
}

func (r *Registry) stop(ctx context.Context, e *entry, until time.Time) error {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	return e.session.stopAt(ctx, until)
}

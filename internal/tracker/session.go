// Package tracker measures time spent on lab pages and credits it to the
// user's usage records.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/labportal/internal/clock"
	"github.com/goodtune/labportal/internal/identity"
	"github.com/goodtune/labportal/internal/labstats"
	"github.com/goodtune/labportal/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultFlushInterval is how often open sessions write elapsed time.
const DefaultFlushInterval = 5 * time.Second

// Auth is the identity a tracking session credits time to.
type Auth interface {
	IsValid() bool
	Record() (identity.Record, bool)
}

// Recorder persists elapsed time. *labstats.Store implements it.
type Recorder interface {
	Add(ctx context.Context, userID, labName, category string, seconds int64, at time.Time) ([]labstats.Record, error)
}

// Session accumulates time for one (lab, category) pair while a lab page
// is open. Time is written every flush interval and once more on Stop.
type Session struct {
	labName  string
	category string
	auth     Auth
	stats    Recorder
	clock    clock.Clock
	interval time.Duration
	logger   zerolog.Logger

	// mu serializes flushes
	mu      sync.Mutex
	start   time.Time
	started bool
	stopped bool

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewSession creates an idle Session. Call Start to begin tracking.
func NewSession(auth Auth, stats Recorder, labName, category string, interval time.Duration, clk clock.Clock, logger zerolog.Logger) *Session {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Session{
		labName:  labName,
		category: category,
		auth:     auth,
		stats:    stats,
		clock:    clk,
		interval: interval,
		logger: logger.With().
			Str("component", "tracker").
			Str("lab", labName).
			Str("category", category).
			Logger(),
		done: make(chan struct{}),
	}
}

// Start begins tracking if the session context is valid. It reports
// whether tracking began; without a valid session nothing is scheduled.
func (s *Session) Start(ctx context.Context) bool {
	if !s.auth.IsValid() {
		s.logger.Debug().Msg("No valid session, tracking not started")
		return false
	}

	s.mu.Lock()
	if s.started || s.stopped {
		started := s.started
		s.mu.Unlock()
		return started
	}
	s.started = true
	s.start = s.clock.Now()
	s.wg.Add(1)
	metrics.TrackingSessionsActive.Inc()
	s.mu.Unlock()

	ticker := s.clock.NewTicker(s.interval)
	flushCtx := context.WithoutCancel(ctx)

	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C():
				if err := s.Flush(flushCtx); err != nil {
					s.logger.Error().Err(err).Msg("Failed to save lab usage")
				}
			}
		}
	}()

	s.logger.Debug().Msg("Tracking started")
	return true
}

// Flush credits the whole seconds elapsed since the last flush.
func (s *Session) Flush(ctx context.Context) error {
	return s.flushUntil(ctx, s.clock.Now())
}

func (s *Session) flushUntil(ctx context.Context, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	if !s.auth.IsValid() {
		metrics.TrackingFlushes.WithLabelValues("unauthenticated").Inc()
		return nil
	}
	record, ok := s.auth.Record()
	if !ok || record.ID == "" {
		metrics.TrackingFlushes.WithLabelValues("unauthenticated").Inc()
		return nil
	}

	elapsed := int64(until.Sub(s.start) / time.Second)
	if elapsed <= 0 {
		metrics.TrackingFlushes.WithLabelValues("empty").Inc()
		return nil
	}

	if _, err := s.stats.Add(ctx, record.ID, s.labName, s.category, elapsed, until); err != nil {
		metrics.TrackingFlushes.WithLabelValues("error").Inc()
		return err
	}

	s.start = until
	metrics.TrackingFlushes.WithLabelValues("ok").Inc()
	metrics.LabSecondsRecorded.WithLabelValues(s.category).Add(float64(elapsed))

	s.logger.Debug().
		Str("user_id", record.ID).
		Int64("seconds", elapsed).
		Msg("Flushed lab time")

	return nil
}

// Stop cancels periodic flushing and writes any remaining time. Only the
// first call has an effect and a stopped Session cannot be restarted.
func (s *Session) Stop(ctx context.Context) error {
	return s.stopAt(ctx, s.clock.Now())
}

// stopAt is Stop with the final flush counted up to until.
func (s *Session) stopAt(ctx context.Context, until time.Time) error {
	first := false
	s.stopOnce.Do(func() {
		first = true
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.done)
		s.wg.Wait()
	})

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !first || !started {
		return nil
	}

	metrics.TrackingSessionsActive.Dec()
	err := s.flushUntil(ctx, until)

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	s.logger.Debug().Msg("Tracking stopped")
	return err
}

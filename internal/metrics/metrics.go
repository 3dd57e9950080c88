package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labportal_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"route", "method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "labportal_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "labportal_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	// Auth metrics
	AuthAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labportal_auth_attempts_total",
			Help: "Login and registration attempts",
		},
		[]string{"action", "result"},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "labportal_sessions_active",
			Help: "Number of browser sessions held in memory",
		},
	)

	// Tracking metrics
	TrackingSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "labportal_tracking_sessions_active",
			Help: "Number of open lab tracking sessions",
		},
	)

	TrackingFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labportal_tracking_flushes_total",
			Help: "Tracking flushes by result",
		},
		[]string{"result"},
	)

	LabSecondsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labportal_lab_seconds_recorded_total",
			Help: "Seconds of lab time written to usage stats",
		},
		[]string{"category"},
	)

	TrackingSessionsReaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "labportal_tracking_sessions_reaped_total",
			Help: "Tracking sessions stopped for inactivity",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		RateLimited,
		AuthAttempts,
		SessionsActive,
		TrackingSessionsActive,
		TrackingFlushes,
		LabSecondsRecorded,
		TrackingSessionsReaped,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server. ready reports whether the
// portal's storage backend is reachable; nil means always healthy.
func NewServer(addr string, ready func() error, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler exposes the server's routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}

// Package portal serves the lab portal web UI and its JSON API.
package portal

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/goodtune/labportal/internal/clock"
	"github.com/goodtune/labportal/internal/identity"
	"github.com/goodtune/labportal/internal/labstats"
	"github.com/goodtune/labportal/internal/tracker"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

//go:embed static
var staticFS embed.FS

// SessionCookie carries the browser session ID.
const SessionCookie = "labportal_session"

// Lab is an entry of the lab catalogue.
type Lab struct {
	Name        string
	Category    string
	Description string
}

// Path returns the lab page URL.
func (l Lab) Path() string {
	return "/labs/" + url.PathEscape(l.Category) + "/" + url.PathEscape(l.Name)
}

// Config holds the portal server configuration.
type Config struct {
	ListenAddr         string
	SecureCookies      bool
	MinPasswordLength  int
	RedirectDelay      time.Duration
	PostRegisterPause  time.Duration
	LoginFallbackDelay time.Duration
	NoticeTimeout      time.Duration
	HeartbeatInterval  time.Duration
	RateLimit          int
	RateLimitWindow    time.Duration
	Labs               []Lab
}

// Server is the portal HTTP server.
type Server struct {
	config      Config
	provider    identity.Provider
	sessions    *identity.Manager
	stats       *labstats.Store
	tracking    *tracker.Registry
	clock       clock.Clock
	rateLimiter *RateLimiter
	server      *http.Server
	router      *mux.Router
	templates   map[string]*template.Template
	listener    net.Listener // Optional pre-created listener (for systemd socket activation)
	logger      zerolog.Logger
}

// NewServer creates a new portal server.
func NewServer(cfg Config, provider identity.Provider, sessions *identity.Manager, stats *labstats.Store, tracking *tracker.Registry, clk clock.Clock, logger zerolog.Logger) (*Server, error) {
	if cfg.MinPasswordLength == 0 {
		cfg.MinPasswordLength = identity.DefaultMinPasswordLength
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 100 // Default: 100 requests per minute
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.NoticeTimeout == 0 {
		cfg.NoticeTimeout = 3 * time.Second
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}

	templates, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		config:      cfg,
		provider:    provider,
		sessions:    sessions,
		stats:       stats,
		tracking:    tracking,
		clock:       clk,
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow),
		router:      mux.NewRouter(),
		templates:   templates,
		logger:      logger.With().Str("component", "portal").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RateLimitMiddleware(s.rateLimiter))
	s.router.Use(SessionMiddleware(s.sessions, s.config.SecureCookies, s.logger))

	// Public routes
	s.router.HandleFunc("/", s.handleHome).Methods("GET")
	s.router.HandleFunc("/login", s.handleLoginPage).Methods("GET")
	s.router.HandleFunc("/login", s.handleLogin).Methods("POST")
	s.router.HandleFunc("/register", s.handleRegisterPage).Methods("GET")
	s.router.HandleFunc("/register", s.handleRegister).Methods("POST")
	s.router.HandleFunc("/logout", s.handleLogout).Methods("POST")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Static files
	staticSub, err := fs.Sub(staticFS, "static")
	if err == nil {
		s.router.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))
	}

	// Guarded pages
	pages := s.router.PathPrefix("/").Subrouter()
	pages.Use(RequireSession(false))
	pages.HandleFunc("/dashboard", s.handleDashboard).Methods("GET")
	pages.HandleFunc("/labs/{category}/{lab}", s.handleLab).Methods("GET")

	// Guarded API
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(RequireSession(true))
	api.HandleFunc("/me", s.handleMe).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/tracking", s.handleTrackingOpen).Methods("POST")
	api.HandleFunc("/tracking/{id}/heartbeat", s.handleTrackingHeartbeat).Methods("POST")
	api.HandleFunc("/tracking/{id}", s.handleTrackingClose).Methods("DELETE")
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the portal HTTP server.
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.config.ListenAddr).
		Int("labs", len(s.config.Labs)).
		Msg("Starting portal server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated portal listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Portal server error")
		}
	}()

	return nil
}

// Stop gracefully stops the portal HTTP server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping portal server")
	s.rateLimiter.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("portal server shutdown: %w", err)
	}

	return nil
}

// parseTemplates pairs the layout with every page template.
func parseTemplates() (map[string]*template.Template, error) {
	pages, err := fs.Glob(staticFS, "static/templates/pages/*.html")
	if err != nil {
		return nil, err
	}

	templates := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		tmpl, err := template.New("layout.html").ParseFS(staticFS, "static/templates/layout.html", page)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", page, err)
		}
		templates[path.Base(page)] = tmpl
	}
	return templates, nil
}

func (s *Server) render(w http.ResponseWriter, status int, page string, data *pageData) {
	tmpl, ok := s.templates[page]
	if !ok {
		s.logger.Error().Str("page", page).Msg("Unknown template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data.NoticeTimeoutMS = s.config.NoticeTimeout.Milliseconds()

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		s.logger.Error().Err(err).Str("page", page).Msg("Failed to render template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

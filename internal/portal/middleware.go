package portal

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goodtune/labportal/internal/identity"
	"github.com/goodtune/labportal/internal/metrics"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// ContextKeyAuth is the context key for the request's *identity.AuthStore.
const ContextKeyAuth contextKey = "auth"

// AuthFromContext returns the AuthStore loaded by SessionMiddleware.
func AuthFromContext(ctx context.Context) (*identity.AuthStore, bool) {
	auth, ok := ctx.Value(ContextKeyAuth).(*identity.AuthStore)
	return auth, ok && auth != nil
}

// SessionMiddleware loads the browser session named by the session cookie.
// Requests without a usable session get a signed-out AuthStore.
func SessionMiddleware(sessions *identity.Manager, secure bool, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var auth *identity.AuthStore

			if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
				auth, err = sessions.Load(r.Context(), cookie.Value)
				if err != nil {
					logger.Error().Err(err).Msg("Failed to load session")
				}
				if auth == nil || !auth.IsValid() {
					clearSessionCookie(w, secure)
				}
			}
			if auth == nil {
				auth = sessions.New()
			}

			ctx := context.WithValue(r.Context(), ContextKeyAuth, auth)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession rejects requests without a valid session. Pages are
// redirected to the login view; API calls get a 401.
func RequireSession(api bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth, ok := AuthFromContext(r.Context())
			if !ok || !auth.IsValid() {
				if api {
					WriteError(w, http.StatusUnauthorized, "Authentication required")
					return
				}
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoggingMiddleware creates middleware for logging HTTP requests.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create response writer wrapper to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			route := routeName(r)
			metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
			metrics.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", wrapped.statusCode).
				Dur("duration", duration).
				Msg("Portal request")
		})
	}
}

// routeName is the matched route template, keeping metric labels bounded.
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RateLimiter keeps one token bucket per client.
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*client
	limit    rate.Limit
	burst    int
	window   time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows requestsPerWindow requests per window per client.
func NewRateLimiter(requestsPerWindow int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients:  make(map[string]*client),
		limit:    rate.Every(window / time.Duration(requestsPerWindow)),
		burst:    requestsPerWindow,
		window:   window,
		stopChan: make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow checks if a request from the given identifier is allowed.
func (rl *RateLimiter) Allow(identifier string) bool {
	rl.mu.Lock()
	c, ok := rl.clients[identifier]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[identifier] = c
	}
	c.lastSeen = time.Now()
	rl.mu.Unlock()

	return c.limiter.Allow()
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
}

// cleanup periodically removes idle clients.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window * 2)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for id, c := range rl.clients {
				if now.Sub(c.lastSeen) > rl.window*2 {
					delete(rl.clients, id)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// RateLimitMiddleware creates middleware for rate limiting.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := r.RemoteAddr
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				identifier = host
			}

			if !limiter.Allow(identifier) {
				metrics.RateLimited.Inc()
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setSessionCookie(w http.ResponseWriter, auth *identity.AuthStore, secure bool, now time.Time) {
	maxAge := int(auth.ExpiresAt().Sub(now).Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    auth.ID(),
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

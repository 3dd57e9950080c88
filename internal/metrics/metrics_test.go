package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		ready  func() error
		status int
	}{
		{"no check", nil, http.StatusOK},
		{"ready", func() error { return nil }, http.StatusOK},
		{"storage down", func() error { return errors.New("redis: connection refused") }, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer("127.0.0.1:0", tt.ready, zerolog.Nop())
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	LabSecondsRecorded.WithLabelValues("Testing").Add(5)

	s := NewServer("127.0.0.1:0", nil, zerolog.Nop())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "labportal_lab_seconds_recorded_total") {
		t.Error("expected lab seconds metric in output")
	}
}

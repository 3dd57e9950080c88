package portal

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goodtune/labportal/internal/dashboard"
	"github.com/goodtune/labportal/internal/identity"
	"github.com/goodtune/labportal/internal/labstats"
	"github.com/goodtune/labportal/internal/tracker"
	"github.com/gorilla/mux"
)

// OpenTrackingRequest starts tracking a lab.
type OpenTrackingRequest struct {
	LabName  string `json:"labName"`
	Category string `json:"category"`
}

// OpenTrackingResponse carries the new tracking ID.
type OpenTrackingResponse struct {
	ID                string `json:"id"`
	HeartbeatInterval int64  `json:"heartbeatIntervalMs"`
}

// StatsResponse is the current user's usage.
type StatsResponse struct {
	Records []labstats.Record `json:"records"`
	Summary dashboard.Summary `json:"summary"`
}

// MeResponse describes the signed-in user.
type MeResponse struct {
	Record    identity.Record `json:"record"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"active_sessions":   s.sessions.Active(),
		"tracking_sessions": s.tracking.Active(),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	auth, _ := AuthFromContext(r.Context())
	record, _ := auth.Record()
	WriteJSON(w, http.StatusOK, MeResponse{Record: record, ExpiresAt: auth.ExpiresAt()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	auth, _ := AuthFromContext(r.Context())
	record, _ := auth.Record()

	records, err := s.stats.Records(r.Context(), record.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", record.ID).Msg("Failed to load usage records")
		WriteError(w, http.StatusInternalServerError, "Failed to retrieve usage")
		return
	}

	WriteJSON(w, http.StatusOK, StatsResponse{
		Records: records,
		Summary: dashboard.Build(record, records),
	})
}

func (s *Server) handleTrackingOpen(w http.ResponseWriter, r *http.Request) {
	var req OpenTrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.LabName) == "" || strings.TrimSpace(req.Category) == "" {
		WriteError(w, http.StatusBadRequest, "labName and category are required")
		return
	}

	auth, _ := AuthFromContext(r.Context())
	id, ok := s.tracking.Open(r.Context(), auth, req.LabName, req.Category)
	if !ok {
		WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	WriteJSON(w, http.StatusCreated, OpenTrackingResponse{
		ID:                id,
		HeartbeatInterval: s.config.HeartbeatInterval.Milliseconds(),
	})
}

func (s *Server) handleTrackingHeartbeat(w http.ResponseWriter, r *http.Request) {
	auth, _ := AuthFromContext(r.Context())
	if err := s.tracking.Heartbeat(mux.Vars(r)["id"], auth.ID()); err != nil {
		s.writeTrackingError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTrackingClose(w http.ResponseWriter, r *http.Request) {
	auth, _ := AuthFromContext(r.Context())
	id := mux.Vars(r)["id"]
	err := s.tracking.Close(r.Context(), id, auth.ID())
	if errors.Is(err, tracker.ErrUnknownSession) {
		s.writeTrackingError(w, err)
		return
	}
	if err != nil {
		// The session is gone either way; the failed write stays server side
		s.logger.Error().Err(err).Str("tracking_id", id).Msg("Failed to save lab usage")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeTrackingError(w http.ResponseWriter, err error) {
	if errors.Is(err, tracker.ErrUnknownSession) {
		WriteError(w, http.StatusNotFound, "Tracking session not found")
		return
	}
	s.logger.Error().Err(err).Msg("Tracking request failed")
	WriteError(w, http.StatusInternalServerError, "Tracking request failed")
}

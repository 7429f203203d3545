package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vietddude/juror/internal/control"
	"github.com/vietddude/juror/internal/core/domain"
	"github.com/vietddude/juror/internal/infra/storage"
	"github.com/vietddude/juror/internal/voting/loop"
)

const (
	maxRequestBodySize = 64 << 10
	defaultLimit       = 20
	maxLimit           = 500
)

type startRunRequest struct {
	Cookie string `json:"cookie"`
}

type startRunResponse struct {
	RunID string `json:"run_id"`
}

type listRunsResponse struct {
	Active  []loop.Status       `json:"active"`
	History []*domain.RunResult `json:"history"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleStartRun handles POST /runs
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	runID, err := s.svc.StartRun(r.Context(), req.Cookie)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, startRunResponse{RunID: runID})
	case domain.IsConfiguration(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, control.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeInternalError(w, err)
	}
}

// handleListRuns handles GET /runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	history, err := s.svc.History(r.Context(), limitParam(r))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listRunsResponse{
		Active:  s.svc.Active(),
		History: history,
	})
}

// handleGetRun handles GET /runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Lookup(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleCancelRun handles DELETE /runs/{id}
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Cancel(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "run not active")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleRecentVotes handles GET /votes
func (s *Server) handleRecentVotes(w http.ResponseWriter, r *http.Request) {
	votes, err := s.svc.RecentVotes(r.Context(), limitParam(r))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, votes)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Health(r.Context()); err != nil {
		slog.Warn("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	return min(n, maxLimit)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

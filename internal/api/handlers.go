package api

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/position-sentinel/internal/types"
)

const defaultAlertLimit = 50

// handleLoanSummaries returns the cached loan position summaries, optionally
// filtered by user.
func (s *Server) handleLoanSummaries(w http.ResponseWriter, r *http.Request) {
	s.handleSummaries(w, r, types.KindLoanPosition)
}

// handleLpSummaries returns the cached LP position summaries, optionally
// filtered by user.
func (s *Server) handleLpSummaries(w http.ResponseWriter, r *http.Request) {
	s.handleSummaries(w, r, types.KindLpPosition)
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request, kind types.ContractKind) {
	userID := r.URL.Query().Get("user")

	summaries, err := s.summaries.List(r.Context(), kind, userID)
	if err != nil {
		s.log.Error("failed to list summaries", zap.String("kind", string(kind)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to read summaries")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"kind":      kind,
		"count":     len(summaries),
		"summaries": summaries,
	})
}

// handleRecentAlerts returns a user's most recent alert log entries.
func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "user query parameter is required")
		return
	}

	limit := defaultAlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	entries, err := s.alerts.Recent(r.Context(), userID, limit)
	if err != nil {
		s.log.Error("failed to read alert history", zap.String("user", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to read alert history")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(entries),
		"alerts": entries,
	})
}

package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ent0n29/speechkit/internal/history"
)

const (
	defaultSessionsLimit = 50
	maxSessionsLimit     = 500
)

// handleListSessions returns recently finished sessions, newest first.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := strings.ToLower(strings.TrimSpace(q.Get("kind")))
	switch kind {
	case "", "speak", "listen":
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "kind must be speak or listen")
		return
	}
	limit := defaultSessionsLimit
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxSessionsLimit)
	}

	records := []history.Record{}
	if s.history != nil {
		got, err := s.history.Recent(r.Context(), kind, limit)
		if err != nil {
			s.logger.Error("history query failed", "error", err)
			respondError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
			return
		}
		if got != nil {
			records = got
		}
	}

	resp := map[string]any{"sessions": records}
	if active, ok := s.manager.Active(); ok {
		resp["active"] = map[string]any{
			"session_id":   active.ID,
			"kind":         active.Request.Kind,
			"activated_at": active.ActivatedAt,
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

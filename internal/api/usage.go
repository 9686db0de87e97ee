package api

import (
	"net/http"
	"time"

	"github.com/exemi-au/exemi/internal/apperr"
	"github.com/exemi-au/exemi/internal/usage"
	"github.com/exemi-au/exemi/internal/users"
)

type usageResponse struct {
	Since   time.Time                `json:"since"`
	Until   time.Time                `json:"until"`
	Total   usage.Summary            `json:"total"`
	ByModel map[string]usage.Summary `json:"by_model"`
}

// handleUsage reports the caller's token usage over the last days days
// (default 30).
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request, u *users.User) {
	if s.deps.Usage == nil {
		s.writeDetail(w, http.StatusNotFound, "Usage tracking is not enabled")
		return
	}
	days, err := queryInt(r, "days", 30)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if days < 1 || days > 366 {
		s.writeError(w, r, apperr.Validation("days must be between 1 and 366"))
		return
	}

	until := time.Now().UTC()
	since := until.AddDate(0, 0, -days)
	total, err := s.deps.Usage.Summary(r.Context(), u.ID, since, until)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	byModel, err := s.deps.Usage.SummaryByModel(r.Context(), u.ID, since, until)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, usageResponse{Since: since, Until: until, Total: total, ByModel: byModel})
}

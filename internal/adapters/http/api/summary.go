package api

import (
	"context"
	"net/http"

	"github.com/okian/timebank/internal/auth"
	"github.com/okian/timebank/internal/domain/aggregate"
	"github.com/okian/timebank/pkg/logger"
)

// SummaryReader serves dashboard summaries.
type SummaryReader interface {
	Summarize(ctx context.Context, r aggregate.Range, force bool) (*aggregate.Summary, error)
}

// UserSummaryReader serves per-user summaries.
type UserSummaryReader interface {
	UserSummary(ctx context.Context, userID string) (*aggregate.UserSummary, error)
}

// SummaryHandler handles admin dashboard requests.
type SummaryHandler struct {
	deps   SummaryReader
	logger logger.Logger
}

// NewSummaryHandler creates a new summary handler.
func NewSummaryHandler(deps SummaryReader, l logger.Logger) *SummaryHandler {
	return &SummaryHandler{deps: deps, logger: l}
}

type summaryResponse struct {
	OK bool `json:"ok"`
	*aggregate.Summary
}

// HandleSummary handles GET /api/admin/metrics?range=&refresh=1 requests.
func (h *SummaryHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_metrics"
	if r.Method != http.MethodGet {
		writeError(w, NewKind(op, ErrMethodNotAllowed))
		return
	}
	q := r.URL.Query()
	rng, err := aggregate.ParseRange(q.Get("range"))
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	force := q.Get("refresh") == "1"

	s, err := h.deps.Summarize(r.Context(), rng, force)
	if err != nil {
		h.logger.Error(r.Context(), "summary failed", logger.String("range", string(rng)), logger.Error(err))
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{OK: true, Summary: s})
}

// MeHandler handles the authenticated user's own activity summary.
type MeHandler struct {
	deps   UserSummaryReader
	logger logger.Logger
}

// NewMeHandler creates a new per-user handler.
func NewMeHandler(deps UserSummaryReader, l logger.Logger) *MeHandler {
	return &MeHandler{deps: deps, logger: l}
}

type meResponse struct {
	OK bool `json:"ok"`
	*aggregate.UserSummary
}

// HandleActivities handles GET /api/me/activities requests.
func (h *MeHandler) HandleActivities(w http.ResponseWriter, r *http.Request) {
	const op = "api.me_activities"
	if r.Method != http.MethodGet {
		writeError(w, NewKind(op, ErrMethodNotAllowed))
		return
	}
	userID := auth.UserID(r.Context())
	if userID == "" {
		writeError(w, NewKind(op, ErrUnauthorized))
		return
	}
	s, err := h.deps.UserSummary(r.Context(), userID)
	if err != nil {
		h.logger.Error(r.Context(), "user summary failed", logger.String("user_id", userID), logger.Error(err))
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, meResponse{OK: true, UserSummary: s})
}

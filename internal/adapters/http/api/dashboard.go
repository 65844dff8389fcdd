package api

import (
	"net/http"
)

// dashboardHandler serves the admin dashboard page. The page itself calls
// /api/admin/metrics with the operator's bearer token.
type dashboardHandler struct{}

func newDashboardHandler() *dashboardHandler {
	return &dashboardHandler{}
}

// HandleDashboard handles GET /dashboard requests.
func (h *dashboardHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, NewKind("api.dashboard", ErrMethodNotAllowed))
		return
	}
	http.ServeFileFS(w, r, dashboardFS, "dashboard.html")
}

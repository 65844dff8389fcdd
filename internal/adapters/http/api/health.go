package api

import (
	"context"
	"net/http"
	"time"

	"github.com/okian/timebank/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readinessTimeout = 2 * time.Second

// HealthHandler handles liveness and metrics requests.
type HealthHandler struct {
	readiness ReadinessFunc
}

// NewHealthHandler creates a new health handler. A nil readiness probe
// always reports healthy.
func NewHealthHandler(readiness ReadinessFunc) *HealthHandler {
	return &HealthHandler{readiness: readiness}
}

type healthResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HandleHealth handles GET /healthz requests.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.readiness != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if err := h.readiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{OK: false, Error: "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{OK: true})
}

// MetricsHandler serves the custom Prometheus registry.
func (h *HealthHandler) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})
}

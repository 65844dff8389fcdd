// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/timebank/internal/auth"
	"github.com/okian/timebank/internal/domain/aggregate"
	"github.com/okian/timebank/internal/domain/ingest"
	"github.com/okian/timebank/internal/domain/resolver"
	"github.com/okian/timebank/pkg/logger"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	// Submit records one scan for the authenticated user.
	Submit(ctx context.Context, req ingest.Request) (ingest.Result, error)

	// Read operations expose dashboard and per-user summaries.
	Summarize(ctx context.Context, r aggregate.Range, force bool) (*aggregate.Summary, error)
	UserSummary(ctx context.Context, userID string) (*aggregate.UserSummary, error)
}

// ReadinessFunc reports whether backing services are reachable.
type ReadinessFunc func(ctx context.Context) error

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	scanHandler      *ScanHandler
	summaryHandler   *SummaryHandler
	meHandler        *MeHandler
	dashboardHandler *dashboardHandler
	authn            auth.Middleware
}

type serverOptions struct {
	resolver  *resolver.Resolver
	readiness ReadinessFunc
	logger    logger.Logger
}

// Option configures a Server.
type Option func(*serverOptions)

// WithResolver sets the resolver used for raw scan input.
func WithResolver(r *resolver.Resolver) Option {
	return func(o *serverOptions) {
		if r != nil {
			o.resolver = r
		}
	}
}

// WithReadiness sets the /healthz readiness probe.
func WithReadiness(fn ReadinessFunc) Option {
	return func(o *serverOptions) { o.readiness = fn }
}

// WithLogger sets a custom logger for the handlers.
func WithLogger(l logger.Logger) Option {
	return func(o *serverOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, authn auth.Middleware, opts ...Option) *Server {
	o := serverOptions{
		resolver: resolver.New(),
		logger:   logger.GetOrNop().Named("api"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		healthHandler:    NewHealthHandler(o.readiness),
		statsHandler:     NewStatsHandler(statsProvider),
		scanHandler:      NewScanHandler(deps, o.resolver, o.logger),
		summaryHandler:   NewSummaryHandler(deps, o.logger),
		meHandler:        NewMeHandler(deps, o.logger),
		dashboardHandler: newDashboardHandler(),
		authn:            authn,
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("/metrics", s.healthHandler.MetricsHandler())
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/dashboard", s.dashboardHandler.HandleDashboard)

	mux.HandleFunc("/api/scan", MetricsMiddleware(s.protect(s.scanHandler.HandleScan), "scan"))
	mux.HandleFunc("/api/me/activities", MetricsMiddleware(s.protect(s.meHandler.HandleActivities), "me_activities"))
	mux.HandleFunc("/api/admin/metrics", MetricsMiddleware(
		s.protect(auth.RequireScope(auth.ScopeAdmin, http.HandlerFunc(s.summaryHandler.HandleSummary)).ServeHTTP),
		"admin_metrics",
	))
}

func (s *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	return s.authn.Wrap(next).ServeHTTP
}

// errorResponse is the failure envelope for every API route.
type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	writeJSON(w, status, errorResponse{OK: false, Error: msg})
}

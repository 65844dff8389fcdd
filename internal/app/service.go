// Package service wires the ledger store, ingestion and summaries into the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/okian/timebank/internal/adapters/repository"
	"github.com/okian/timebank/internal/domain/aggregate"
	"github.com/okian/timebank/internal/domain/dedupe"
	"github.com/okian/timebank/internal/domain/ingest"
	"github.com/okian/timebank/internal/domain/scoring"
	"github.com/okian/timebank/pkg/logger"
)

// ErrNotStarted is returned by operations called before Start.
var ErrNotStarted = errors.New("service not started")

// Publisher receives recorded activities and can be closed on shutdown.
type Publisher interface {
	ingest.Publisher
	Close() error
}

// Service implements the API dependencies for the points ledger.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	ingest    *ingest.Service
	engine    *aggregate.Engine
	cache     *aggregate.Cache
	publisher Publisher
	closers   []func()

	// Configuration
	seed        *repository.Seed
	window      time.Duration
	windows     aggregate.Windows
	categories  []string
	topN        int
	recentLimit int
	cacheSize   int
	cacheTTL    time.Duration

	started bool
	logger  logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the ledger store. Without one, Start builds a memory store.
func WithStore(store repository.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithCloser registers fn to run on Stop, after the publisher is closed.
func WithCloser(fn func()) Option {
	return func(s *Service) {
		if fn != nil {
			s.closers = append(s.closers, fn)
		}
	}
}

// WithSeed seeds the memory store built by Start.
func WithSeed(seed *repository.Seed) Option {
	return func(s *Service) { s.seed = seed }
}

// WithPublisher sets the recorded-activity publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithDuplicateWindow sets the recent-scan window.
func WithDuplicateWindow(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.window = d
		}
	}
}

// WithWindows sets the reporting calendar.
func WithWindows(w aggregate.Windows) Option {
	return func(s *Service) { s.windows = w }
}

// WithCategories sets the dashboard categories.
func WithCategories(categories []string) Option {
	return func(s *Service) { s.categories = categories }
}

// WithTopN sets the ranking length.
func WithTopN(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.topN = n
		}
	}
}

// WithRecentLimit sets the per-user recent activity length.
func WithRecentLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.recentLimit = n
		}
	}
}

// WithSummaryCache sets the summary cache size and TTL. A zero TTL disables caching.
func WithSummaryCache(size int, ttl time.Duration) Option {
	return func(s *Service) {
		s.cacheSize = size
		s.cacheTTL = ttl
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		window:      ingest.DefaultDuplicateWindow,
		topN:        aggregate.DefaultTopN,
		recentLimit: aggregate.DefaultRecentLimit,
		cacheSize:   len(aggregate.Ranges),
		cacheTTL:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the ingestion service and the summary engine.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.GetOrNop().Named("service")
	}

	if s.store == nil {
		opts := []repository.Option{repository.WithUniqueIndex(dedupe.NewInMemoryDeduper())}
		if s.seed != nil {
			opts = append(opts, s.seed.Options()...)
		}
		s.store = repository.NewMemoryStore(opts...)
		s.logger.Info(ctx, "using memory store")
	}

	ingestOpts := []ingest.Option{
		ingest.WithDuplicateWindow(s.window),
		ingest.WithLogger(s.logger.Named("ingest")),
	}
	if s.publisher != nil {
		ingestOpts = append(ingestOpts, ingest.WithPublisher(s.publisher))
	}
	s.ingest = ingest.New(s.store, ingestOpts...)

	s.cache = aggregate.NewCache(s.cacheSize, s.cacheTTL)
	engineOpts := []aggregate.Option{
		aggregate.WithWindows(s.windows),
		aggregate.WithTopN(s.topN),
		aggregate.WithRecentLimit(s.recentLimit),
		aggregate.WithCache(s.cache),
		aggregate.WithLogger(s.logger.Named("aggregate")),
	}
	if len(s.categories) > 0 {
		engineOpts = append(engineOpts, aggregate.WithDistributor(scoring.NewDistributor(scoring.WithCategories(s.categories))))
	}
	s.engine = aggregate.NewEngine(s.store, engineOpts...)

	s.started = true
	s.logger.Info(ctx, "service started",
		logger.Duration("duplicateWindow", s.window),
		logger.Duration("summaryCacheTTL", s.cacheTTL),
		logger.Bool("publisher", s.publisher != nil),
	)
	return nil
}

// Stop closes the publisher and any registered closers.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn(ctx, "close publisher failed", logger.Error(err))
		}
	}
	for _, fn := range s.closers {
		fn()
	}
	s.closers = nil
	s.started = false
	s.logger.Info(ctx, "service stopped")
}

func (s *Service) components() (*ingest.Service, *aggregate.Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	return s.ingest, s.engine, nil
}

// Submit records one scan.
func (s *Service) Submit(ctx context.Context, req ingest.Request) (ingest.Result, error) {
	in, _, err := s.components()
	if err != nil {
		return ingest.Result{}, err
	}
	return in.Submit(ctx, req)
}

// Summarize returns the dashboard summary for r.
func (s *Service) Summarize(ctx context.Context, r aggregate.Range, force bool) (*aggregate.Summary, error) {
	_, eng, err := s.components()
	if err != nil {
		return nil, err
	}
	return eng.Summarize(ctx, r, force)
}

// UserSummary returns userID's totals and latest activity.
func (s *Service) UserSummary(ctx context.Context, userID string) (*aggregate.UserSummary, error) {
	_, eng, err := s.components()
	if err != nil {
		return nil, err
	}
	return eng.UserSummary(ctx, userID)
}

// Ready pings the store when it supports it.
func (s *Service) Ready(ctx context.Context) error {
	s.mu.RLock()
	store, started := s.store, s.started
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	if p, ok := store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":            s.started,
		"duplicateWindowSec": s.window.Seconds(),
		"summaryCacheTTLSec": s.cacheTTL.Seconds(),
		"publisher":          s.publisher != nil,
	}
	if !s.started {
		return stats
	}
	stats["summaryCacheEntries"] = s.cache.Len()
	if m, ok := s.store.(*repository.MemoryStore); ok {
		stats["store"] = "memory"
		stats["activities"] = m.Len()
	} else {
		stats["store"] = "external"
	}
	return stats
}

// Package aggregate turns the activity ledger into dashboard summaries:
// totals, day and hour series, top-N rankings and weighted category totals.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/okian/timebank/internal/domain/model"
	"github.com/okian/timebank/internal/domain/scoring"
	"github.com/okian/timebank/pkg/logger"
	"github.com/okian/timebank/pkg/metrics"
)

// Source is the read side of the repository the engine needs.
type Source interface {
	ActivitiesSince(ctx context.Context, since time.Time) ([]model.Activity, error)
	ActivitiesByUser(ctx context.Context, userID string) ([]model.Activity, error)
	Booths(ctx context.Context) ([]model.Booth, error)
	CategoryWeights(ctx context.Context, boothIDs []string) ([]model.CategoryWeight, error)
	DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error)
}

// Defaults.
const (
	DefaultTopN        = 3
	DefaultRecentLimit = 2
)

// RankEntry is one ranking row.
type RankEntry struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Total int64  `json:"total"`
}

// CategoryTotal is one category row.
type CategoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
}

// Summary is the dashboard payload for one range.
type Summary struct {
	Range           Range           `json:"range"`
	GeneratedAt     time.Time       `json:"generatedAt"`
	TotalSum        int64           `json:"totalSum"`
	ByKind          KindTotals      `json:"byKind"`
	TimeSeries      []DayPoint      `json:"timeSeries"`
	HourlySeries    []HourPoint     `json:"hourlySeries"`
	TopUsersOverall []RankEntry     `json:"topUsersOverall"`
	TopUsersEarn    []RankEntry     `json:"topUsersEarn"`
	TopUsersRedeem  []RankEntry     `json:"topUsersRedeem"`
	TopBoothsEarn   []RankEntry     `json:"topBoothsEarn"`
	TopBoothsRedeem []RankEntry     `json:"topBoothsRedeem"`
	CategoryTotals  []CategoryTotal `json:"categoryTotals"`
	Cache           *CacheMeta      `json:"cache,omitempty"`
}

// Engine builds and caches summaries.
type Engine struct {
	src     Source
	windows Windows
	dist    *scoring.Distributor
	topN    int
	recent  int
	cache   *Cache
	group   singleflight.Group
	now     func() time.Time
	logger  logger.Logger
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithWindows sets the reporting calendar.
func WithWindows(w Windows) Option {
	return func(e *Engine) { e.windows = w }
}

// WithDistributor sets the category distributor.
func WithDistributor(d *scoring.Distributor) Option {
	return func(e *Engine) {
		if d != nil {
			e.dist = d
		}
	}
}

// WithTopN sets the ranking length.
func WithTopN(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.topN = n
		}
	}
}

// WithRecentLimit sets how many rows UserSummary lists.
func WithRecentLimit(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.recent = n
		}
	}
}

// WithCache sets the summary cache. A nil cache disables caching.
func WithCache(c *Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine constructs an Engine reading from src.
func NewEngine(src Source, opts ...Option) *Engine {
	e := &Engine{
		src:    src,
		dist:   scoring.NewDistributor(),
		topN:   DefaultTopN,
		recent: DefaultRecentLimit,
		now:    time.Now,
		logger: logger.GetOrNop().Named("aggregate"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Summarize returns the summary for r. Unless force is set, a cached summary
// is returned when fresh, and concurrent misses share one build. A forced
// call always builds and repopulates the cache before returning.
func (e *Engine) Summarize(ctx context.Context, r Range, force bool) (*Summary, error) {
	if force {
		metrics.RecordSummaryRequest(string(r), "refresh")
		return e.buildAndStore(ctx, r)
	}
	if s, ok := e.cache.Get(r); ok {
		metrics.RecordSummaryRequest(string(r), "cache")
		return s, nil
	}
	metrics.RecordSummaryRequest(string(r), "build")
	// The shared build outlives any single waiter's cancellation.
	v, err, _ := e.group.Do(string(r), func() (any, error) {
		return e.buildAndStore(context.WithoutCancel(ctx), r)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Summary), nil
}

// Invalidate drops cached summaries for ranges, or all when none are given.
func (e *Engine) Invalidate(ranges ...Range) {
	e.cache.Invalidate(ranges...)
	metrics.UpdateSummaryCacheEntries(e.cache.Len())
}

func (e *Engine) buildAndStore(ctx context.Context, r Range) (*Summary, error) {
	start := time.Now()
	s, err := e.Build(ctx, r)
	metrics.RecordSummaryBuildLatency(metrics.SinceMs(start))
	if err != nil {
		e.logger.Error(ctx, "build summary failed", logger.String("range", string(r)), logger.Error(err))
		return nil, err
	}
	e.cache.Put(r, s, s.GeneratedAt)
	metrics.UpdateSummaryCacheEntries(e.cache.Len())
	return s, nil
}

// Build computes a fresh summary for r without touching the cache.
func (e *Engine) Build(ctx context.Context, r Range) (*Summary, error) {
	var (
		acts    []model.Activity
		booths  []model.Booth
		weights []model.CategoryWeight
	)
	// Stamped before the reads so a later build always carries a later time.
	generatedAt := e.now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		acts, err = e.src.ActivitiesSince(gctx, e.windows.Since)
		return wrap("load activities", err)
	})
	g.Go(func() (err error) {
		booths, err = e.src.Booths(gctx)
		return wrap("load booths", err)
	})
	g.Go(func() (err error) {
		weights, err = e.src.CategoryWeights(gctx, nil)
		return wrap("load category weights", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	loc := e.windows.location()
	inRange := Filter(acts, e.windows, r)
	earn := OfKind(inRange, model.KindEarn)
	redeem := OfKind(inRange, model.KindRedeem)

	s := &Summary{
		Range:        r,
		GeneratedAt:  generatedAt,
		TimeSeries:   DailySeries(inRange, loc),
		HourlySeries: HourlySeries(inRange, loc),
	}
	s.TotalSum, s.ByKind = Totals(inRange)

	usersOverall := RankTop(inRange, ByUser, e.topN)
	usersEarn := RankTop(earn, ByUser, e.topN)
	usersRedeem := RankTop(redeem, ByUser, e.topN)

	names, err := e.userNames(ctx, usersOverall, usersEarn, usersRedeem)
	if err != nil {
		return nil, err
	}
	boothNames := make(map[string]string, len(booths))
	for _, b := range booths {
		boothNames[b.ID] = b.DisplayName()
	}

	s.TopUsersOverall = label(usersOverall, names)
	s.TopUsersEarn = label(usersEarn, names)
	s.TopUsersRedeem = label(usersRedeem, names)
	s.TopBoothsEarn = label(RankTop(earn, ByBooth, e.topN), boothNames)
	s.TopBoothsRedeem = label(RankTop(redeem, ByBooth, e.topN), boothNames)

	totals := CategoryTotals(e.dist, inRange, scoring.IndexByBooth(weights))
	for _, c := range e.dist.Categories() {
		s.CategoryTotals = append(s.CategoryTotals, CategoryTotal{Category: c, Total: totals[c]})
	}
	return s, nil
}

// userNames looks up labels for every ranked user. A failing directory
// degrades to raw ids.
func (e *Engine) userNames(ctx context.Context, rankings ...[]Ranked) (map[string]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	for _, rs := range rankings {
		for _, r := range rs {
			if _, ok := seen[r.Key]; !ok {
				seen[r.Key] = struct{}{}
				ids = append(ids, r.Key)
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)
	names, err := e.src.DisplayNames(ctx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn(ctx, "display name lookup failed", logger.Error(err))
		return nil, nil
	}
	return names, nil
}

func label(rs []Ranked, names map[string]string) []RankEntry {
	out := make([]RankEntry, 0, len(rs))
	for _, r := range rs {
		name := names[r.Key]
		if name == "" {
			name = r.Key
		}
		out = append(out, RankEntry{ID: r.Key, Name: name, Total: r.Total})
	}
	return out
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}

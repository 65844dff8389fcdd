package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/timebank/internal/adapters/mq/queue"
	"github.com/okian/timebank/pkg/logger"
	"github.com/okian/timebank/pkg/metrics"
)

// Default scheduler configuration constants.
const (
	DefaultInterval     = 30 * time.Second
	defaultFlushTimeout = 2 * time.Minute
)

// Trigger names why a flush was requested.
type Trigger string

const (
	TriggerEnqueue      Trigger = "enqueue"
	TriggerConnectivity Trigger = "connectivity"
	TriggerFocus        Trigger = "focus"
	TriggerInterval     Trigger = "interval"
	TriggerShutdown     Trigger = "shutdown"
)

// Flusher is the queue operation the scheduler drives.
type Flusher interface {
	Flush(ctx context.Context) (queue.FlushResult, error)
}

// Scheduler runs flushes on one goroutine. Triggers that arrive while a flush
// is pending or running coalesce into a single follow-up flush, so flushes
// never overlap and never pile up.
type Scheduler struct {
	flusher      Flusher
	name         string
	interval     time.Duration
	flushTimeout time.Duration
	pending      chan Trigger
	results      []func(Trigger, queue.FlushResult)

	mu       sync.Mutex
	started  bool
	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewScheduler creates a scheduler for f.
func NewScheduler(f Flusher, opts ...Option) *Scheduler {
	s := &Scheduler{
		flusher:      f,
		name:         "flush-scheduler",
		interval:     DefaultInterval,
		flushTimeout: defaultFlushTimeout,
		pending:      make(chan Trigger, 1),
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
		logger:       logger.GetOrNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named(s.name)
	return s
}

// OnResult registers fn to observe every completed flush. Call before Run.
func (s *Scheduler) OnResult(fn func(Trigger, queue.FlushResult)) {
	s.results = append(s.results, fn)
}

// Notify requests a flush. It never blocks; if a request is already pending
// this one is absorbed by it.
func (s *Scheduler) Notify(t Trigger) {
	select {
	case s.pending <- t:
	default:
	}
}

// Run processes triggers until ctx is canceled or Shutdown is called.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	defer close(s.done)

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			// One last attempt so a clean exit leaves as little pending as possible.
			s.flush(context.WithoutCancel(ctx), TriggerShutdown)
			return
		case t := <-s.pending:
			s.flush(ctx, t)
		case <-tick:
			s.flush(ctx, TriggerInterval)
		}
	}
}

// Shutdown stops Run after a final flush.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (s *Scheduler) flush(ctx context.Context, t Trigger) {
	ctx, cancel := context.WithTimeout(ctx, s.flushTimeout)
	defer cancel()

	metrics.RecordOfflineFlush(string(t))
	res, err := s.flusher.Flush(ctx)
	switch {
	case errors.Is(err, queue.ErrFlushInProgress):
		// A flush started outside the scheduler; the pending item list is covered.
		return
	case err != nil:
		metrics.RecordErrorByComponent("scheduler", "flush_error")
		s.logger.Error(ctx, "flush failed", logger.String("trigger", string(t)), logger.Error(err))
		return
	}
	if res.Succeeded > 0 || res.Rejected > 0 {
		s.logger.Info(ctx, "flushed offline queue",
			logger.String("trigger", string(t)),
			logger.Int("succeeded", res.Succeeded),
			logger.Int("rejected", res.Rejected),
			logger.Int("remaining", res.Remaining),
		)
	}
	for _, fn := range s.results {
		fn(t, res)
	}
}

// Probe reports whether the ingestion endpoint is reachable.
type Probe func(ctx context.Context) bool

// WatchConnectivity polls probe every period and notifies s with
// TriggerConnectivity on each offline to online transition. It returns when
// ctx is canceled.
func WatchConnectivity(ctx context.Context, s *Scheduler, probe Probe, period time.Duration) {
	if period <= 0 {
		period = 5 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	online := probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := probe(ctx)
			if now && !online {
				s.logger.Info(ctx, "connectivity regained")
				s.Notify(TriggerConnectivity)
			}
			online = now
		}
	}
}

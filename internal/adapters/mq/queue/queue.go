// Package queue buffers scan submissions that could not be confirmed and
// retries them against the ingestion endpoint.
//
// The queue holds no timers. Flush is a plain call that walks pending items
// in order, one at a time; callers decide when to invoke it. At most one
// Flush runs at a time, a second concurrent call returns ErrFlushInProgress.
package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/timebank/pkg/logger"
	"github.com/okian/timebank/pkg/metrics"
)

// Item is one pending submission addressed by booth code or booth id.
// ClientEventID is the server-side idempotency key, so replaying an item is
// always safe.
type Item struct {
	Code          string    `json:"code,omitempty"`
	BoothID       string    `json:"boothId,omitempty"`
	ClientEventID string    `json:"clientEventId"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
}

// Outcome classifies one submission attempt.
type Outcome int

const (
	// OutcomeTransient keeps the item for the next flush.
	OutcomeTransient Outcome = iota
	// OutcomeAccepted removes the item (recorded or duplicate).
	OutcomeAccepted
	// OutcomeRejected keeps the item like OutcomeTransient but is counted
	// separately; only a confirmed success removes a queued scan.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	default:
		return "transient"
	}
}

// Submitter delivers one item to the ingestion endpoint.
type Submitter interface {
	Submit(ctx context.Context, it Item) (Outcome, error)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, it Item) (Outcome, error)

// Submit implements Submitter.
func (f SubmitterFunc) Submit(ctx context.Context, it Item) (Outcome, error) { return f(ctx, it) }

// FlushResult summarizes one Flush call.
type FlushResult struct {
	Succeeded int
	// Rejected counts items the server refused during this flush. They stay
	// in Remaining.
	Rejected  int
	Remaining int
}

// Queue is the offline retry queue.
type Queue struct {
	submitter Submitter
	store     Store
	now       func() time.Time
	logger    logger.Logger

	mu       sync.Mutex // guards store read-modify-write
	flushing sync.Mutex // held for the duration of a Flush
}

// New creates a queue delivering through submitter.
func New(submitter Submitter, opts ...Option) *Queue {
	q := &Queue{
		submitter: submitter,
		store:     NewMemoryStore(),
		now:       time.Now,
		logger:    logger.GetOrNop().Named("offline-queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue stores it. A missing client event id is generated and a missing
// timestamp is set. Re-enqueueing an id already pending is a no-op.
func (q *Queue) Enqueue(ctx context.Context, it Item) (Item, error) {
	it.Code = strings.TrimSpace(it.Code)
	it.BoothID = strings.TrimSpace(it.BoothID)
	if it.Code == "" && it.BoothID == "" {
		return Item{}, fmt.Errorf("%w: empty code", ErrInvalidItem)
	}
	if it.ClientEventID == "" {
		it.ClientEventID = uuid.NewString()
	}
	if it.EnqueuedAt.IsZero() {
		it.EnqueuedAt = q.now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	items, err := q.store.Load(ctx)
	if err != nil {
		return Item{}, err
	}
	for _, existing := range items {
		if existing.ClientEventID == it.ClientEventID {
			return existing, nil
		}
	}
	items = append(items, it)
	if err := q.store.Save(ctx, items); err != nil {
		return Item{}, err
	}
	metrics.UpdateOfflineQueueLength(len(items))
	q.logger.Debug(ctx, "enqueued", logger.String("client_event_id", it.ClientEventID), logger.Int("pending", len(items)))
	return it, nil
}

// Flush submits every pending item once, in enqueue order. Accepted items
// are removed as soon as their outcome is known; every other outcome keeps
// the item pending. A failing item never blocks the ones after it.
func (q *Queue) Flush(ctx context.Context) (FlushResult, error) {
	if !q.flushing.TryLock() {
		return FlushResult{}, ErrFlushInProgress
	}
	defer q.flushing.Unlock()

	pending, err := q.Items(ctx)
	if err != nil {
		return FlushResult{}, err
	}

	var res FlushResult
	transient := 0
	for _, it := range pending {
		if ctx.Err() != nil {
			break
		}
		outcome, err := q.submitter.Submit(ctx, it)
		if err != nil {
			q.logger.Debug(ctx, "submit attempt failed",
				logger.String("client_event_id", it.ClientEventID),
				logger.String("outcome", outcome.String()),
				logger.Error(err),
			)
		}
		switch outcome {
		case OutcomeAccepted:
			res.Succeeded++
		case OutcomeRejected:
			res.Rejected++
			q.logger.Warn(ctx, "submission refused, keeping it pending",
				logger.String("client_event_id", it.ClientEventID),
				logger.Error(err),
			)
			continue
		default:
			transient++
			continue
		}
		if err := q.remove(ctx, it.ClientEventID); err != nil {
			return res, err
		}
	}

	n, err := q.Len(ctx)
	if err != nil {
		return res, err
	}
	res.Remaining = n
	metrics.RecordOfflineItems(OutcomeAccepted.String(), res.Succeeded)
	metrics.RecordOfflineItems(OutcomeRejected.String(), res.Rejected)
	metrics.RecordOfflineItems(OutcomeTransient.String(), transient)
	metrics.UpdateOfflineQueueLength(n)
	return res, nil
}

// Items returns a snapshot of pending items in enqueue order.
func (q *Queue) Items(ctx context.Context) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Load(ctx)
}

// Len returns the number of pending items.
func (q *Queue) Len(ctx context.Context) (int, error) {
	items, err := q.Items(ctx)
	return len(items), err
}

func (q *Queue) remove(ctx context.Context, clientEventID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	items, err := q.store.Load(ctx)
	if err != nil {
		return err
	}
	kept := items[:0]
	for _, it := range items {
		if it.ClientEventID != clientEventID {
			kept = append(kept, it)
		}
	}
	return q.store.Save(ctx, kept)
}

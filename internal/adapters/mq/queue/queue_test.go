package queue_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/timebank/internal/adapters/mq/queue"
	"github.com/okian/timebank/internal/adapters/repository"
	"github.com/okian/timebank/internal/domain/ingest"
	"github.com/okian/timebank/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var errOffline = errors.New("network unreachable")

// remote simulates the ingestion endpoint as seen from a client.
type remote struct {
	mu          sync.Mutex
	svc         *ingest.Service
	reachable   bool
	loseReplies map[string]bool // client event ids whose reply is lost once
	calls       int
}

func (r *remote) Submit(ctx context.Context, it queue.Item) (queue.Outcome, error) {
	r.mu.Lock()
	r.calls++
	reachable := r.reachable
	lose := r.loseReplies[it.ClientEventID]
	delete(r.loseReplies, it.ClientEventID)
	r.mu.Unlock()

	if !reachable {
		return queue.OutcomeTransient, errOffline
	}
	_, err := r.svc.Submit(ctx, ingest.Request{UserID: "u1", Target: model.ByBoothCode(it.Code), ClientEventID: it.ClientEventID})
	if lose {
		// The server recorded the scan but the client timed out.
		return queue.OutcomeTransient, context.DeadlineExceeded
	}
	switch {
	case err == nil:
		return queue.OutcomeAccepted, nil
	case ingest.Retryable(err):
		return queue.OutcomeTransient, err
	default:
		return queue.OutcomeRejected, err
	}
}

func newRemote() (*remote, *repository.MemoryStore) {
	store := repository.NewMemoryStore(repository.WithBooths(
		model.Booth{ID: "b1", Code: "c1", Kind: model.KindEarn, Amount: 10, IsActive: true},
		model.Booth{ID: "b2", Code: "c2", Kind: model.KindEarn, Amount: 10, IsActive: true},
		model.Booth{ID: "b3", Code: "c3", Kind: model.KindEarn, Amount: 10, IsActive: true},
	))
	return &remote{svc: ingest.New(store), loseReplies: map[string]bool{}}, store
}

func TestQueueConvergence(t *testing.T) {
	Convey("Given three scans enqueued while the server is unreachable", t, func() {
		ctx := context.Background()
		rem, store := newRemote()
		q := queue.New(rem)

		for i, code := range []string{"c1", "c2", "c3"} {
			_, err := q.Enqueue(ctx, queue.Item{Code: code, ClientEventID: []string{"e1", "e2", "e3"}[i]})
			So(err, ShouldBeNil)
		}

		res, err := q.Flush(ctx)
		So(err, ShouldBeNil)
		So(res, ShouldResemble, queue.FlushResult{Remaining: 3})
		So(store.Len(), ShouldEqual, 0)

		Convey("When the server becomes reachable but one reply is lost", func() {
			rem.reachable = true
			rem.loseReplies["e2"] = true

			res, err := q.Flush(ctx)
			So(err, ShouldBeNil)
			So(res.Succeeded, ShouldEqual, 2)
			So(res.Remaining, ShouldEqual, 1)

			Convey("Then the next flush confirms it as a duplicate without a second row", func() {
				res, err := q.Flush(ctx)
				So(err, ShouldBeNil)
				So(res, ShouldResemble, queue.FlushResult{Succeeded: 1, Remaining: 0})
				So(store.Len(), ShouldEqual, 3)

				n, _ := q.Len(ctx)
				So(n, ShouldEqual, 0)
			})
		})
	})
}

func TestQueueOutcomes(t *testing.T) {
	Convey("Given a queue with a mix of deliverable and rejected items", t, func() {
		ctx := context.Background()
		rem, store := newRemote()
		rem.reachable = true
		q := queue.New(rem)

		_, _ = q.Enqueue(ctx, queue.Item{Code: "unknown-booth"})
		_, _ = q.Enqueue(ctx, queue.Item{Code: "c1"})

		res, err := q.Flush(ctx)

		Convey("Refused items stay pending and do not block later ones", func() {
			So(err, ShouldBeNil)
			So(res, ShouldResemble, queue.FlushResult{Succeeded: 1, Rejected: 1, Remaining: 1})
			So(store.Len(), ShouldEqual, 1)

			items, err := q.Items(ctx)
			So(err, ShouldBeNil)
			So(items, ShouldHaveLength, 1)
			So(items[0].Code, ShouldEqual, "unknown-booth")
		})

		Convey("A refused item is retried on the next flush", func() {
			again, err := q.Flush(ctx)
			So(err, ShouldBeNil)
			So(again, ShouldResemble, queue.FlushResult{Rejected: 1, Remaining: 1})
			So(rem.calls, ShouldEqual, 3)
		})
	})

	Convey("Enqueue fills in identity and rejects empty codes", t, func() {
		ctx := context.Background()
		now := time.Date(2025, 10, 18, 1, 0, 0, 0, time.UTC)
		q := queue.New(queue.SubmitterFunc(func(context.Context, queue.Item) (queue.Outcome, error) {
			return queue.OutcomeTransient, errOffline
		}), queue.WithClock(func() time.Time { return now }))

		it, err := q.Enqueue(ctx, queue.Item{Code: " c1 "})
		So(err, ShouldBeNil)
		So(it.Code, ShouldEqual, "c1")
		So(it.ClientEventID, ShouldNotBeEmpty)
		So(it.EnqueuedAt, ShouldEqual, now)

		again, err := q.Enqueue(ctx, it)
		So(err, ShouldBeNil)
		So(again.ClientEventID, ShouldEqual, it.ClientEventID)
		n, _ := q.Len(ctx)
		So(n, ShouldEqual, 1)

		_, err = q.Enqueue(ctx, queue.Item{Code: "  "})
		So(errors.Is(err, queue.ErrInvalidItem), ShouldBeTrue)
	})
}

func TestQueueFlushIsExclusive(t *testing.T) {
	Convey("Given a flush blocked inside a submission", t, func() {
		ctx := context.Background()
		entered := make(chan struct{})
		release := make(chan struct{})
		q := queue.New(queue.SubmitterFunc(func(context.Context, queue.Item) (queue.Outcome, error) {
			close(entered)
			<-release
			return queue.OutcomeAccepted, nil
		}))
		_, _ = q.Enqueue(ctx, queue.Item{Code: "c1"})

		done := make(chan queue.FlushResult)
		go func() {
			res, _ := q.Flush(ctx)
			done <- res
		}()
		<-entered

		Convey("A concurrent flush is refused instead of double-submitting", func() {
			_, err := q.Flush(ctx)
			So(errors.Is(err, queue.ErrFlushInProgress), ShouldBeTrue)
			close(release)
			So((<-done).Succeeded, ShouldEqual, 1)
		})
	})
}

func TestFileStore(t *testing.T) {
	Convey("Given a file-backed queue", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "nested", "queue.json")
		failing := queue.SubmitterFunc(func(context.Context, queue.Item) (queue.Outcome, error) {
			return queue.OutcomeTransient, errOffline
		})

		q := queue.New(failing, queue.WithStore(queue.NewFileStore(path)))
		_, err := q.Enqueue(ctx, queue.Item{Code: "c1", ClientEventID: "e1"})
		So(err, ShouldBeNil)
		_, err = q.Enqueue(ctx, queue.Item{Code: "c2", ClientEventID: "e2"})
		So(err, ShouldBeNil)

		Convey("Items survive a restart in order", func() {
			reopened := queue.New(failing, queue.WithStore(queue.NewFileStore(path)))
			items, err := reopened.Items(ctx)
			So(err, ShouldBeNil)
			So(len(items), ShouldEqual, 2)
			So(items[0].ClientEventID, ShouldEqual, "e1")
			So(items[1].Code, ShouldEqual, "c2")
		})

		Convey("Confirmed items are removed from disk", func() {
			ok := queue.New(queue.SubmitterFunc(func(context.Context, queue.Item) (queue.Outcome, error) {
				return queue.OutcomeAccepted, nil
			}), queue.WithStore(queue.NewFileStore(path)))
			res, err := ok.Flush(ctx)
			So(err, ShouldBeNil)
			So(res.Succeeded, ShouldEqual, 2)

			items, _ := queue.NewFileStore(path).Load(ctx)
			So(items, ShouldBeEmpty)
		})
	})
}

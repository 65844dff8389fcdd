package scanner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/timebank/internal/adapters/mq/queue"
	"github.com/okian/timebank/internal/adapters/mq/worker"
	"github.com/okian/timebank/internal/domain/model"
	"github.com/okian/timebank/internal/domain/resolver"
	"github.com/okian/timebank/pkg/logger"
)

const (
	defaultProbeInterval = 5 * time.Second
	shutdownTimeout      = 30 * time.Second
)

// Status is the user-facing result of one scanned line.
type Status string

// Line statuses.
const (
	StatusRecorded     Status = "recorded"
	StatusDuplicate    Status = "duplicate"
	StatusQueued       Status = "queued"
	StatusRejected     Status = "rejected"
	StatusUnrecognized Status = "unrecognized"
)

// Poster submits one item directly.
type Poster interface {
	Post(ctx context.Context, it queue.Item) (Response, error)
}

// Runner drives the scan loop.
type Runner struct {
	poster        Poster
	queue         *queue.Queue
	scheduler     *worker.Scheduler
	resolver      *resolver.Resolver
	probe         worker.Probe
	probeInterval time.Duration
	out           io.Writer
	newID         func() string
	logger        logger.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithProbe enables connectivity watching with probe polled every interval.
func WithProbe(probe worker.Probe, interval time.Duration) RunnerOption {
	return func(r *Runner) {
		r.probe = probe
		if interval > 0 {
			r.probeInterval = interval
		}
	}
}

// WithOutput sets where per-line results are printed.
func WithOutput(w io.Writer) RunnerOption {
	return func(r *Runner) {
		if w != nil {
			r.out = w
		}
	}
}

// WithIDGenerator overrides client event id generation.
func WithIDGenerator(gen func() string) RunnerOption {
	return func(r *Runner) {
		if gen != nil {
			r.newID = gen
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner wires poster, the offline queue and its scheduler.
func NewRunner(poster Poster, q *queue.Queue, s *worker.Scheduler, opts ...RunnerOption) *Runner {
	r := &Runner{
		poster:        poster,
		queue:         q,
		scheduler:     s,
		resolver:      resolver.New(),
		probeInterval: defaultProbeInterval,
		out:           io.Discard,
		newID:         uuid.NewString,
		logger:        logger.GetOrNop().Named("scanner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleLine processes one line of input. An empty line is a focus signal
// and only nudges the scheduler.
func (r *Runner) HandleLine(ctx context.Context, line string) (Status, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		r.scheduler.Notify(worker.TriggerFocus)
		return "", nil
	}

	target, err := r.resolver.Resolve(line)
	if err != nil {
		return StatusUnrecognized, err
	}
	it := itemFor(target)
	it.ClientEventID = r.newID()

	resp, err := r.poster.Post(ctx, it)
	if ShouldQueue(resp, err) {
		if _, qerr := r.queue.Enqueue(ctx, it); qerr != nil {
			return StatusRejected, fmt.Errorf("enqueue: %w", qerr)
		}
		r.logger.Info(ctx, "scan queued for retry",
			logger.String("client_event_id", it.ClientEventID),
			logger.Any("cause", describe(resp, err)),
		)
		r.scheduler.Notify(worker.TriggerEnqueue)
		return StatusQueued, nil
	}
	if err != nil {
		return StatusRejected, err
	}
	switch {
	case resp.OK && resp.Duplicated:
		return StatusDuplicate, nil
	case resp.OK:
		return StatusRecorded, nil
	default:
		return StatusRejected, fmt.Errorf("%s (status %d)", resp.Error, resp.Status)
	}
}

func itemFor(t model.Target) queue.Item {
	if id := t.BoothID(); id != "" {
		return queue.Item{BoothID: id}
	}
	return queue.Item{Code: t.BoothCode()}
}

func describe(resp Response, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("status %d", resp.Status)
}

// Run reads lines from in until EOF or ctx is canceled, then runs a final
// flush before returning.
func (r *Runner) Run(ctx context.Context, in io.Reader) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.scheduler.OnResult(func(t worker.Trigger, res queue.FlushResult) {
		if res.Succeeded > 0 || res.Rejected > 0 {
			fmt.Fprintf(r.out, "flushed (%s): %d sent, %d rejected, %d pending\n", t, res.Succeeded, res.Rejected, res.Remaining)
		}
	})
	// The scheduler outlives ctx so Shutdown can run its final flush.
	schedCtx, stopSched := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSched()
	go r.scheduler.Run(schedCtx)
	if r.probe != nil {
		go worker.WatchConnectivity(loopCtx, r.scheduler, r.probe, r.probeInterval)
	}
	if n, err := r.queue.Len(ctx); err == nil && n > 0 {
		fmt.Fprintf(r.out, "%d scans pending from a previous session\n", n)
		r.scheduler.Notify(worker.TriggerFocus)
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-loopCtx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				select {
				case err = <-readErr:
				default:
				}
				break loop
			}
			r.report(ctx, line)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer stop()
	if serr := r.scheduler.Shutdown(shutdownCtx); serr != nil {
		err = errors.Join(err, serr)
	}
	if n, lerr := r.queue.Len(shutdownCtx); lerr == nil && n > 0 {
		fmt.Fprintf(r.out, "%d scans still pending; they will be retried next run\n", n)
	}
	return err
}

func (r *Runner) report(ctx context.Context, line string) {
	status, err := r.HandleLine(ctx, line)
	switch {
	case status == "":
	case err != nil:
		fmt.Fprintf(r.out, "%s: %v\n", status, err)
	default:
		fmt.Fprintln(r.out, status)
	}
}

// Package ingest records one ledger row per accepted scan.
//
// Submit runs, in order: identity check, target validation, booth lookup,
// idempotency on (user, client event id), the recent-scan window on
// (user, booth), and the insert. The storage unique index is the final
// authority on idempotency; a conflict on insert is reported as a duplicate.
package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/timebank/internal/adapters/repository"
	"github.com/okian/timebank/internal/domain/model"
	"github.com/okian/timebank/pkg/logger"
	"github.com/okian/timebank/pkg/metrics"
)

const opSubmit = "ingest.submit"

// DefaultDuplicateWindow is the recent-scan window.
const DefaultDuplicateWindow = 20 * time.Second

// Store is the slice of the repository the service needs.
type Store interface {
	repository.Booths
	repository.Ledger
}

// Publisher receives newly recorded activities. Failures are logged, never
// surfaced to the submitter.
type Publisher interface {
	Publish(ctx context.Context, a model.Activity) error
}

// Request is one submission.
type Request struct {
	UserID        string
	Target        model.Target
	ClientEventID string
}

// Result is a successful submission.
type Result struct {
	Accepted   bool
	Duplicated bool
	ActivityID string
}

// Service validates and records submissions.
type Service struct {
	store     Store
	publisher Publisher
	window    time.Duration
	now       func() time.Time
	newID     func() string
	logger    logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithDuplicateWindow sets the recent-scan window. Zero disables the check.
func WithDuplicateWindow(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.window = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides activity id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithPublisher sets the recorded-activity publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
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

// New constructs a Service over store.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		window: DefaultDuplicateWindow,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logger.GetOrNop().Named("ingest"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit records req once. See the package comment for the check order.
func (s *Service) Submit(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordSubmitLatency(metrics.SinceMs(start))
		metrics.RecordSubmission(outcome(res, err))
	}()

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return Result{}, newError(opSubmit, ErrUnauthorized, nil)
	}
	if req.Target.IsZero() {
		return Result{}, newError(opSubmit, ErrValidation, errors.New("booth id or booth code is required"))
	}

	booth, err := s.lookup(ctx, req.Target)
	if err != nil {
		return Result{}, err
	}
	if !booth.IsActive {
		return Result{}, newError(opSubmit, ErrInactive, nil)
	}

	clientEventID := strings.TrimSpace(req.ClientEventID)
	if clientEventID != "" {
		existing, err := s.store.FindByClientEventID(ctx, userID, clientEventID)
		if err != nil {
			return Result{}, s.internal(ctx, "idempotency lookup failed", err)
		}
		if existing != nil {
			return Result{Accepted: true, Duplicated: true, ActivityID: existing.ID}, nil
		}
	}

	now := s.now()
	if s.window > 0 {
		recent, err := s.store.HasActivitySince(ctx, userID, booth.ID, now.Add(-s.window))
		if err != nil {
			return Result{}, s.internal(ctx, "recent scan lookup failed", err)
		}
		if recent {
			// A concurrent retry of this submission may have landed since the first lookup.
			if clientEventID != "" {
				existing, err := s.store.FindByClientEventID(ctx, userID, clientEventID)
				if err != nil {
					return Result{}, s.internal(ctx, "idempotency re-check failed", err)
				}
				if existing != nil {
					return Result{Accepted: true, Duplicated: true, ActivityID: existing.ID}, nil
				}
			}
			return Result{}, newError(opSubmit, ErrRateLimited, nil)
		}
	}

	// Amount and kind always come from the booth record.
	a := model.Activity{
		ID:            s.newID(),
		UserID:        userID,
		BoothID:       booth.ID,
		Kind:          booth.Kind,
		Amount:        booth.Amount,
		CreatedAt:     now,
		ClientEventID: clientEventID,
	}
	if !a.Kind.Valid() {
		a.Kind = model.KindEarn
	}
	if a.Amount < 0 {
		return Result{}, s.internal(ctx, "booth has negative amount", errors.New(booth.ID))
	}

	if err := s.store.InsertActivity(ctx, a); err != nil {
		if clientEventID != "" && errors.Is(err, repository.ErrConflict) {
			return s.raced(ctx, userID, clientEventID), nil
		}
		return Result{}, s.internal(ctx, "insert failed", err)
	}

	metrics.RecordActivityRecorded(string(a.Kind), a.Amount)
	s.publish(ctx, a)
	return Result{Accepted: true, ActivityID: a.ID}, nil
}

func (s *Service) lookup(ctx context.Context, t model.Target) (model.Booth, error) {
	var (
		b   model.Booth
		err error
	)
	if id := t.BoothID(); id != "" {
		b, err = s.store.BoothByID(ctx, id)
	} else {
		b, err = s.store.BoothByCode(ctx, t.BoothCode())
	}
	switch {
	case err == nil:
		return b, nil
	case errors.Is(err, repository.ErrNotFound):
		return model.Booth{}, newError(opSubmit, ErrNotFound, err)
	default:
		return model.Booth{}, s.internal(ctx, "booth lookup failed", err)
	}
}

// raced reports a duplicate after losing the insert to a concurrent retry.
func (s *Service) raced(ctx context.Context, userID, clientEventID string) Result {
	res := Result{Accepted: true, Duplicated: true}
	if existing, err := s.store.FindByClientEventID(ctx, userID, clientEventID); err == nil && existing != nil {
		res.ActivityID = existing.ID
	}
	return res
}

func (s *Service) publish(ctx context.Context, a model.Activity) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, a); err != nil {
		metrics.RecordPublishError()
		s.logger.Warn(ctx, "publish recorded activity failed",
			logger.String("activity_id", a.ID),
			logger.Error(err),
		)
		return
	}
	metrics.RecordPublished()
}

func (s *Service) internal(ctx context.Context, msg string, err error) error {
	s.logger.Error(ctx, msg, logger.Error(err))
	metrics.RecordErrorByComponent("ingest", "internal")
	return newError(opSubmit, ErrInternal, err)
}

func outcome(res Result, err error) string {
	switch {
	case err != nil:
		return KindLabel(err)
	case res.Duplicated:
		return "duplicated"
	default:
		return "accepted"
	}
}

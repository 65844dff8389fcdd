package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/okian/timebank/internal/domain/dedupe"
	"github.com/okian/timebank/internal/domain/model"
	"github.com/okian/timebank/pkg/metrics"
)

// MemoryStore is an in-process Store. Rows live in insertion order; the
// (user, client event id) uniqueness is enforced by a dedupe index so that
// concurrent inserts of one key resolve to exactly one row.
type MemoryStore struct {
	mu         sync.RWMutex
	booths     map[string]model.Booth
	boothCodes map[string]string // code -> id
	weights    map[string][]model.CategoryWeight
	profiles   map[string]model.Profile
	activities []model.Activity
	byUser     map[string][]int // indexes into activities

	unique dedupe.Deduper
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty store with optional provisioning.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		booths:     make(map[string]model.Booth),
		boothCodes: make(map[string]string),
		weights:    make(map[string][]model.CategoryWeight),
		profiles:   make(map[string]model.Profile),
		byUser:     make(map[string][]int),
		unique:     dedupe.NewInMemoryDeduper(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) putBooth(b model.Booth) {
	if old, ok := s.booths[b.ID]; ok && old.Code != "" {
		delete(s.boothCodes, old.Code)
	}
	s.booths[b.ID] = b
	if b.Code != "" {
		s.boothCodes[b.Code] = b.ID
	}
}

// BoothByID implements Booths.
func (s *MemoryStore) BoothByID(_ context.Context, id string) (model.Booth, error) {
	defer observe("booth_by_id", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.booths[id]
	if !ok {
		return model.Booth{}, fmt.Errorf("booth %q: %w", id, ErrNotFound)
	}
	return b, nil
}

// BoothByCode implements Booths.
func (s *MemoryStore) BoothByCode(_ context.Context, code string) (model.Booth, error) {
	defer observe("booth_by_code", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.boothCodes[code]
	if !ok {
		return model.Booth{}, fmt.Errorf("booth code %q: %w", code, ErrNotFound)
	}
	return s.booths[id], nil
}

// Booths implements Booths. Ordered by id.
func (s *MemoryStore) Booths(_ context.Context) ([]model.Booth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Booth, 0, len(s.booths))
	for _, b := range s.booths {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CategoryWeights implements Booths.
func (s *MemoryStore) CategoryWeights(_ context.Context, boothIDs []string) ([]model.CategoryWeight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CategoryWeight
	if len(boothIDs) == 0 {
		ids := make([]string, 0, len(s.weights))
		for id := range s.weights {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		boothIDs = ids
	}
	for _, id := range boothIDs {
		out = append(out, s.weights[id]...)
	}
	return out, nil
}

// HasActivitySince implements Ledger.
func (s *MemoryStore) HasActivitySince(_ context.Context, userID, boothID string, since time.Time) (bool, error) {
	defer observe("has_activity_since", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byUser[userID]
	for i := len(idx) - 1; i >= 0; i-- {
		a := s.activities[idx[i]]
		if a.BoothID == boothID && !a.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// FindByClientEventID implements Ledger.
func (s *MemoryStore) FindByClientEventID(ctx context.Context, userID, clientEventID string) (*model.Activity, error) {
	defer observe("find_by_client_event_id", time.Now())
	if clientEventID == "" || !s.unique.Seen(ctx, dedupe.Key(userID, clientEventID)) {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, i := range s.byUser[userID] {
		if a := s.activities[i]; a.ClientEventID == clientEventID {
			return &a, nil
		}
	}
	// Recorded in the index by an insert still in flight.
	return nil, nil
}

// InsertActivity implements Ledger.
func (s *MemoryStore) InsertActivity(ctx context.Context, a model.Activity) error {
	defer observe("insert_activity", time.Now())
	if a.Amount < 0 {
		metrics.RecordRepositoryError("insert_activity")
		return fmt.Errorf("%w: negative amount %d", ErrInvalidActivity, a.Amount)
	}
	if strings.TrimSpace(a.UserID) == "" || strings.TrimSpace(a.BoothID) == "" {
		metrics.RecordRepositoryError("insert_activity")
		return fmt.Errorf("%w: user and booth are required", ErrInvalidActivity)
	}
	if a.ClientEventID != "" && s.unique.SeenAndRecord(ctx, dedupe.Key(a.UserID, a.ClientEventID)) {
		return fmt.Errorf("client event %q: %w", a.ClientEventID, ErrConflict)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = append(s.activities, a)
	s.byUser[a.UserID] = append(s.byUser[a.UserID], len(s.activities)-1)
	return nil
}

// ActivitiesSince implements Ledger.
func (s *MemoryStore) ActivitiesSince(_ context.Context, since time.Time) ([]model.Activity, error) {
	defer observe("activities_since", time.Now())
	s.mu.RLock()
	out := make([]model.Activity, 0, len(s.activities))
	for _, a := range s.activities {
		if !a.CreatedAt.Before(since) {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ActivitiesByUser implements Ledger.
func (s *MemoryStore) ActivitiesByUser(_ context.Context, userID string) ([]model.Activity, error) {
	defer observe("activities_by_user", time.Now())
	s.mu.RLock()
	idx := s.byUser[userID]
	out := make([]model.Activity, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.activities[i])
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DisplayNames implements Directory.
func (s *MemoryStore) DisplayNames(_ context.Context, userIDs []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		if p, ok := s.profiles[id]; ok {
			out[id] = p.Label()
		}
	}
	return out, nil
}

// Len returns the number of stored activities.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.activities)
}

func observe(op string, start time.Time) {
	metrics.RecordRepositoryLatency(op, metrics.SinceMs(start))
}

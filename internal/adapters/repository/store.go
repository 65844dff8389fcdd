// Package repository defines the persistence contract the core consumes and
// an in-memory implementation of it.
package repository

import (
	"context"
	"time"

	"github.com/okian/timebank/internal/domain/model"
)

// Booths provides read access to provisioned booths and their category profiles.
type Booths interface {
	// BoothByID returns ErrNotFound if the id is unknown.
	BoothByID(ctx context.Context, id string) (model.Booth, error)
	// BoothByCode returns ErrNotFound if the code is unknown.
	BoothByCode(ctx context.Context, code string) (model.Booth, error)
	// Booths lists every booth.
	Booths(ctx context.Context) ([]model.Booth, error)
	// CategoryWeights returns weight rows for boothIDs, or for all booths when empty.
	CategoryWeights(ctx context.Context, boothIDs []string) ([]model.CategoryWeight, error)
}

// Ledger provides the activity log operations.
type Ledger interface {
	// HasActivitySince reports whether user scanned booth at or after since.
	HasActivitySince(ctx context.Context, userID, boothID string, since time.Time) (bool, error)
	// FindByClientEventID returns nil when no row carries the key.
	FindByClientEventID(ctx context.Context, userID, clientEventID string) (*model.Activity, error)
	// InsertActivity stores a row. Returns ErrConflict when (user, client event id)
	// already exists; the check and the write are atomic.
	InsertActivity(ctx context.Context, a model.Activity) error
	// ActivitiesSince returns rows with CreatedAt >= since, oldest first.
	ActivitiesSince(ctx context.Context, since time.Time) ([]model.Activity, error)
	// ActivitiesByUser returns a user's rows, newest first.
	ActivitiesByUser(ctx context.Context, userID string) ([]model.Activity, error)
}

// Directory resolves user ids to human-readable labels.
type Directory interface {
	// DisplayNames maps known ids to Profile.Label(); unknown ids are omitted.
	DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error)
}

// Store is the full persistence contract.
type Store interface {
	Booths
	Ledger
	Directory
}

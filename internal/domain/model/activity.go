// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// Kind is the transaction kind of an activity. The sign of a transaction is
// carried only by Kind; amounts are always non-negative.
type Kind string

const (
	KindEarn   Kind = "earn"
	KindRedeem Kind = "redeem"
)

// ParseKind normalizes a stored kind. Anything other than "redeem" is an earn,
// matching how booths were provisioned historically.
func ParseKind(s string) Kind {
	if strings.EqualFold(strings.TrimSpace(s), string(KindRedeem)) {
		return KindRedeem
	}
	return KindEarn
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindEarn || k == KindRedeem
}

// Activity is an immutable ledger row.
type Activity struct {
	ID            string
	UserID        string
	BoothID       string
	Kind          Kind
	Amount        int64 // always >= 0
	CreatedAt     time.Time
	ClientEventID string // empty when the client did not supply one
}

// Booth is a scannable point source. Owned by provisioning; read-only here.
type Booth struct {
	ID       string
	Code     string
	Name     string
	Kind     Kind
	Amount   int64
	IsActive bool
}

// DisplayName returns the booth name, falling back to its id.
func (b Booth) DisplayName() string {
	if strings.TrimSpace(b.Name) != "" {
		return b.Name
	}
	return b.ID
}

// CategoryWeight attributes a weighted share of a booth's amount to a category.
type CategoryWeight struct {
	BoothID      string
	CategoryCode string
	Weight       float64
}

// DefaultCategories is the fixed set of dashboard categories.
var DefaultCategories = []string{"environment", "social", "economic", "mental"}

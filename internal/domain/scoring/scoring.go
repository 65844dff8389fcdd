// Package scoring attributes a booth's raw amount to dashboard categories.
//
// Each booth carries zero or more (category, weight) rows. A scan of amount A
// contributes A*weight to every listed category and nothing anywhere else.
// Booths without rows contribute to no category; no default is guessed.
package scoring

import (
	"math"
	"strings"

	"github.com/okian/timebank/internal/domain/model"
)

// DefaultWeight applies when a stored weight is missing or not positive.
const DefaultWeight = 1.0

// Option applies a configuration option to the Distributor.
type Option func(*Distributor)

// WithCategories sets the fixed category set. Blank and repeated codes are dropped.
func WithCategories(categories []string) Option {
	return func(d *Distributor) {
		cleaned := make([]string, 0, len(categories))
		seen := make(map[string]struct{}, len(categories))
		for _, c := range categories {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			cleaned = append(cleaned, c)
		}
		if len(cleaned) > 0 {
			d.categories = cleaned
		}
	}
}

// Distributor computes weighted category contributions.
type Distributor struct {
	categories []string
	known      map[string]struct{}
}

// NewDistributor creates a Distributor over DefaultCategories unless overridden.
func NewDistributor(opts ...Option) *Distributor {
	d := &Distributor{categories: append([]string(nil), model.DefaultCategories...)}
	for _, opt := range opts {
		opt(d)
	}
	d.known = make(map[string]struct{}, len(d.categories))
	for _, c := range d.categories {
		d.known[c] = struct{}{}
	}
	return d
}

// Categories returns the category codes in display order.
func (d *Distributor) Categories() []string {
	return append([]string(nil), d.categories...)
}

// Zero returns a totals map with every category present at zero.
func (d *Distributor) Zero() map[string]float64 {
	out := make(map[string]float64, len(d.categories))
	for _, c := range d.categories {
		out[c] = 0
	}
	return out
}

// Accumulate adds amount*weight into totals for every known category in weights.
// Rows for categories outside the fixed set are ignored.
func (d *Distributor) Accumulate(totals map[string]float64, amount int64, weights []model.CategoryWeight) {
	for _, w := range weights {
		if _, ok := d.known[w.CategoryCode]; !ok {
			continue
		}
		totals[w.CategoryCode] += float64(amount) * NormalizeWeight(w.Weight)
	}
}

// Distribute returns only the contributions of a single amount.
func (d *Distributor) Distribute(amount int64, weights []model.CategoryWeight) map[string]float64 {
	out := make(map[string]float64, len(weights))
	d.Accumulate(out, amount, weights)
	return out
}

// NormalizeWeight maps missing, non-finite or non-positive weights to DefaultWeight.
func NormalizeWeight(w float64) float64 {
	if math.IsNaN(w) || math.IsInf(w, 0) || w <= 0 {
		return DefaultWeight
	}
	return w
}

// IndexByBooth groups weight rows by booth id.
func IndexByBooth(rows []model.CategoryWeight) map[string][]model.CategoryWeight {
	out := make(map[string][]model.CategoryWeight)
	for _, r := range rows {
		out[r.BoothID] = append(out[r.BoothID], r)
	}
	return out
}

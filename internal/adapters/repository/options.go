package repository

import (
	"github.com/okian/timebank/internal/domain/dedupe"
	"github.com/okian/timebank/internal/domain/model"
)

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithBooths provisions booths. Later entries replace earlier ones with the same id.
func WithBooths(booths ...model.Booth) Option {
	return func(s *MemoryStore) {
		for _, b := range booths {
			s.putBooth(b)
		}
	}
}

// WithCategoryWeights provisions booth category rows.
func WithCategoryWeights(rows ...model.CategoryWeight) Option {
	return func(s *MemoryStore) {
		for _, w := range rows {
			s.weights[w.BoothID] = append(s.weights[w.BoothID], w)
		}
	}
}

// WithProfiles provisions identity records for display names.
func WithProfiles(profiles ...model.Profile) Option {
	return func(s *MemoryStore) {
		for _, p := range profiles {
			s.profiles[p.ID] = p
		}
	}
}

// WithUniqueIndex replaces the (user, client event id) index.
func WithUniqueIndex(d dedupe.Deduper) Option {
	return func(s *MemoryStore) {
		if d != nil {
			s.unique = d
		}
	}
}

package aggregate

import (
	"context"
	"time"

	"github.com/okian/timebank/internal/domain/model"
	"github.com/okian/timebank/internal/domain/scoring"
)

// RecentActivity is one row of a user's latest activity list.
type RecentActivity struct {
	ID        string     `json:"id"`
	BoothID   string     `json:"boothId"`
	BoothName string     `json:"boothName"`
	Kind      model.Kind `json:"kind"`
	Amount    int64      `json:"amount"`
	CreatedAt time.Time  `json:"createdAt"`
}

// UserSummary is a single user's lifetime totals and latest activity.
type UserSummary struct {
	Recent     []RecentActivity   `json:"list"`
	Total      int64              `json:"total"`
	ByKind     KindTotals         `json:"byKind"`
	ByCategory map[string]float64 `json:"byCategory"`
}

// UserSummary aggregates every activity of userID regardless of range.
func (e *Engine) UserSummary(ctx context.Context, userID string) (*UserSummary, error) {
	acts, err := e.src.ActivitiesByUser(ctx, userID)
	if err != nil {
		return nil, wrap("load user activities", err)
	}

	boothIDs := make([]string, 0, len(acts))
	seen := make(map[string]struct{}, len(acts))
	for _, a := range acts {
		if _, ok := seen[a.BoothID]; !ok {
			seen[a.BoothID] = struct{}{}
			boothIDs = append(boothIDs, a.BoothID)
		}
	}

	var weights map[string][]model.CategoryWeight
	if len(boothIDs) > 0 {
		rows, err := e.src.CategoryWeights(ctx, boothIDs)
		if err != nil {
			return nil, wrap("load category weights", err)
		}
		weights = scoring.IndexByBooth(rows)
	}

	out := &UserSummary{ByCategory: CategoryTotals(e.dist, acts, weights)}
	out.Total, out.ByKind = Totals(acts)

	n := e.recent
	if n > len(acts) {
		n = len(acts)
	}
	if n > 0 {
		booths, err := e.src.Booths(ctx)
		if err != nil {
			return nil, wrap("load booths", err)
		}
		names := make(map[string]string, len(booths))
		for _, b := range booths {
			names[b.ID] = b.DisplayName()
		}
		for _, a := range acts[:n] {
			name := names[a.BoothID]
			if name == "" {
				name = a.BoothID
			}
			out.Recent = append(out.Recent, RecentActivity{
				ID: a.ID, BoothID: a.BoothID, BoothName: name,
				Kind: a.Kind, Amount: a.Amount, CreatedAt: a.CreatedAt,
			})
		}
	}
	if out.Recent == nil {
		out.Recent = []RecentActivity{}
	}
	return out, nil
}

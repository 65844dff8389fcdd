package aggregate

import (
	"sort"
	"time"

	"github.com/okian/timebank/internal/domain/model"
	"github.com/okian/timebank/internal/domain/scoring"
)

// DayPoint is one calendar-day total.
type DayPoint struct {
	Day   string `json:"day"`
	Total int64  `json:"total"`
}

// HourPoint is one hour-of-day total.
type HourPoint struct {
	Hour  int   `json:"hour"`
	Total int64 `json:"total"`
}

// Ranked is one group in a ranking.
type Ranked struct {
	Key     string
	Total   int64
	FirstAt time.Time
}

// KindTotals splits volume by transaction kind. Both are additive volumes;
// redeem never nets against earn.
type KindTotals struct {
	Earn   int64 `json:"earn"`
	Redeem int64 `json:"redeem"`
}

// Filter keeps activities inside r, preserving order.
func Filter(acts []model.Activity, w Windows, r Range) []model.Activity {
	out := make([]model.Activity, 0, len(acts))
	for _, a := range acts {
		if w.Contains(r, a.CreatedAt) {
			out = append(out, a)
		}
	}
	return out
}

// OfKind keeps activities of kind k.
func OfKind(acts []model.Activity, k model.Kind) []model.Activity {
	out := make([]model.Activity, 0, len(acts))
	for _, a := range acts {
		if a.Kind == k {
			out = append(out, a)
		}
	}
	return out
}

// Totals returns the overall sum and the per-kind split.
func Totals(acts []model.Activity) (int64, KindTotals) {
	var sum int64
	var byKind KindTotals
	for _, a := range acts {
		sum += a.Amount
		if a.Kind == model.KindRedeem {
			byKind.Redeem += a.Amount
		} else {
			byKind.Earn += a.Amount
		}
	}
	return sum, byKind
}

// DailySeries sums amounts per local calendar day, ascending by day.
func DailySeries(acts []model.Activity, loc *time.Location) []DayPoint {
	byDay := make(map[string]int64)
	for _, a := range acts {
		byDay[a.CreatedAt.In(loc).Format(time.DateOnly)] += a.Amount
	}
	out := make([]DayPoint, 0, len(byDay))
	for day, total := range byDay {
		out = append(out, DayPoint{Day: day, Total: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

// HourlySeries sums amounts per local hour of day. All 24 hours are present.
func HourlySeries(acts []model.Activity, loc *time.Location) []HourPoint {
	out := make([]HourPoint, 24)
	for h := range out {
		out[h].Hour = h
	}
	for _, a := range acts {
		out[a.CreatedAt.In(loc).Hour()].Total += a.Amount
	}
	return out
}

// RankTop groups acts by key, orders by total descending, then by earliest
// activity ascending, then by key, and returns at most n groups.
func RankTop(acts []model.Activity, key func(model.Activity) string, n int) []Ranked {
	groups := make(map[string]*Ranked)
	for _, a := range acts {
		k := key(a)
		g, ok := groups[k]
		if !ok {
			g = &Ranked{Key: k, FirstAt: a.CreatedAt}
			groups[k] = g
		}
		g.Total += a.Amount
		if a.CreatedAt.Before(g.FirstAt) {
			g.FirstAt = a.CreatedAt
		}
	}
	out := make([]Ranked, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		if !out[i].FirstAt.Equal(out[j].FirstAt) {
			return out[i].FirstAt.Before(out[j].FirstAt)
		}
		return out[i].Key < out[j].Key
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// ByUser and ByBooth are ranking keys.
func ByUser(a model.Activity) string  { return a.UserID }
func ByBooth(a model.Activity) string { return a.BoothID }

// CategoryTotals attributes every activity's amount across its booth's
// weight rows. Every category of d is present.
func CategoryTotals(d *scoring.Distributor, acts []model.Activity, weights map[string][]model.CategoryWeight) map[string]float64 {
	totals := d.Zero()
	for _, a := range acts {
		d.Accumulate(totals, a.Amount, weights[a.BoothID])
	}
	return totals
}

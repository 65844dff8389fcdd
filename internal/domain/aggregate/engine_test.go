package aggregate_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/timebank/internal/adapters/repository"
	"github.com/okian/timebank/internal/domain/aggregate"
	"github.com/okian/timebank/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// countingSource counts bulk reads and can be made to fail or block.
type countingSource struct {
	*repository.MemoryStore
	loads   int32
	fail    error
	release chan struct{}
}

func (c *countingSource) ActivitiesSince(ctx context.Context, since time.Time) ([]model.Activity, error) {
	atomic.AddInt32(&c.loads, 1)
	if c.release != nil {
		<-c.release
	}
	if c.fail != nil {
		return nil, c.fail
	}
	return c.MemoryStore.ActivitiesSince(ctx, since)
}

func seededStore() *repository.MemoryStore {
	s := repository.NewMemoryStore(
		repository.WithBooths(
			model.Booth{ID: "b1", Name: "Recycling", Kind: model.KindEarn, Amount: 10, IsActive: true},
			model.Booth{ID: "b2", Kind: model.KindRedeem, Amount: 4, IsActive: true},
		),
		repository.WithCategoryWeights(
			model.CategoryWeight{BoothID: "b1", CategoryCode: "environment", Weight: 1},
			model.CategoryWeight{BoothID: "b1", CategoryCode: "social", Weight: 2},
		),
		repository.WithProfiles(model.Profile{ID: "u1", DisplayName: "Kim"}),
	)
	ctx := context.Background()
	for _, a := range []model.Activity{
		act("a1", "u1", "b1", model.KindEarn, 10, at(18, 10, 0)),
		act("a2", "u2", "b1", model.KindEarn, 10, at(18, 11, 0)),
		act("a3", "u1", "b2", model.KindRedeem, 4, at(19, 9, 0)),
		act("a4", "u1", "b1", model.KindEarn, 10, at(19, 15, 0)),
	} {
		if err := s.InsertActivity(ctx, a); err != nil {
			panic(err)
		}
	}
	return s
}

func TestEngineBuild(t *testing.T) {
	Convey("Given an engine over a seeded store", t, func() {
		ctx := context.Background()
		e := aggregate.NewEngine(seededStore(), aggregate.WithWindows(windows))

		Convey("The all-time summary covers every field", func() {
			s, err := e.Summarize(ctx, aggregate.RangeAll, false)
			So(err, ShouldBeNil)
			So(s.TotalSum, ShouldEqual, int64(34))
			So(s.ByKind, ShouldResemble, aggregate.KindTotals{Earn: 30, Redeem: 4})
			So(len(s.TimeSeries), ShouldEqual, 2)
			So(len(s.HourlySeries), ShouldEqual, 24)
			So(s.TopUsersOverall, ShouldResemble, []aggregate.RankEntry{
				{ID: "u1", Name: "Kim", Total: 24},
				{ID: "u2", Name: "u2", Total: 10},
			})
			So(s.TopUsersRedeem, ShouldResemble, []aggregate.RankEntry{{ID: "u1", Name: "Kim", Total: 4}})
			So(s.TopBoothsEarn, ShouldResemble, []aggregate.RankEntry{{ID: "b1", Name: "Recycling", Total: 30}})
			So(s.TopBoothsRedeem, ShouldResemble, []aggregate.RankEntry{{ID: "b2", Name: "b2", Total: 4}})
			So(s.CategoryTotals, ShouldResemble, []aggregate.CategoryTotal{
				{Category: "environment", Total: 30},
				{Category: "social", Total: 60},
				{Category: "economic", Total: 0},
				{Category: "mental", Total: 0},
			})
			So(s.Cache, ShouldBeNil)
		})

		Convey("Day ranges split on the configured boundary", func() {
			d1, err := e.Summarize(ctx, aggregate.RangeDay1, false)
			So(err, ShouldBeNil)
			So(d1.TotalSum, ShouldEqual, int64(20))
			d2, err := e.Summarize(ctx, aggregate.RangeDay2, false)
			So(err, ShouldBeNil)
			So(d2.TotalSum, ShouldEqual, int64(14))
			So(d2.TopUsersEarn, ShouldResemble, []aggregate.RankEntry{{ID: "u1", Name: "Kim", Total: 10}})
		})
	})
}

func TestEngineCache(t *testing.T) {
	Convey("Given an engine with a 30s cache", t, func() {
		ctx := context.Background()
		src := &countingSource{MemoryStore: seededStore()}
		now := at(20, 12, 0)
		e := aggregate.NewEngine(src,
			aggregate.WithWindows(windows),
			aggregate.WithCache(aggregate.NewCache(8, 30*time.Second)),
			aggregate.WithClock(func() time.Time { return now }),
		)

		first, err := e.Summarize(ctx, aggregate.RangeAll, false)
		So(err, ShouldBeNil)
		So(first.Cache, ShouldBeNil)

		Convey("A repeat request is served from cache with metadata", func() {
			again, err := e.Summarize(ctx, aggregate.RangeAll, false)
			So(err, ShouldBeNil)
			So(atomic.LoadInt32(&src.loads), ShouldEqual, int32(1))
			So(again.Cache, ShouldNotBeNil)
			So(again.Cache.TTL, ShouldEqual, 30)
			So(again.Cache.CachedAt, ShouldEqual, now)
			So(again.TotalSum, ShouldEqual, first.TotalSum)
		})

		Convey("Ranges are cached independently", func() {
			_, err := e.Summarize(ctx, aggregate.RangeDay1, false)
			So(err, ShouldBeNil)
			So(atomic.LoadInt32(&src.loads), ShouldEqual, int32(2))
		})

		Convey("A forced refresh bypasses and repopulates the cache", func() {
			So(src.InsertActivity(ctx, act("a5", "u3", "b1", model.KindEarn, 10, at(19, 16, 0))), ShouldBeNil)

			fresh, err := e.Summarize(ctx, aggregate.RangeAll, true)
			So(err, ShouldBeNil)
			So(fresh.Cache, ShouldBeNil)
			So(fresh.TotalSum, ShouldEqual, int64(44))

			cached, _ := e.Summarize(ctx, aggregate.RangeAll, false)
			So(cached.TotalSum, ShouldEqual, int64(44))
			So(atomic.LoadInt32(&src.loads), ShouldEqual, int32(2))
		})

		Convey("Invalidate drops cached entries", func() {
			e.Invalidate()
			_, _ = e.Summarize(ctx, aggregate.RangeAll, false)
			So(atomic.LoadInt32(&src.loads), ShouldEqual, int32(2))
		})
	})
}

func TestEngineSingleflight(t *testing.T) {
	Convey("Given concurrent cache misses for one range", t, func() {
		ctx := context.Background()
		src := &countingSource{MemoryStore: seededStore(), release: make(chan struct{})}
		e := aggregate.NewEngine(src, aggregate.WithWindows(windows), aggregate.WithCache(aggregate.NewCache(8, time.Minute)))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = e.Summarize(ctx, aggregate.RangeAll, false)
			}()
		}
		// Let every caller join the in-flight build before it completes.
		time.Sleep(50 * time.Millisecond)
		close(src.release)
		wg.Wait()

		So(atomic.LoadInt32(&src.loads), ShouldEqual, int32(1))
	})
}

// gatedSource holds only the first activity load until gate is closed.
type gatedSource struct {
	*repository.MemoryStore
	loads atomic.Int32
	gate  chan struct{}
}

func (g *gatedSource) ActivitiesSince(ctx context.Context, since time.Time) ([]model.Activity, error) {
	if g.loads.Add(1) == 1 {
		<-g.gate
	}
	return g.MemoryStore.ActivitiesSince(ctx, since)
}

func TestEngineRefreshWinsOverSlowerBuild(t *testing.T) {
	Convey("Given a slow cached build overtaken by a forced refresh", t, func() {
		ctx := context.Background()
		src := &gatedSource{MemoryStore: seededStore(), gate: make(chan struct{})}
		var tick atomic.Int64
		base := time.Date(2025, 10, 18, 0, 0, 0, 0, time.UTC)
		clock := func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Second) }
		e := aggregate.NewEngine(src,
			aggregate.WithWindows(windows),
			aggregate.WithClock(clock),
			aggregate.WithCache(aggregate.NewCache(8, time.Minute)),
		)

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = e.Summarize(ctx, aggregate.RangeAll, false)
		}()
		for src.loads.Load() == 0 {
			time.Sleep(time.Millisecond)
		}

		fresh, err := e.Summarize(ctx, aggregate.RangeAll, true)
		So(err, ShouldBeNil)
		close(src.gate)
		<-done

		Convey("Then the cache keeps the refreshed summary", func() {
			cached, err := e.Summarize(ctx, aggregate.RangeAll, false)
			So(err, ShouldBeNil)
			So(cached.Cache, ShouldNotBeNil)
			So(cached.GeneratedAt, ShouldEqual, fresh.GeneratedAt)
		})
	})
}

func TestEngineErrors(t *testing.T) {
	Convey("Given a failing source", t, func() {
		boom := errors.New("boom")
		src := &countingSource{MemoryStore: seededStore(), fail: boom}
		e := aggregate.NewEngine(src, aggregate.WithWindows(windows), aggregate.WithCache(aggregate.NewCache(8, time.Minute)))

		_, err := e.Summarize(context.Background(), aggregate.RangeAll, false)
		So(errors.Is(err, boom), ShouldBeTrue)

		Convey("Failures are not cached", func() {
			src.fail = nil
			s, err := e.Summarize(context.Background(), aggregate.RangeAll, false)
			So(err, ShouldBeNil)
			So(s.Cache, ShouldBeNil)
		})
	})
}

func TestUserSummary(t *testing.T) {
	Convey("Given a user with earn and redeem activity", t, func() {
		e := aggregate.NewEngine(seededStore(), aggregate.WithWindows(windows))
		s, err := e.UserSummary(context.Background(), "u1")
		So(err, ShouldBeNil)

		Convey("The latest two rows are listed newest first with booth names", func() {
			So(len(s.Recent), ShouldEqual, 2)
			So(s.Recent[0].ID, ShouldEqual, "a4")
			So(s.Recent[0].BoothName, ShouldEqual, "Recycling")
			So(s.Recent[1].BoothName, ShouldEqual, "b2")
		})

		Convey("Totals and categories cover every activity", func() {
			So(s.Total, ShouldEqual, int64(24))
			So(s.ByKind, ShouldResemble, aggregate.KindTotals{Earn: 20, Redeem: 4})
			So(s.ByCategory["environment"], ShouldEqual, 20.0)
			So(s.ByCategory["social"], ShouldEqual, 40.0)
			So(s.ByCategory["mental"], ShouldEqual, 0.0)
		})

		Convey("Unknown users get an empty summary", func() {
			empty, err := e.UserSummary(context.Background(), "nobody")
			So(err, ShouldBeNil)
			So(empty.Recent, ShouldBeEmpty)
			So(empty.Total, ShouldEqual, int64(0))
		})
	})
}

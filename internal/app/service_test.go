package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/timebank/internal/adapters/repository"
	service "github.com/okian/timebank/internal/app"
	"github.com/okian/timebank/internal/domain/aggregate"
	"github.com/okian/timebank/internal/domain/ingest"
	"github.com/okian/timebank/internal/domain/model"
	"github.com/okian/timebank/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

const seedYAML = `
booths:
  - id: booth-1
    code: abc123
    name: Recycling
    kind: earn
    amount: 10
    categories:
      environment: 2
      social: 1
  - id: booth-2
    code: cafe
    kind: redeem
    amount: 4
profiles:
  - id: u1
    display_name: Kim
`

type recordingPublisher struct {
	mu     sync.Mutex
	got    []model.Activity
	closed bool
}

func (p *recordingPublisher) Publish(_ context.Context, a model.Activity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, a)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service that has not started", t, func() {
		svc := service.New()

		Convey("Operations report it is not started", func() {
			_, err := svc.Submit(context.Background(), ingest.Request{UserID: "u1", Target: model.ByBoothID("x")})
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.Summarize(context.Background(), aggregate.RangeAll, false)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(errors.Is(svc.Ready(context.Background()), service.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("Start is idempotent and Stop runs closers once", func() {
			closed := 0
			svc := service.New(service.WithCloser(func() { closed++ }))
			So(svc.Start(context.Background()), ShouldBeNil)
			So(svc.Start(context.Background()), ShouldBeNil)
			So(svc.Ready(context.Background()), ShouldBeNil)
			svc.Stop()
			svc.Stop()
			So(closed, ShouldEqual, 1)
		})
	})
}

func TestService_EndToEnd(t *testing.T) {
	Convey("Given a started service over a seeded memory store", t, func() {
		seed, err := repository.ParseSeed([]byte(seedYAML))
		So(err, ShouldBeNil)
		pub := &recordingPublisher{}
		svc := service.New(
			service.WithSeed(seed),
			service.WithPublisher(pub),
			service.WithSummaryCache(4, time.Minute),
		)
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		res, err := svc.Submit(ctx, ingest.Request{UserID: "u1", Target: model.ByBoothCode("abc123"), ClientEventID: "e1"})
		So(err, ShouldBeNil)
		So(res.Accepted, ShouldBeTrue)
		_, err = svc.Submit(ctx, ingest.Request{UserID: "u2", Target: model.ByBoothID("booth-2"), ClientEventID: "e1"})
		So(err, ShouldBeNil)

		Convey("Recorded activities are published", func() {
			pub.mu.Lock()
			defer pub.mu.Unlock()
			So(pub.got, ShouldHaveLength, 2)
		})

		Convey("The summary reflects both scans", func() {
			s, err := svc.Summarize(ctx, aggregate.RangeAll, false)
			So(err, ShouldBeNil)
			So(s.TotalSum, ShouldEqual, int64(14))
			So(s.ByKind.Earn, ShouldEqual, int64(10))
			So(s.ByKind.Redeem, ShouldEqual, int64(4))
			So(s.TopUsersOverall[0].Name, ShouldEqual, "Kim")
			So(s.TopBoothsEarn[0].Name, ShouldEqual, "Recycling")
		})

		Convey("The user summary distributes by category weight", func() {
			u, err := svc.UserSummary(ctx, "u1")
			So(err, ShouldBeNil)
			So(u.Total, ShouldEqual, int64(10))
			So(u.ByCategory["environment"], ShouldEqual, float64(20))
			So(u.ByCategory["social"], ShouldEqual, float64(10))
		})

		Convey("Stats describe the memory store", func() {
			stats := svc.GetStats()
			So(stats["store"], ShouldEqual, "memory")
			So(stats["activities"], ShouldEqual, 2)
		})

		Convey("Stop closes the publisher", func() {
			svc.Stop()
			So(pub.closed, ShouldBeTrue)
		})
	})
}

package scanner_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/timebank/internal/adapters/http/api"
	"github.com/okian/timebank/internal/adapters/mq/queue"
	"github.com/okian/timebank/internal/adapters/mq/worker"
	"github.com/okian/timebank/internal/adapters/repository"
	service "github.com/okian/timebank/internal/app"
	"github.com/okian/timebank/internal/auth"
	"github.com/okian/timebank/internal/domain/model"
	"github.com/okian/timebank/internal/domain/resolver"
	"github.com/okian/timebank/internal/scanner"
	. "github.com/smartystreets/goconvey/convey"
)

func TestClassify(t *testing.T) {
	Convey("Replies map to queue outcomes", t, func() {
		cases := []struct {
			resp scanner.Response
			want queue.Outcome
		}{
			{scanner.Response{Status: 200, OK: true}, queue.OutcomeAccepted},
			{scanner.Response{Status: 200, OK: true, Duplicated: true}, queue.OutcomeAccepted},
			{scanner.Response{Status: 500}, queue.OutcomeTransient},
			{scanner.Response{Status: 503}, queue.OutcomeTransient},
			{scanner.Response{Status: 429}, queue.OutcomeTransient},
			{scanner.Response{Status: 401}, queue.OutcomeTransient},
			{scanner.Response{Status: 400}, queue.OutcomeRejected},
			{scanner.Response{Status: 403}, queue.OutcomeRejected},
			{scanner.Response{Status: 404}, queue.OutcomeRejected},
		}
		for _, c := range cases {
			So(scanner.Classify(c.resp), ShouldEqual, c.want)
		}
	})

	Convey("Only transport failures and server errors are queued", t, func() {
		So(scanner.ShouldQueue(scanner.Response{}, errors.New("dial tcp: refused")), ShouldBeTrue)
		So(scanner.ShouldQueue(scanner.Response{Status: 502}, nil), ShouldBeTrue)
		So(scanner.ShouldQueue(scanner.Response{Status: 429}, nil), ShouldBeFalse)
		So(scanner.ShouldQueue(scanner.Response{Status: 404}, nil), ShouldBeFalse)
		So(scanner.ShouldQueue(scanner.Response{Status: 400}, scanner.ErrBadResponse), ShouldBeFalse)
	})
}

func TestQueuedItemsSurviveRefusals(t *testing.T) {
	Convey("Given queued scans the server refuses", t, func() {
		ctx := context.Background()
		var n atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if n.Add(1)%2 == 1 {
				w.WriteHeader(http.StatusNotFound)
			} else {
				w.WriteHeader(http.StatusForbidden)
			}
			_, _ = w.Write([]byte(`{"ok":false,"error":"booth not found"}`))
		}))
		defer srv.Close()

		q := queue.New(scanner.NewClient(srv.URL, "tok"))
		_, err := q.Enqueue(ctx, queue.Item{Code: "c1"})
		So(err, ShouldBeNil)
		_, err = q.Enqueue(ctx, queue.Item{BoothID: "b2"})
		So(err, ShouldBeNil)

		res, err := q.Flush(ctx)

		Convey("Both stay pending after a flush", func() {
			So(err, ShouldBeNil)
			So(res, ShouldResemble, queue.FlushResult{Rejected: 2, Remaining: 2})
			pending, err := q.Len(ctx)
			So(err, ShouldBeNil)
			So(pending, ShouldEqual, 2)
			So(n.Load(), ShouldEqual, int32(2))
		})
	})
}

func TestIdentity(t *testing.T) {
	Convey("Given identity settings", t, func() {
		Convey("A ready token is used as is", func() {
			tok, err := scanner.Identity{Token: " abc "}.BearerToken()
			So(err, ShouldBeNil)
			So(tok, ShouldEqual, "abc")
		})

		Convey("A secret mints a scan token for the subject", func() {
			cfg := auth.Config{Secret: "s3cret", Issuer: "timebank"}
			tok, err := scanner.Identity{Secret: cfg.Secret, Issuer: cfg.Issuer, Subject: "u1"}.BearerToken()
			So(err, ShouldBeNil)
			claims, err := auth.Parse(tok, cfg)
			So(err, ShouldBeNil)
			So(claims.Subject, ShouldEqual, "u1")
			So(claims.HasScope(auth.ScopeScan), ShouldBeTrue)
		})

		Convey("Nothing to authenticate with is an error", func() {
			_, err := scanner.Identity{Secret: "s3cret"}.BearerToken()
			So(errors.Is(err, scanner.ErrNoToken), ShouldBeTrue)
		})
	})
}

// stubServer answers /api/scan with a configurable status and counts calls.
type stubServer struct {
	status atomic.Int32
	calls  atomic.Int32
	body   atomic.Value
}

func (s *stubServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/healthz" {
		w.WriteHeader(int(s.status.Load()))
		return
	}
	s.calls.Add(1)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(int(s.status.Load()))
	_, _ = w.Write([]byte(s.body.Load().(string)))
}

func newStub(status int, body string) (*stubServer, *httptest.Server) {
	s := &stubServer{}
	s.status.Store(int32(status))
	s.body.Store(body)
	return s, httptest.NewServer(s)
}

// syncBuffer is written by the scan loop and the scheduler goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newRunner(poster scanner.Poster, q *queue.Queue, out *syncBuffer, opts ...scanner.RunnerOption) (*scanner.Runner, *worker.Scheduler) {
	sched := worker.NewScheduler(q, worker.WithInterval(0))
	opts = append(opts, scanner.WithOutput(out))
	return scanner.NewRunner(poster, q, sched, opts...), sched
}

func TestHandleLine(t *testing.T) {
	Convey("Given a runner against a stub server", t, func() {
		ctx := context.Background()
		var out syncBuffer

		Convey("An accepted scan is recorded and nothing is queued", func() {
			_, srv := newStub(http.StatusOK, `{"ok":true,"duplicated":false,"activityId":"a1"}`)
			defer srv.Close()
			client := scanner.NewClient(srv.URL, "tok")
			q := queue.New(client)
			r, _ := newRunner(client, q, &out)

			status, err := r.HandleLine(ctx, "https://x.test/scan/abc123")
			So(err, ShouldBeNil)
			So(status, ShouldEqual, scanner.StatusRecorded)
			n, _ := q.Len(ctx)
			So(n, ShouldEqual, 0)
		})

		Convey("A duplicate reply is reported as such", func() {
			_, srv := newStub(http.StatusOK, `{"ok":true,"duplicated":true}`)
			defer srv.Close()
			client := scanner.NewClient(srv.URL, "tok")
			r, _ := newRunner(client, queue.New(client), &out)

			status, err := r.HandleLine(ctx, "booth-7")
			So(err, ShouldBeNil)
			So(status, ShouldEqual, scanner.StatusDuplicate)
		})

		Convey("Terminal failures are reported and not queued", func() {
			for _, code := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusTooManyRequests} {
				_, srv := newStub(code, `{"ok":false,"error":"nope"}`)
				client := scanner.NewClient(srv.URL, "tok")
				q := queue.New(client)
				r, _ := newRunner(client, q, &out)

				status, err := r.HandleLine(ctx, "abc123")
				So(status, ShouldEqual, scanner.StatusRejected)
				So(err, ShouldNotBeNil)
				n, _ := q.Len(ctx)
				So(n, ShouldEqual, 0)
				srv.Close()
			}
		})

		Convey("Server errors queue the scan with its client event id", func() {
			stub, srv := newStub(http.StatusServiceUnavailable, `{"ok":false,"error":"internal error"}`)
			defer srv.Close()
			client := scanner.NewClient(srv.URL, "tok")
			q := queue.New(client)
			r, _ := newRunner(client, q, &out, scanner.WithIDGenerator(func() string { return "cid-1" }))

			status, err := r.HandleLine(ctx, "abc123")
			So(err, ShouldBeNil)
			So(status, ShouldEqual, scanner.StatusQueued)
			items, _ := q.Items(ctx)
			So(items, ShouldHaveLength, 1)
			So(items[0].ClientEventID, ShouldEqual, "cid-1")
			So(items[0].Code, ShouldEqual, "abc123")

			Convey("And a flush after recovery delivers it", func() {
				stub.status.Store(http.StatusOK)
				stub.body.Store(`{"ok":true,"duplicated":false}`)
				res, err := q.Flush(ctx)
				So(err, ShouldBeNil)
				So(res.Succeeded, ShouldEqual, 1)
				So(res.Remaining, ShouldEqual, 0)
			})
		})

		Convey("An unreachable server queues the scan", func() {
			_, srv := newStub(http.StatusOK, `{}`)
			url := srv.URL
			srv.Close()
			client := scanner.NewClient(url, "tok", scanner.WithTimeout(time.Second))
			q := queue.New(client)
			r, _ := newRunner(client, q, &out)

			status, err := r.HandleLine(ctx, "booth-9")
			So(err, ShouldBeNil)
			So(status, ShouldEqual, scanner.StatusQueued)
			items, _ := q.Items(ctx)
			So(items[0].BoothID, ShouldEqual, "booth-9")
			So(client.Healthy(ctx), ShouldBeFalse)
		})

		Convey("Unrecognized input never reaches the server", func() {
			stub, srv := newStub(http.StatusOK, `{"ok":true}`)
			defer srv.Close()
			client := scanner.NewClient(srv.URL, "tok")
			r, _ := newRunner(client, queue.New(client), &out)

			status, err := r.HandleLine(ctx, "myapp://nothing-here")
			So(status, ShouldEqual, scanner.StatusUnrecognized)
			So(errors.Is(err, resolver.ErrUnrecognized), ShouldBeTrue)
			So(stub.calls.Load(), ShouldEqual, int32(0))
		})
	})
}

// lossyHandler processes requests but replaces the first n replies with 502,
// simulating a reply lost after the server committed the write.
type lossyHandler struct {
	next http.Handler
	drop atomic.Int32
}

func (h *lossyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/scan" && h.drop.Add(-1) >= 0 {
		h.next.ServeHTTP(httptest.NewRecorder(), r)
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	h.next.ServeHTTP(w, r)
}

func TestRunConvergesAfterLostReply(t *testing.T) {
	Convey("Given the real API behind a proxy that loses the first reply", t, func() {
		ctx := context.Background()
		cfg := auth.Config{Secret: "s3cret", Issuer: "timebank"}
		store := repository.NewMemoryStore(repository.WithBooths(
			model.Booth{ID: "booth-1", Code: "abc123", Kind: model.KindEarn, Amount: 10, IsActive: true},
		))
		svc := service.New(service.WithStore(store))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		mux := http.NewServeMux()
		api.NewServer(svc, svc, auth.NewMiddleware(cfg, nil)).Register(ctx, mux)
		lossy := &lossyHandler{next: mux}
		lossy.drop.Store(1)
		srv := httptest.NewServer(lossy)
		defer srv.Close()

		tok, err := scanner.Identity{Secret: cfg.Secret, Issuer: cfg.Issuer, Subject: "u1"}.BearerToken()
		So(err, ShouldBeNil)
		client := scanner.NewClient(srv.URL, tok)
		q := queue.New(client)
		var out syncBuffer
		r, _ := newRunner(client, q, &out)

		Convey("Running the input ends with exactly one recorded activity", func() {
			So(r.Run(ctx, strings.NewReader("abc123\n\n")), ShouldBeNil)
			So(store.Len(), ShouldEqual, 1)
			n, _ := q.Len(ctx)
			So(n, ShouldEqual, 0)
			So(out.String(), ShouldContainSubstring, "queued")
		})
	})
}

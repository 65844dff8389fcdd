package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okian/timebank/internal/auth"
	"github.com/okian/timebank/internal/config"
	"github.com/okian/timebank/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

const seedYAML = `
booths:
  - id: booth-1
    code: abc123
    kind: earn
    amount: 10
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := config.New()
	cfg.SeedFile = path
	cfg.JWTSecret = "test-secret"
	return cfg
}

func TestConfigFromEnv(t *testing.T) {
	convey.Convey("Given environment overrides", t, func() {
		t.Setenv("TIMEBANK_ADDR", ":8080")
		t.Setenv("TIMEBANK_DUPLICATE_WINDOW_SEC", "5")

		convey.Convey("Then configuration should be loadable", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.DuplicateWindow(), convey.ShouldEqual, 5*time.Second)
		})
	})
}

func TestBuildServiceAndHandler(t *testing.T) {
	convey.Convey("Given a memory-backed configuration with a seed file", t, func() {
		ctx := context.Background()
		cfg := testConfig(t)

		svc, err := buildService(ctx, cfg, logger.Nop())
		convey.So(err, convey.ShouldBeNil)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		h := newHandler(ctx, cfg, svc)
		tok, err := auth.Sign(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, "u1", nil, time.Minute)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("A seeded booth can be scanned", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/scan", strings.NewReader(`{"code":"abc123"}`))
			req.Header.Set("Authorization", "Bearer "+tok)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(svc.GetStats()["activities"], convey.ShouldEqual, 1)
		})

		convey.Convey("Operational routes do not need a token", func() {
			for _, p := range []string{"/healthz", "/metrics", "/stats", "/openapi.yaml"} {
				w := httptest.NewRecorder()
				h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, http.NoBody))
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			}
		})

		convey.Convey("The dashboard summary needs the admin scope", func() {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/admin/metrics", http.NoBody)
			req.Header.Set("Authorization", "Bearer "+tok)
			h.ServeHTTP(w, req)
			convey.So(w.Code, convey.ShouldEqual, http.StatusForbidden)
		})
	})
}

func TestBuildServiceErrors(t *testing.T) {
	convey.Convey("Given broken configurations", t, func() {
		ctx := context.Background()

		convey.Convey("A missing seed file fails", func() {
			cfg := testConfig(t)
			cfg.SeedFile = filepath.Join(t.TempDir(), "missing.yaml")
			_, err := buildService(ctx, cfg, logger.Nop())
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("An invalid reporting calendar fails", func() {
			cfg := testConfig(t)
			cfg.Day2Start = cfg.SupersetSince
			_, err := buildService(ctx, cfg, logger.Nop())
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("run refuses to start without a token secret", func() {
			cfg := testConfig(t)
			cfg.JWTSecret = ""
			convey.So(errors.Is(run(ctx, cfg), errMissingSecret), convey.ShouldBeTrue)
		})
	})
}

func TestSystemMetrics(t *testing.T) {
	convey.Convey("Given the system metrics updater", t, func() {
		convey.So(updateSystemMetrics, convey.ShouldNotPanic)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		convey.So(func() { startSystemMetricsUpdater(ctx) }, convey.ShouldNotPanic)
	})
}

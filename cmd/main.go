package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/okian/timebank/internal/adapters/http/api"
	"github.com/okian/timebank/internal/adapters/http/swagger"
	"github.com/okian/timebank/internal/adapters/mq/publisher"
	"github.com/okian/timebank/internal/adapters/repository"
	"github.com/okian/timebank/internal/adapters/repository/postgres"
	app "github.com/okian/timebank/internal/app"
	"github.com/okian/timebank/internal/auth"
	"github.com/okian/timebank/internal/config"
	"github.com/okian/timebank/internal/domain/aggregate"
	"github.com/okian/timebank/pkg/logger"
	"github.com/okian/timebank/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 15 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

var errMissingSecret = errors.New("jwt_secret is required")

func main() {
	// Default Go collectors stay off; system metrics are collected below.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "timebank exited", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := logger.InitWith(cfg.LogFormat, os.Stdout); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errMissingSecret
	}

	svc, err := buildService(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(ctx, cfg, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// buildService selects the store, the optional publisher and the reporting
// calendar from cfg. The returned service is not started.
func buildService(ctx context.Context, cfg *config.Config, log logger.Logger) (*app.Service, error) {
	rep, err := cfg.Reporting()
	if err != nil {
		return nil, err
	}

	var seed *repository.Seed
	if cfg.SeedFile != "" {
		if seed, err = repository.LoadSeedFile(cfg.SeedFile); err != nil {
			return nil, err
		}
	}

	opts := []app.Option{
		app.WithLogger(log),
		app.WithDuplicateWindow(cfg.DuplicateWindow()),
		app.WithSummaryCache(cfg.SummaryCacheSize, cfg.SummaryCacheTTL()),
		app.WithWindows(aggregate.Windows{
			Location:  rep.Location,
			Since:     rep.Since,
			Day1End:   rep.Day1End,
			Day2Start: rep.Day2Start,
		}),
		app.WithCategories(cfg.Categories),
		app.WithTopN(cfg.TopN),
		app.WithRecentLimit(cfg.RecentActivityLimit),
	}

	if cfg.DatabaseURL != "" {
		store, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		if seed != nil {
			if err := store.ApplySeed(ctx, seed); err != nil {
				store.Close()
				return nil, err
			}
		}
		log.Info(ctx, "using postgres store")
		opts = append(opts, app.WithStore(store), app.WithCloser(store.Close))
	} else {
		opts = append(opts, app.WithSeed(seed))
	}

	if len(cfg.KafkaBrokers) > 0 {
		log.Info(ctx, "publishing recorded activities",
			logger.Any("brokers", cfg.KafkaBrokers),
			logger.String("topic", cfg.KafkaTopic),
		)
		opts = append(opts, app.WithPublisher(publisher.New(cfg.KafkaBrokers, cfg.KafkaTopic)))
	}
	return app.New(opts...), nil
}

// newHandler registers docs and API routes.
func newHandler(ctx context.Context, cfg *config.Config, svc *app.Service) http.Handler {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)

	authn := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, nil)
	api.NewServer(svc, svc, authn, api.WithReadiness(svc.Ready)).Register(ctx, mux)
	return mux
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

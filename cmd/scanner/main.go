package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/timebank/internal/adapters/mq/queue"
	"github.com/okian/timebank/internal/adapters/mq/worker"
	"github.com/okian/timebank/internal/scanner"
	"github.com/okian/timebank/pkg/logger"
)

// Default configuration constants.
const (
	defaultURL       = "http://localhost:9080"
	defaultQueueFile = "timebank-queue.json"
	defaultTimeout   = 10 * time.Second
	defaultProbe     = 5 * time.Second
)

func main() {
	var (
		baseURL   = flag.String("url", defaultURL, "Base URL of the service")
		token     = flag.String("token", os.Getenv("TIMEBANK_TOKEN"), "Bearer token (default $TIMEBANK_TOKEN)")
		secret    = flag.String("secret", os.Getenv("TIMEBANK_JWT_SECRET"), "Signing secret used to mint a token when -token is empty")
		issuer    = flag.String("issuer", "timebank", "Issuer of minted tokens")
		user      = flag.String("user", "", "User id for minted tokens")
		queueFile = flag.String("queue", defaultQueueFile, "Offline queue file")
		interval  = flag.Duration("interval", worker.DefaultInterval, "Periodic flush interval (0 disables)")
		probe     = flag.Duration("probe", defaultProbe, "Connectivity probe interval")
		timeout   = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		logFormat = flag.String("log-format", logger.FormatText, "Log format: text or json")
		logLevel  = flag.String("log-level", "warn", "Log level")
	)
	flag.Parse()

	if err := logger.InitWith(*logFormat, os.Stderr); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(2)
	}
	_ = logger.SetLevelString(*logLevel)
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tok, err := scanner.Identity{Token: *token, Secret: *secret, Issuer: *issuer, Subject: *user}.BearerToken()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		flag.Usage()
		os.Exit(2)
	}

	client := scanner.NewClient(*baseURL, tok, scanner.WithTimeout(*timeout))
	q := queue.New(client,
		queue.WithStore(queue.NewFileStore(*queueFile)),
		queue.WithLogger(log),
	)
	sched := worker.NewScheduler(q,
		worker.WithName("scanner-flush"),
		worker.WithInterval(*interval),
		worker.WithLogger(log),
	)
	runner := scanner.NewRunner(client, q, sched,
		scanner.WithProbe(client.Healthy, *probe),
		scanner.WithOutput(os.Stdout),
		scanner.WithLogger(log),
	)

	if err := runner.Run(ctx, os.Stdin); err != nil {
		log.Error(ctx, "scanner stopped", logger.Error(err))
		os.Exit(1)
	}
}

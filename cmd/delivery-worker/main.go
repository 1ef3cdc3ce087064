// Package main is the entrypoint for the daymark delivery worker.
//
// The worker pulls greeting envelopes from the queue, loads the backing
// message record and user, renders content through the event-type strategy
// registry, and sends through the provider client behind the shared
// circuit breaker. Horizontal scale means running more copies of this
// binary; the conditional record updates keep concurrent workers safe.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"daymark/internal/config"
	"daymark/internal/db"
	"daymark/internal/delivery"
	"daymark/internal/external"
	"daymark/internal/greetings"
	"daymark/internal/queue"
	"daymark/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog satisfies Info, Error, and Warn directly but With returns
// *slog.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	typedLogger := &slogAdapter{logger: logger}
	logger.Info("delivery worker starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	var metrics delivery.Metrics = delivery.NoopMetrics{}
	if cfg.Telemetry.EnableMetrics {
		metrics = delivery.NewCloudWatchMetrics(cwClient, cfg.Telemetry.MetricNamespace, typedLogger)
	}

	provider := newProvider(cfg, typedLogger)

	publisher := queue.NewPublisher(sqsClient, cfg.AWS.GreetingQueueURL, cfg.AWS.DLQURL, logger)

	worker := delivery.NewWorker(delivery.WorkerConfig{
		Records:     db.NewMessageRepository(pool),
		Users:       db.NewUserRepository(pool),
		Registry:    greetings.Default(),
		Provider:    provider,
		Requeuer:    publisher,
		Metrics:     metrics,
		MaxRetries:  cfg.Jobs.MaxRetries,
		MaxRequeues: cfg.Delivery.MaxRequeues,
		Logger:      logger,
	})

	consumer := queue.NewConsumer(queue.ConsumerConfig{
		Client:   sqsClient,
		DLQ:      publisher,
		Handler:  worker,
		QueueURL: cfg.AWS.GreetingQueueURL,
		Prefetch: cfg.Delivery.Prefetch,
		ObserveLag: func(lag time.Duration) {
			metrics.RecordQueueLag(context.Background(), lag)
		},
		Logger: logger,
	})

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	err, abandoned := waitBounded(ctx, done, cfg.Server.ShutdownTimeout)
	if abandoned {
		// The in-flight batch did not settle in time; unacked messages
		// redeliver after their visibility timeout.
		logger.Error("shutdown timeout elapsed, abandoning in-flight messages",
			"timeout", cfg.Server.ShutdownTimeout.String(),
		)
		os.Exit(1)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("delivery worker exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("delivery worker stopped")
}

// waitBounded waits for the process's work to finish. Once ctx is
// cancelled the work gets at most timeout to wind down; past that the
// caller should abandon it rather than hang shutdown forever.
func waitBounded(ctx context.Context, done <-chan error, timeout time.Duration) (err error, abandoned bool) {
	select {
	case err := <-done:
		return err, false
	case <-ctx.Done():
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err, false
	case <-timer.C:
		return nil, true
	}
}

// newProvider selects the real HTTP provider or, when no API key is
// configured outside production, the logging stub.
func newProvider(cfg *config.Config, logger types.Logger) external.GreetingProvider {
	if cfg.Delivery.ProviderAPIKey.Unmask() == "" && cfg.Environment != "prod" {
		logger.Warn("PROVIDER_API_KEY not set, using stub greeting provider")
		return external.NewStubProvider(logger)
	}

	breaker := external.NewBreaker(external.BreakerSettings{
		Name:             "greeting-provider",
		FailureThreshold: cfg.Delivery.BreakerFailureThreshold,
		Cooldown:         cfg.Delivery.BreakerCooldown,
	})
	client := external.NewClient(
		&http.Client{Timeout: cfg.Delivery.ProviderTimeout},
		breaker,
		external.RetryPolicy{
			MaxAttempts: cfg.Delivery.SendAttempts,
			BaseDelay:   cfg.Delivery.SendBaseDelay,
			MaxDelay:    cfg.Delivery.SendMaxDelay,
		},
	)
	return external.NewHTTPProvider(external.HTTPProviderConfig{
		Client: client,
		URL:    cfg.Delivery.ProviderURL,
		APIKey: cfg.Delivery.ProviderAPIKey,
		Logger: logger,
	})
}

// newLogger builds the JSON process logger at the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("service", cfg.Service)
}

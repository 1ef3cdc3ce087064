// Package main is the entrypoint for the daymark scheduler service.
//
// The scheduler owns the time-driven half of the pipeline: the daily
// discovery scan, the per-minute admission tick, the recovery sweep, and
// terminal-record archival. It also serves the operational HTTP surface
// (health, job stats, manual triggers). The delivery worker is a separate
// binary; the two communicate only through the database and the queue.
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
	"golang.org/x/sync/errgroup"

	"daymark/internal/config"
	"daymark/internal/core"
	"daymark/internal/db"
	"daymark/internal/greetings"
	"daymark/internal/queue"
	"daymark/internal/scheduler"
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
	logger.Info("scheduler starting",
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

	messageRepo := db.NewMessageRepository(pool)
	userRepo := db.NewUserRepository(pool)
	publisher := queue.NewPublisher(sqsClient, cfg.AWS.GreetingQueueURL, cfg.AWS.DLQURL, logger)
	registry := greetings.Default()

	var jobMetrics scheduler.JobMetrics = scheduler.NoopJobMetrics{}
	if cfg.Telemetry.EnableMetrics {
		jobMetrics = scheduler.NewCloudWatchJobMetrics(cwClient, cfg.Telemetry.MetricNamespace, &slogAdapter{logger: logger})
	}

	// Wall-clock values were validated at config load.
	discoveryHour, discoveryMinute, _ := config.ParseWallClock(cfg.Jobs.DiscoveryRunAtUTC)
	deliveryHour, deliveryMinute, _ := config.ParseWallClock(cfg.Jobs.DeliveryLocalTime)

	orch := scheduler.NewOrchestrator(jobMetrics, logger)

	registrations := []struct {
		job      scheduler.Job
		schedule scheduler.Schedule
	}{
		{
			job: scheduler.NewDiscoveryJob(scheduler.DiscoveryConfig{
				Users:    userRepo,
				Records:  messageRepo,
				Registry: registry,
				Delivery: scheduler.WallClock{Hour: deliveryHour, Minute: deliveryMinute},
				PageSize: cfg.Jobs.DiscoveryUserPageSize,
				Logger:   logger,
			}),
			schedule: scheduler.Schedule{DailyAtUTC: &scheduler.WallClock{Hour: discoveryHour, Minute: discoveryMinute}},
		},
		{
			job: scheduler.NewAdmissionJob(scheduler.AdmissionConfig{
				Records:   messageRepo,
				Publisher: publisher,
				Lookahead: cfg.Jobs.AdmissionLookahead,
				BatchSize: cfg.Jobs.AdmissionBatchSize,
				Logger:    logger,
			}),
			schedule: scheduler.Schedule{Interval: cfg.Jobs.AdmissionInterval},
		},
		{
			job: scheduler.NewRecoveryJob(scheduler.RecoveryConfig{
				Records:    messageRepo,
				Publisher:  publisher,
				Grace:      cfg.Jobs.RecoveryGrace,
				MaxRetries: cfg.Jobs.MaxRetries,
				BatchSize:  cfg.Jobs.RecoveryBatchSize,
				Logger:     logger,
			}),
			schedule: scheduler.Schedule{Interval: cfg.Jobs.RecoveryInterval},
		},
	}

	if cfg.Archive.Enabled {
		registrations = append(registrations, struct {
			job      scheduler.Job
			schedule scheduler.Schedule
		}{
			job: scheduler.NewArchivalJob(scheduler.ArchivalConfig{
				Records:   messageRepo,
				Archiver:  scheduler.NewFileArchiver(cfg.Archive.Dir),
				Retention: cfg.Archive.Retention,
				BatchSize: cfg.Archive.BatchSize,
				Logger:    logger,
			}),
			schedule: scheduler.Schedule{Interval: 24 * time.Hour},
		})
	}

	for _, reg := range registrations {
		if err := orch.Register(reg.job, reg.schedule); err != nil {
			logger.Error("failed to register job", "error", err)
			os.Exit(1)
		}
	}

	opsServer := core.NewServer(core.ServerConfig{
		Runner:    orch,
		JobHealth: orch,
		Probes: []core.HealthProbe{
			&core.DatabaseProbe{Pool: pool},
			&core.QueueProbe{Client: sqsClient, QueueURL: cfg.AWS.GreetingQueueURL},
		},
		OpsKeyHash: cfg.Server.OpsAPIKeyHash,
		Logger:     logger,
	})

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: opsServer.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return orch.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("ops server listening", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	err, abandoned := waitBounded(ctx, done, cfg.Server.ShutdownTimeout)
	if abandoned {
		logger.Error("shutdown timeout elapsed, abandoning in-flight job runs",
			"timeout", cfg.Server.ShutdownTimeout.String(),
		)
		os.Exit(1)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler stopped")
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

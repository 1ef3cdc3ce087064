package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"daymark/internal/types"
)

// RecoveryStore is the record access the recovery job needs.
type RecoveryStore interface {
	// ListStalled returns non-terminal records scheduled before the cutoff.
	ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]*types.MessageRecord, error)

	// Requeue transitions the record from its current non-terminal status
	// back to QUEUED, if budget remains. Only a stalled QUEUED record is
	// charged an attempt; a released SCHEDULED record was already charged
	// by the delivery worker.
	Requeue(ctx context.Context, id string, from types.MessageStatus, maxRetries int) (bool, error)

	// MarkFailed forces the terminal FAILED state.
	MarkFailed(ctx context.Context, id string, lastError string) error
}

// RecoveryJob is the pipeline's sole source of second chances. Every run
// it finds records that should already have been delivered but were
// stranded by process downtime, broker outages, publish-after-admit
// inconsistencies, or delivery worker crashes, and either re-enters them
// into the admission flow or, once their retry budget is spent, marks
// them FAILED.
type RecoveryJob struct {
	records    RecoveryStore
	publisher  GreetingPublisher
	grace      time.Duration
	maxRetries int
	batchSize  int
	logger     *slog.Logger
}

// RecoveryConfig bundles the RecoveryJob constructor arguments.
type RecoveryConfig struct {
	Records    RecoveryStore
	Publisher  GreetingPublisher
	Grace      time.Duration
	MaxRetries int
	BatchSize  int
	Logger     *slog.Logger
}

// NewRecoveryJob creates the recovery job.
func NewRecoveryJob(cfg RecoveryConfig) *RecoveryJob {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	return &RecoveryJob{
		records:    cfg.Records,
		publisher:  cfg.Publisher,
		grace:      cfg.Grace,
		maxRetries: cfg.MaxRetries,
		batchSize:  batchSize,
		logger:     cfg.Logger,
	}
}

// Name implements Job.
func (j *RecoveryJob) Name() JobName { return JobRecovery }

// Run implements Job.
func (j *RecoveryJob) Run(ctx context.Context, now time.Time) (RunStats, error) {
	var stats RunStats

	cutoff := now.Add(-j.grace)
	stalled, err := j.records.ListStalled(ctx, cutoff, j.batchSize)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(stalled)

	for _, rec := range stalled {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if rec.RetryCount >= j.maxRetries {
			j.exhaust(ctx, rec, &stats)
			continue
		}

		applied, err := j.records.Requeue(ctx, rec.ID, rec.Status, j.maxRetries)
		if err != nil {
			stats.Errors++
			j.logger.ErrorContext(ctx, "failed to requeue stalled record",
				"record_id", rec.ID,
				"error", err,
			)
			continue
		}
		if !applied {
			// Lost the race: a concurrent run already claimed the record,
			// or the delivery worker settled it in the meantime.
			stats.Duplicates++
			continue
		}

		msg := types.GreetingMessage{
			RecordID:  rec.ID,
			UserID:    rec.UserID,
			EventType: rec.EventType,
			TraceID:   uuid.NewString(),
		}
		if err := j.publisher.Publish(ctx, msg); err != nil {
			// Still QUEUED; the next recovery run picks it up again.
			stats.Errors++
			j.logger.ErrorContext(ctx, "republish failed; will retry next run",
				"record_id", rec.ID,
				"trace_id", msg.TraceID,
				"error", err,
			)
			continue
		}

		stats.Recovered++
		j.logger.InfoContext(ctx, "stalled record recovered",
			"record_id", rec.ID,
			"retry_count", rec.RetryCount,
			"stalled_status", string(rec.Status),
			"trace_id", msg.TraceID,
		)
	}

	if stats.Scanned > 0 {
		// Recovery success rate: how many of the records found missed did
		// this run actually put back in flight.
		rate := float64(stats.Recovered) / float64(stats.Scanned)
		j.logger.InfoContext(ctx, "recovery run complete",
			"found_missed", stats.Scanned,
			"recovered", stats.Recovered,
			"exhausted", stats.Exhausted,
			"errors", stats.Errors,
			"success_rate", fmt.Sprintf("%.2f", rate),
		)
	}

	return stats, nil
}

// exhaust retires a record whose retry budget is spent.
func (j *RecoveryJob) exhaust(ctx context.Context, rec *types.MessageRecord, stats *RunStats) {
	lastError := fmt.Sprintf("retry budget exhausted after %d attempts", rec.RetryCount)
	if rec.LastError != "" {
		lastError = fmt.Sprintf("%s; last: %s", lastError, rec.LastError)
	}

	if err := j.records.MarkFailed(ctx, rec.ID, lastError); err != nil {
		stats.Errors++
		j.logger.ErrorContext(ctx, "failed to mark exhausted record",
			"record_id", rec.ID,
			"error", err,
		)
		return
	}

	stats.Exhausted++
	j.logger.ErrorContext(ctx, "record permanently failed",
		"record_id", rec.ID,
		"user_id", rec.UserID,
		"event_type", string(rec.EventType),
		"retry_count", rec.RetryCount,
	)
}

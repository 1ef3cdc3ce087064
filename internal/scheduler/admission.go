package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"daymark/internal/types"
)

// AdmissionStore is the record access the admission job needs.
type AdmissionStore interface {
	// ListDue returns SCHEDULED records due within [now, now+lookahead].
	ListDue(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]*types.MessageRecord, error)

	// Admit performs the conditional SCHEDULED -> QUEUED transition.
	Admit(ctx context.Context, id string) (bool, error)
}

// GreetingPublisher publishes a greeting envelope to the durable queue.
type GreetingPublisher interface {
	Publish(ctx context.Context, msg types.GreetingMessage) error
}

// AdmissionJob runs every minute: it claims records due within the
// lookahead window via a conditional status update and publishes their
// envelopes to the queue.
//
// Ordering is update-then-publish. A crash or publish failure between the
// two leaves a QUEUED record that never reached the broker; that window is
// deliberately tolerated because the recovery job re-admits any QUEUED
// record older than the grace period. The grace period must therefore stay
// longer than this job's cadence.
type AdmissionJob struct {
	records   AdmissionStore
	publisher GreetingPublisher
	lookahead time.Duration
	batchSize int
	logger    *slog.Logger
}

// AdmissionConfig bundles the AdmissionJob constructor arguments.
type AdmissionConfig struct {
	Records   AdmissionStore
	Publisher GreetingPublisher
	Lookahead time.Duration
	BatchSize int
	Logger    *slog.Logger
}

// NewAdmissionJob creates the minute-cadence admission job.
func NewAdmissionJob(cfg AdmissionConfig) *AdmissionJob {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	return &AdmissionJob{
		records:   cfg.Records,
		publisher: cfg.Publisher,
		lookahead: cfg.Lookahead,
		batchSize: batchSize,
		logger:    cfg.Logger,
	}
}

// Name implements Job.
func (j *AdmissionJob) Name() JobName { return JobAdmission }

// Run implements Job. This job executes every minute, so it must stay
// fast: one range query plus one conditional update and publish per due
// record. Failures are non-fatal; the next tick or the recovery job
// retries.
func (j *AdmissionJob) Run(ctx context.Context, now time.Time) (RunStats, error) {
	var stats RunStats

	due, err := j.records.ListDue(ctx, now, j.lookahead, j.batchSize)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(due)

	for _, rec := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		applied, err := j.records.Admit(ctx, rec.ID)
		if err != nil {
			stats.Errors++
			j.logger.ErrorContext(ctx, "failed to admit record",
				"record_id", rec.ID,
				"error", err,
			)
			continue
		}
		if !applied {
			// A concurrent admission or recovery run claimed it first.
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
			// The record is QUEUED but the envelope never reached the
			// broker. Recovery re-admits it once it passes the grace
			// period; nothing to undo here.
			stats.Errors++
			j.logger.ErrorContext(ctx, "publish failed after admit; recovery will re-admit",
				"record_id", rec.ID,
				"trace_id", msg.TraceID,
				"error", err,
			)
			continue
		}

		stats.Admitted++
	}

	if stats.Admitted > 0 || stats.Errors > 0 {
		j.logger.InfoContext(ctx, "admission run complete",
			"due", stats.Scanned,
			"admitted", stats.Admitted,
			"lost_races", stats.Duplicates,
			"errors", stats.Errors,
		)
	}

	return stats, nil
}

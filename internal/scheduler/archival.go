package scheduler

import (
	"context"
	"log/slog"
	"time"

	"daymark/internal/types"
)

// ArchivalStore is the record access the archival job needs.
type ArchivalStore interface {
	// ListTerminalBefore returns SENT/FAILED records last updated before the
	// cutoff.
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.MessageRecord, error)

	// DeleteByIDs removes records from the live table.
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// Archiver durably exports a batch of terminal records before they are
// deleted from the live table.
type Archiver interface {
	Archive(ctx context.Context, records []*types.MessageRecord) error
}

// ArchivalJob keeps the live message_records table bounded: terminal
// records past the retention window are exported to compressed archives
// and then deleted. Export strictly precedes deletion; if the export
// fails the batch stays in the table and the next run retries it.
type ArchivalJob struct {
	records   ArchivalStore
	archiver  Archiver
	retention time.Duration
	batchSize int
	logger    *slog.Logger
}

// ArchivalConfig bundles the ArchivalJob constructor arguments.
type ArchivalConfig struct {
	Records   ArchivalStore
	Archiver  Archiver
	Retention time.Duration
	BatchSize int
	Logger    *slog.Logger
}

// NewArchivalJob creates the archival job.
func NewArchivalJob(cfg ArchivalConfig) *ArchivalJob {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &ArchivalJob{
		records:   cfg.Records,
		archiver:  cfg.Archiver,
		retention: cfg.Retention,
		batchSize: batchSize,
		logger:    cfg.Logger,
	}
}

// Name implements Job.
func (j *ArchivalJob) Name() JobName { return JobArchival }

// Run implements Job. Batches are drained until the retention window is
// clear or the context is cancelled.
func (j *ArchivalJob) Run(ctx context.Context, now time.Time) (RunStats, error) {
	var stats RunStats

	cutoff := now.Add(-j.retention)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		batch, err := j.records.ListTerminalBefore(ctx, cutoff, j.batchSize)
		if err != nil {
			return stats, err
		}
		if len(batch) == 0 {
			break
		}
		stats.Scanned += len(batch)

		if err := j.archiver.Archive(ctx, batch); err != nil {
			stats.Errors++
			j.logger.ErrorContext(ctx, "archive export failed; batch retained",
				"batch_size", len(batch),
				"error", err,
			)
			return stats, err
		}

		ids := make([]string, len(batch))
		for i, rec := range batch {
			ids[i] = rec.ID
		}
		deleted, err := j.records.DeleteByIDs(ctx, ids)
		if err != nil {
			// Exported but not deleted: the next run re-exports the same
			// records, which is wasteful but safe.
			stats.Errors++
			j.logger.ErrorContext(ctx, "failed to delete archived records",
				"batch_size", len(batch),
				"error", err,
			)
			return stats, err
		}
		stats.Archived += int(deleted)

		if len(batch) < j.batchSize {
			break
		}
	}

	if stats.Archived > 0 {
		j.logger.InfoContext(ctx, "archival run complete",
			"archived", stats.Archived,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}

	return stats, nil
}

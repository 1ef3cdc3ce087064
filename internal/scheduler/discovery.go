package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"daymark/internal/greetings"
	"daymark/internal/types"
)

// UserSource lists active users for the discovery scan.
type UserSource interface {
	// ListActive returns a page of active, non-deleted users ordered by id,
	// starting after afterID.
	ListActive(ctx context.Context, afterID string, limit int) ([]*types.User, error)
}

// RecordCreator performs the idempotent insert of a delivery intent.
type RecordCreator interface {
	// InsertIfAbsent inserts the record unless one already exists for its
	// idempotency key. Returns whether a new record was created.
	InsertIfAbsent(ctx context.Context, rec *types.MessageRecord) (bool, error)
}

// DiscoveryJob scans all active users once per UTC day, determines for whom
// "today" is an event day in their own timezone, and creates SCHEDULED
// message records for the configured local delivery time.
//
// The calendar question is answered in the user's zone, never in UTC: a
// user in Pacific/Kiritimati (UTC+14) enters their birthday almost a full
// day before a user in Etc/GMT+12 sharing the same calendar date. The scan
// therefore matches users whose local date is the event date right now;
// running the job daily covers every zone because each local date overlaps
// every UTC date.
type DiscoveryJob struct {
	users    UserSource
	records  RecordCreator
	registry *greetings.Registry
	// delivery is the local wall-clock send time (09:00 by default).
	delivery WallClock
	pageSize int
	logger   *slog.Logger
}

// DiscoveryConfig bundles the DiscoveryJob constructor arguments.
type DiscoveryConfig struct {
	Users    UserSource
	Records  RecordCreator
	Registry *greetings.Registry
	Delivery WallClock
	PageSize int
	Logger   *slog.Logger
}

// NewDiscoveryJob creates the daily discovery job.
func NewDiscoveryJob(cfg DiscoveryConfig) *DiscoveryJob {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &DiscoveryJob{
		users:    cfg.Users,
		records:  cfg.Records,
		registry: cfg.Registry,
		delivery: cfg.Delivery,
		pageSize: pageSize,
		logger:   cfg.Logger,
	}
}

// Name implements Job.
func (j *DiscoveryJob) Name() JobName { return JobDiscovery }

// Run implements Job. A single user's failure (most commonly an invalid
// timezone) is isolated and counted; it never aborts the batch.
func (j *DiscoveryJob) Run(ctx context.Context, now time.Time) (RunStats, error) {
	var stats RunStats

	afterID := ""
	for {
		users, err := j.users.ListActive(ctx, afterID, j.pageSize)
		if err != nil {
			return stats, err
		}
		if len(users) == 0 {
			break
		}

		for _, user := range users {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.Scanned++
			j.scanUser(ctx, user, now, &stats)
		}

		afterID = users[len(users)-1].ID
		if len(users) < j.pageSize {
			break
		}
	}

	j.logger.InfoContext(ctx, "discovery run complete",
		"scanned", stats.Scanned,
		"created", stats.Created,
		"duplicates", stats.Duplicates,
		"errors", stats.Errors,
	)

	return stats, nil
}

// scanUser evaluates every registered event type for one user.
func (j *DiscoveryJob) scanUser(ctx context.Context, user *types.User, now time.Time, stats *RunStats) {
	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		stats.Errors++
		j.logger.WarnContext(ctx, "skipping user with invalid timezone",
			"user_id", user.ID,
			"timezone", user.Timezone,
			"error", err,
		)
		return
	}

	localNow := now.In(loc)
	year, month, day := localNow.Date()

	for _, event := range user.Events() {
		if _, err := j.registry.Resolve(event); err != nil {
			// No strategy can render this event; creating a record for it
			// would only feed the DLQ.
			continue
		}

		anchor, ok := user.EventDate(event)
		if !ok {
			continue
		}
		if !occursOn(anchor, year, month, day) {
			continue
		}

		scheduledAt := time.Date(year, month, day, j.delivery.Hour, j.delivery.Minute, 0, 0, loc).UTC()

		rec := &types.MessageRecord{
			ID:             uuid.NewString(),
			UserID:         user.ID,
			EventType:      event,
			IdempotencyKey: types.IdempotencyKey(user.ID, event, year),
			ScheduledAtUTC: scheduledAt,
			Status:         types.StatusScheduled,
		}

		created, err := j.records.InsertIfAbsent(ctx, rec)
		if err != nil {
			stats.Errors++
			j.logger.ErrorContext(ctx, "failed to create message record",
				"user_id", user.ID,
				"event_type", string(event),
				"error", err,
			)
			continue
		}
		if !created {
			stats.Duplicates++
			continue
		}

		stats.Created++
		j.logger.InfoContext(ctx, "message record created",
			"record_id", rec.ID,
			"user_id", user.ID,
			"event_type", string(event),
			"scheduled_at_utc", scheduledAt.Format(time.RFC3339),
		)
	}
}

// occursOn reports whether an event anchored at anchor falls on the given
// local calendar date. February 29 events are observed on March 1 in
// non-leap years.
func occursOn(anchor time.Time, year int, month time.Month, day int) bool {
	am, ad := anchor.Month(), anchor.Day()
	if am == time.February && ad == 29 && !isLeapYear(year) {
		return month == time.March && day == 1
	}
	return am == month && ad == day
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

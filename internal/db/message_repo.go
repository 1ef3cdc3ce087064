package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"daymark/internal/types"
)

// MessageRepository provides data access for the message_records table: the
// durable delivery-intent state machine. Every mutation is a conditional
// update guarded by the current status, so concurrent admission, recovery,
// and delivery runs against the same record resolve to exactly one winner;
// the losers observe applied=false and treat it as a no-op.
type MessageRepository struct {
	db DBTX
}

// NewMessageRepository creates a new MessageRepository backed by the given
// database connection (pool or transaction).
func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

// InsertIfAbsent performs the idempotent insert used by discovery:
// INSERT ... ON CONFLICT (idempotency_key) DO NOTHING. Returns whether a
// new record was created. Repeated discovery runs and concurrent
// invocations for the same (user, event, year) collapse to one record.
func (r *MessageRepository) InsertIfAbsent(ctx context.Context, rec *types.MessageRecord) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO message_records
		 (id, user_id, event_type, idempotency_key, scheduled_at_utc, status,
		  retry_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, NOW(), NOW())
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		rec.ID,
		rec.UserID,
		string(rec.EventType),
		rec.IdempotencyKey,
		rec.ScheduledAtUTC,
		string(types.StatusScheduled),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert message record", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID loads a single message record.
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*types.MessageRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, user_id, event_type, idempotency_key, scheduled_at_utc,
		        status, retry_count, last_error, created_at, updated_at
		 FROM message_records
		 WHERE id = $1`,
		id,
	)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundRecord, "message record not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get message record", err)
	}
	return rec, nil
}

// ListDue returns SCHEDULED records whose scheduled_at_utc falls within
// [now, now+lookahead], ordered ascending. The admission job queues these.
func (r *MessageRepository) ListDue(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]*types.MessageRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, event_type, idempotency_key, scheduled_at_utc,
		        status, retry_count, last_error, created_at, updated_at
		 FROM message_records
		 WHERE status = $1 AND scheduled_at_utc >= $2 AND scheduled_at_utc <= $3
		 ORDER BY scheduled_at_utc
		 LIMIT $4`,
		string(types.StatusScheduled), now, now.Add(lookahead), limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list due records", err)
	}
	return collectRecords(rows)
}

// ListStalled returns non-terminal records whose scheduled_at_utc is older
// than the cutoff: delivery should already have happened. The recovery job
// gives these their second chances.
func (r *MessageRepository) ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]*types.MessageRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, event_type, idempotency_key, scheduled_at_utc,
		        status, retry_count, last_error, created_at, updated_at
		 FROM message_records
		 WHERE status IN ($1, $2) AND scheduled_at_utc < $3
		 ORDER BY scheduled_at_utc
		 LIMIT $4`,
		string(types.StatusScheduled), string(types.StatusQueued), cutoff, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list stalled records", err)
	}
	return collectRecords(rows)
}

// Admit performs the conditional SCHEDULED -> QUEUED transition used by the
// admission job. Returns whether the update applied; false means another
// run claimed the record first.
func (r *MessageRepository) Admit(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE message_records
		 SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status = $3`,
		string(types.StatusQueued), id, string(types.StatusScheduled),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to admit record", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Requeue performs the recovery transition back to QUEUED, provided the
// retry budget has not been exhausted. Returns whether the update applied.
//
// Only a record stalled in QUEUED is charged an attempt: its envelope may
// have reached a worker whose outcome was lost. A past-due SCHEDULED
// record is re-admitted without touching the count, because it was either
// never admitted in the first place or already charged by the delivery
// worker when it was released. Exactly one component charges each attempt.
func (r *MessageRepository) Requeue(ctx context.Context, id string, from types.MessageStatus, maxRetries int) (bool, error) {
	increment := 0
	if from == types.StatusQueued {
		increment = 1
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE message_records
		 SET status = $1, retry_count = retry_count + $2, updated_at = NOW()
		 WHERE id = $3 AND status = $4 AND retry_count < $5`,
		string(types.StatusQueued), increment, id, string(from), maxRetries,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to requeue record", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release reverts a QUEUED record to SCHEDULED with the retry count
// incremented, recording the delivery error. The delivery worker uses this
// when the provider send failed but the retry budget remains; the record
// re-enters the admission flow on a later tick.
func (r *MessageRepository) Release(ctx context.Context, id string, lastError string, maxRetries int) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE message_records
		 SET status = $1, retry_count = retry_count + 1, last_error = $2, updated_at = NOW()
		 WHERE id = $3 AND status = $4 AND retry_count < $5`,
		string(types.StatusScheduled), lastError, id, string(types.StatusQueued), maxRetries,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to release record", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkSent performs the terminal QUEUED -> SENT transition. Returns whether
// the update applied; false means the record was not in QUEUED (already
// terminal, or concurrently reclaimed) and the delivery must not be
// double-counted.
func (r *MessageRepository) MarkSent(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE message_records
		 SET status = $1, last_error = NULL, updated_at = NOW()
		 WHERE id = $2 AND status = $3`,
		string(types.StatusSent), id, string(types.StatusQueued),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark record sent", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed forces a record into the terminal FAILED state with a
// diagnostic. SENT records are never overwritten.
func (r *MessageRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE message_records
		 SET status = $1, last_error = $2, updated_at = NOW()
		 WHERE id = $3 AND status <> $4`,
		string(types.StatusFailed), lastError, id, string(types.StatusSent),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark record failed", err)
	}
	return nil
}

// ListTerminalBefore returns SENT/FAILED records whose last update is older
// than the cutoff, for archival export.
func (r *MessageRepository) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.MessageRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, event_type, idempotency_key, scheduled_at_utc,
		        status, retry_count, last_error, created_at, updated_at
		 FROM message_records
		 WHERE status IN ($1, $2) AND updated_at < $3
		 ORDER BY updated_at
		 LIMIT $4`,
		string(types.StatusSent), string(types.StatusFailed), cutoff, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list terminal records", err)
	}
	return collectRecords(rows)
}

// DeleteByIDs removes archived records from the live table. Only the
// archival job calls this, and only after the export has been durably
// written. Returns the number of rows deleted.
func (r *MessageRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM message_records WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete archived records", err)
	}
	return tag.RowsAffected(), nil
}

// scanRecord scans a single message_records row. Handles the nullable
// last_error column with a pointer type.
func scanRecord(row pgx.Row) (*types.MessageRecord, error) {
	var (
		rec       types.MessageRecord
		eventType string
		status    string
		lastError *string
	)
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&eventType,
		&rec.IdempotencyKey,
		&rec.ScheduledAtUTC,
		&status,
		&rec.RetryCount,
		&lastError,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.EventType = types.EventType(eventType)
	rec.Status = types.MessageStatus(status)
	if lastError != nil {
		rec.LastError = *lastError
	}
	return &rec, nil
}

// collectRecords drains a pgx.Rows result set into message records.
func collectRecords(rows pgx.Rows) ([]*types.MessageRecord, error) {
	defer rows.Close()

	var results []*types.MessageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan message record row", err)
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating message record rows", err)
	}
	return results, nil
}

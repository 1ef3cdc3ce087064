// Package delivery implements the queue-consuming worker that turns QUEUED
// message records into provider sends, settling each record into SENT,
// back into SCHEDULED for a later retry, or terminally into FAILED.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"daymark/internal/external"
	"daymark/internal/greetings"
	"daymark/internal/queue"
	"daymark/internal/types"
)

// RecordStore is the message-record access the worker needs.
type RecordStore interface {
	GetByID(ctx context.Context, id string) (*types.MessageRecord, error)
	MarkSent(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string, lastError string, maxRetries int) (bool, error)
	MarkFailed(ctx context.Context, id string, lastError string) error
}

// UserStore loads the user profile at send time.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// Requeuer re-publishes an envelope to the main queue. Used only for
// circuit-open short-circuits, which must not burn the record's retry
// budget.
type Requeuer interface {
	Publish(ctx context.Context, msg types.GreetingMessage) error
}

// Worker is the queue.Handler for greeting envelopes.
//
// The one rule the worker never breaks: it returns Ack only after the
// record's outcome has been durably written. A crash between provider send
// and MarkSent leaves the message on the queue; redelivery then finds the
// QUEUED record and re-attempts, which is the at-least-once tradeoff the
// pipeline accepts over silently losing a greeting.
type Worker struct {
	records    RecordStore
	users      UserStore
	registry   *greetings.Registry
	provider   external.GreetingProvider
	requeuer   Requeuer
	metrics    Metrics
	maxRetries int
	// maxRequeues caps circuit-open requeue loops per queue message.
	maxRequeues int
	logger      *slog.Logger
}

// WorkerConfig bundles the Worker constructor arguments.
type WorkerConfig struct {
	Records     RecordStore
	Users       UserStore
	Registry    *greetings.Registry
	Provider    external.GreetingProvider
	Requeuer    Requeuer
	Metrics     Metrics
	MaxRetries  int
	MaxRequeues int
	Logger      *slog.Logger
}

// NewWorker creates a delivery Worker.
func NewWorker(cfg WorkerConfig) *Worker {
	maxRequeues := cfg.MaxRequeues
	if maxRequeues <= 0 {
		maxRequeues = 20
	}
	return &Worker{
		records:     cfg.Records,
		users:       cfg.Users,
		registry:    cfg.Registry,
		provider:    cfg.Provider,
		requeuer:    cfg.Requeuer,
		metrics:     cfg.Metrics,
		maxRetries:  cfg.MaxRetries,
		maxRequeues: maxRequeues,
		logger:      cfg.Logger,
	}
}

var _ queue.Handler = (*Worker)(nil)

// Handle implements queue.Handler.
func (w *Worker) Handle(ctx context.Context, msg types.GreetingMessage) (queue.Disposition, string) {
	logger := w.logger.With("record_id", msg.RecordID, "trace_id", msg.TraceID)

	rec, err := w.records.GetByID(ctx, msg.RecordID)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeNotFoundRecord {
			// The envelope references a record that does not exist; there is
			// nothing to deliver and nothing to settle.
			logger.ErrorContext(ctx, "message references missing record")
			return queue.DeadLetter, "record_not_found"
		}
		logger.ErrorContext(ctx, "failed to load record", "error", err)
		return queue.Nack, "record_load_failed"
	}

	// Redelivered message for an already-settled record: the previous
	// attempt persisted its outcome but the ack was lost. Deduplicate.
	if rec.Status.Terminal() {
		logger.InfoContext(ctx, "record already terminal, deduplicating redelivery",
			"status", string(rec.Status),
		)
		return queue.Ack, ""
	}

	// A SCHEDULED record means another worker already released this attempt;
	// admission will publish a fresh envelope when the record is due again.
	if rec.Status == types.StatusScheduled {
		logger.InfoContext(ctx, "record released back to scheduling, dropping stale envelope")
		return queue.Ack, ""
	}

	user, err := w.users.GetByID(ctx, rec.UserID)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeNotFoundUser {
			// The user was deleted after discovery. No destination remains.
			return w.fail(ctx, logger, rec, "user deleted before delivery")
		}
		logger.ErrorContext(ctx, "failed to load user", "error", err)
		return queue.Nack, "user_load_failed"
	}

	strategy, err := w.registry.Resolve(rec.EventType)
	if err != nil {
		return w.fail(ctx, logger, rec, err.Error())
	}

	content, err := strategy.Render(user, rec.ScheduledAtUTC.Year())
	if err != nil {
		return w.fail(ctx, logger, rec, fmt.Sprintf("content render failed: %v", err))
	}

	started := time.Now()
	result, err := w.provider.Send(ctx, external.SendRequest{
		Destination: user.Email,
		Subject:     content.Subject,
		Body:        content.Body,
	})
	w.metrics.RecordLatency(ctx, rec.EventType, time.Since(started))

	if err != nil {
		return w.settleFailure(ctx, logger, rec, msg, err)
	}

	w.metrics.RecordAttempt(ctx, rec.EventType, ResultSuccess)

	applied, err := w.records.MarkSent(ctx, rec.ID)
	if err != nil {
		// The send succeeded but the outcome is not durable yet. Nack so
		// redelivery retries the write; the terminal-status dedup above keeps
		// a concurrent success from double-sending.
		logger.ErrorContext(ctx, "send succeeded but MarkSent failed, nacking for settle retry",
			"error", err,
		)
		return queue.Nack, "mark_sent_failed"
	}
	if !applied {
		// A concurrent recovery reclaimed the record mid-send. The send still
		// happened; log it loudly instead of pretending otherwise.
		logger.WarnContext(ctx, "send succeeded but record left QUEUED state concurrently")
		return queue.Ack, ""
	}

	logger.InfoContext(ctx, "greeting delivered",
		"event_type", string(rec.EventType),
		"provider_message_id", result.ProviderMessageID,
	)
	return queue.Ack, ""
}

// settleFailure maps a provider send error to a record transition and a
// queue disposition.
func (w *Worker) settleFailure(ctx context.Context, logger *slog.Logger, rec *types.MessageRecord, msg types.GreetingMessage, sendErr error) (queue.Disposition, string) {
	code := types.CodeOf(sendErr)

	if code == types.ErrCodeCircuitOpen {
		w.metrics.RecordAttempt(ctx, rec.EventType, ResultShortCircuited)
		return w.requeue(ctx, logger, rec, msg)
	}

	w.metrics.RecordAttempt(ctx, rec.EventType, ResultFailure)

	if !types.IsRetryable(sendErr) {
		// Terminal rejection: retrying identical input cannot succeed.
		return w.fail(ctx, logger, rec, sendErr.Error())
	}

	applied, err := w.records.Release(ctx, rec.ID, sendErr.Error(), w.maxRetries)
	if err != nil {
		logger.ErrorContext(ctx, "failed to release record after send failure", "error", err)
		return queue.Nack, "release_failed"
	}
	if !applied {
		// Budget exhausted (or the record moved concurrently): retire it.
		logger.WarnContext(ctx, "retry budget exhausted",
			"retry_count", rec.RetryCount,
			"error", sendErr,
		)
		return w.fail(ctx, logger, rec,
			fmt.Sprintf("retry budget exhausted; last error: %v", sendErr))
	}

	logger.InfoContext(ctx, "send failed, record released for retry",
		"retry_count", rec.RetryCount+1,
		"error", sendErr,
	)
	return queue.Ack, ""
}

// requeue handles a circuit-open short-circuit: the attempt never reached
// the provider, so the record's retry budget is untouched. The envelope
// goes back on the queue with its requeue count incremented; past the cap
// the record is retired instead of looping forever against a dead provider.
func (w *Worker) requeue(ctx context.Context, logger *slog.Logger, rec *types.MessageRecord, msg types.GreetingMessage) (queue.Disposition, string) {
	if msg.RequeueCount >= w.maxRequeues {
		logger.ErrorContext(ctx, "requeue cap reached while circuit open",
			"requeue_count", msg.RequeueCount,
		)
		return w.fail(ctx, logger, rec,
			fmt.Sprintf("circuit breaker open; gave up after %d requeues", msg.RequeueCount))
	}

	next := msg
	next.RequeueCount++
	if err := w.requeuer.Publish(ctx, next); err != nil {
		// Could not republish; leave the original on the queue instead.
		logger.ErrorContext(ctx, "failed to requeue during circuit open", "error", err)
		return queue.Nack, "requeue_publish_failed"
	}

	logger.InfoContext(ctx, "circuit open, envelope requeued",
		"requeue_count", next.RequeueCount,
	)
	return queue.Ack, ""
}

// fail retires the record into FAILED and dead-letters the envelope.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, rec *types.MessageRecord, reason string) (queue.Disposition, string) {
	if err := w.records.MarkFailed(ctx, rec.ID, reason); err != nil {
		logger.ErrorContext(ctx, "failed to mark record failed", "error", err)
		return queue.Nack, "mark_failed_failed"
	}
	logger.ErrorContext(ctx, "record permanently failed",
		"event_type", string(rec.EventType),
		"reason", reason,
	)
	return queue.DeadLetter, reason
}

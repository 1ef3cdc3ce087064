package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"

	"daymark/internal/types"
)

// Disposition tells the consumer what to do with a message after its
// handler returns.
type Disposition int

const (
	// Ack deletes the message; its outcome has been durably persisted.
	Ack Disposition = iota
	// Nack makes the message immediately visible again for redelivery.
	Nack
	// DeadLetter moves the message to the DLQ and deletes the original.
	DeadLetter
)

// Handler processes one greeting envelope. It must not return Ack before
// the corresponding record state has been durably persisted; an Ack whose
// outcome would be lost on crash is the one unrecoverable mistake in the
// pipeline.
type Handler interface {
	Handle(ctx context.Context, msg types.GreetingMessage) (Disposition, string)
}

// SQSReceiver abstracts the consume-side SQS operations for testability.
type SQSReceiver interface {
	SQSSender
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// longPollWait is the SQS long-poll duration. 20s is the SQS maximum and
// minimizes empty-receive churn.
const longPollWait = 20

// Consumer runs the pull loop over the main greeting queue: long-poll
// receive, bounded concurrent handling, explicit ack/nack per message.
// This replaces callback-style consumption with a loop the caller owns,
// so cancellation and concurrency are visible at the call site.
type Consumer struct {
	client     SQSReceiver
	dlq        *Publisher
	handler    Handler
	queueURL   string
	prefetch   int
	observeLag func(time.Duration)
	logger     *slog.Logger
}

// ConsumerConfig bundles the Consumer constructor arguments.
type ConsumerConfig struct {
	Client   SQSReceiver
	DLQ      *Publisher
	Handler  Handler
	QueueURL string
	// Prefetch bounds both the receive batch size and concurrent handlers.
	Prefetch int
	// ObserveLag, when set, receives the enqueue-to-processing delay of
	// each message.
	ObserveLag func(time.Duration)
	Logger     *slog.Logger
}

// NewConsumer creates a Consumer. Prefetch is clamped to the SQS receive
// maximum of 10.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch < 1 {
		prefetch = 1
	}
	if prefetch > 10 {
		prefetch = 10
	}
	return &Consumer{
		client:     cfg.Client,
		dlq:        cfg.DLQ,
		handler:    cfg.Handler,
		queueURL:   cfg.QueueURL,
		prefetch:   prefetch,
		observeLag: cfg.ObserveLag,
		logger:     cfg.Logger,
	}
}

// Run pulls and processes messages until ctx is cancelled. Receive errors
// are logged and retried after a short pause; they never terminate the
// loop, because a transient broker outage must not take the worker down.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "consumer started",
		"queue_url", c.queueURL,
		"prefetch", c.prefetch,
	)

	for {
		if err := ctx.Err(); err != nil {
			c.logger.InfoContext(ctx, "consumer stopping", "reason", err)
			return err
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: int32(c.prefetch),
			WaitTimeSeconds:     longPollWait,
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
				sqstypes.MessageSystemAttributeNameSentTimestamp,
			},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.logger.ErrorContext(ctx, "receive failed, backing off", "error", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
			}
			continue
		}

		if len(out.Messages) == 0 {
			continue
		}

		// Each message is independent; process the batch concurrently but
		// finish it before the next receive so in-flight work stays bounded
		// by prefetch.
		g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
		for _, raw := range out.Messages {
			g.Go(func() error {
				c.processOne(gctx, raw)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// processOne parses, dispatches, and settles a single SQS message.
func (c *Consumer) processOne(ctx context.Context, raw sqstypes.Message) {
	c.recordLag(raw)

	var msg types.GreetingMessage
	if err := json.Unmarshal([]byte(aws.ToString(raw.Body)), &msg); err != nil {
		// Unparseable payload is a data error: it will never parse better
		// on redelivery, so it goes straight to the DLQ.
		c.logger.ErrorContext(ctx, "unparseable queue message, dead-lettering",
			"sqs_message_id", aws.ToString(raw.MessageId),
			"error", err,
		)
		if err := c.dlq.DeadLetterRaw(ctx, aws.ToString(raw.Body), "unparseable_body"); err != nil {
			c.logger.ErrorContext(ctx, "failed to dead-letter unparseable message", "error", err)
			return // leave it for redelivery rather than dropping it
		}
		c.ack(ctx, raw)
		return
	}

	if msg.TraceID != "" {
		ctx = types.WithTraceID(ctx, msg.TraceID)
	}

	disposition, reason := c.handler.Handle(ctx, msg)

	switch disposition {
	case Ack:
		c.ack(ctx, raw)
	case Nack:
		c.nack(ctx, raw, reason)
	case DeadLetter:
		if err := c.dlq.DeadLetter(ctx, msg, reason); err != nil {
			c.logger.ErrorContext(ctx, "failed to dead-letter message, leaving for redelivery",
				"record_id", msg.RecordID,
				"error", err,
			)
			return
		}
		c.ack(ctx, raw)
	}
}

// recordLag reports the enqueue-to-processing delay from the SQS
// SentTimestamp attribute (epoch milliseconds).
func (c *Consumer) recordLag(raw sqstypes.Message) {
	if c.observeLag == nil {
		return
	}
	sent, ok := raw.Attributes[string(sqstypes.MessageSystemAttributeNameSentTimestamp)]
	if !ok {
		return
	}
	ms, err := strconv.ParseInt(sent, 10, 64)
	if err != nil {
		return
	}
	lag := time.Since(time.UnixMilli(ms))
	if lag < 0 {
		lag = 0
	}
	c.observeLag(lag)
}

// ack deletes the message from the queue.
func (c *Consumer) ack(ctx context.Context, raw sqstypes.Message) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: raw.ReceiptHandle,
	})
	if err != nil {
		// The handler already persisted the outcome, so redelivery is safe:
		// the worker detects the terminal record and acks without resending.
		c.logger.WarnContext(ctx, "delete failed, message will redeliver",
			"sqs_message_id", aws.ToString(raw.MessageId),
			"error", err,
		)
	}
}

// nack returns the message to the queue immediately by zeroing its
// visibility timeout.
func (c *Consumer) nack(ctx context.Context, raw sqstypes.Message, reason string) {
	c.logger.InfoContext(ctx, "nacking message for redelivery",
		"sqs_message_id", aws.ToString(raw.MessageId),
		"reason", reason,
	)
	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     raw.ReceiptHandle,
		VisibilityTimeout: 0,
	})
	if err != nil {
		// Harmless: the visibility timeout will expire on its own.
		c.logger.WarnContext(ctx, "visibility change failed", "error", err)
	}
}

// Package queue provides the SQS-backed publish and consume sides of the
// greeting pipeline: durable confirmed publish into the main queue, a
// long-poll pull loop with explicit ack/nack, and dead-letter routing for
// messages the delivery worker gives up on.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"daymark/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher performs durable confirmed publishes of greeting envelopes.
// SendMessage does not return until the broker has acknowledged receipt,
// which is the publish confirmation the admission and recovery jobs rely
// on; any error is surfaced to the caller as retryable, never swallowed.
type Publisher struct {
	client   SQSSender
	queueURL string
	dlqURL   string
	logger   *slog.Logger
}

// NewPublisher creates a Publisher targeting the main greeting queue and
// its dead-letter queue.
func NewPublisher(client SQSSender, queueURL, dlqURL string, logger *slog.Logger) *Publisher {
	return &Publisher{
		client:   client,
		queueURL: queueURL,
		dlqURL:   dlqURL,
		logger:   logger,
	}
}

// Publish serializes the envelope and sends it to the main queue.
func (p *Publisher) Publish(ctx context.Context, msg types.GreetingMessage) error {
	return p.send(ctx, p.queueURL, msg)
}

// DeadLetterRaw forwards a payload to the dead-letter queue verbatim, with
// the failure reason carried as a message attribute. Used for bodies that
// do not parse as envelopes, so operators can inspect the original bytes.
func (p *Publisher) DeadLetterRaw(ctx context.Context, body string, reason string) error {
	p.logger.WarnContext(ctx, "dead-lettering raw message",
		"reason", reason,
		"body_bytes", len(body),
	)

	_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.dlqURL),
		MessageBody: aws.String(body),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"FailureReason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeQueuePublish,
			fmt.Sprintf("failed to publish raw message to %s", p.dlqURL), err)
	}
	return nil
}

// DeadLetter routes the envelope to the dead-letter queue for operational
// inspection. Used for exhausted or unprocessable messages.
func (p *Publisher) DeadLetter(ctx context.Context, msg types.GreetingMessage, reason string) error {
	p.logger.WarnContext(ctx, "dead-lettering greeting message",
		"record_id", msg.RecordID,
		"event_type", string(msg.EventType),
		"trace_id", msg.TraceID,
		"reason", reason,
	)
	return p.send(ctx, p.dlqURL, msg)
}

func (p *Publisher) send(ctx context.Context, queueURL string, msg types.GreetingMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to marshal greeting message", err)
	}

	out, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeQueuePublish,
			fmt.Sprintf("failed to publish greeting message to %s", queueURL), err)
	}

	p.logger.InfoContext(ctx, "greeting message published",
		"queue_url", queueURL,
		"record_id", msg.RecordID,
		"event_type", string(msg.EventType),
		"requeue_count", msg.RequeueCount,
		"trace_id", msg.TraceID,
		"sqs_message_id", aws.ToString(out.MessageId),
	)

	return nil
}

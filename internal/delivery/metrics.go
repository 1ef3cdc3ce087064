package delivery

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"daymark/internal/types"
)

// Result classifies a delivery attempt outcome for metrics.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	// ResultShortCircuited marks attempts blocked by an open circuit
	// breaker; these never reached the provider.
	ResultShortCircuited Result = "short_circuited"
)

// Metrics receives delivery telemetry from the worker and consumer.
type Metrics interface {
	RecordAttempt(ctx context.Context, event types.EventType, result Result)
	RecordLatency(ctx context.Context, event types.EventType, duration time.Duration)
	RecordQueueLag(ctx context.Context, lag time.Duration)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics emits delivery telemetry to CloudWatch. Emission
// failures are logged and never affect the delivery outcome.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to the given
// namespace; empty falls back to the standard pipeline namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordAttempt emits DeliveryAttempt with EventType and Result dimensions.
func (m *CloudWatchMetrics) RecordAttempt(ctx context.Context, event types.EventType, result Result) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricDeliveryAttempt),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(types.DimEvent), Value: aws.String(string(event))},
					{Name: aws.String(types.DimResult), Value: aws.String(string(result))},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record delivery attempt metric",
			"error", err.Error(),
			"event_type", string(event),
			"result", string(result),
		)
	}
}

// RecordLatency emits DeliveryLatency in milliseconds with the EventType
// dimension.
func (m *CloudWatchMetrics) RecordLatency(ctx context.Context, event types.EventType, duration time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricDeliveryLatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(types.DimEvent), Value: aws.String(string(event))},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record delivery latency metric",
			"error", err.Error(),
			"event_type", string(event),
		)
	}
}

// RecordQueueLag emits the time between enqueue and processing start.
func (m *CloudWatchMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricQueueLag),
				Value:      aws.Float64(float64(lag.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record queue lag metric",
			"error", err.Error(),
			"lag_ms", lag.Milliseconds(),
		)
	}
}

// NoopMetrics discards all telemetry. Used in local development.
type NoopMetrics struct{}

var _ Metrics = (*NoopMetrics)(nil)

func (NoopMetrics) RecordAttempt(context.Context, types.EventType, Result)        {}
func (NoopMetrics) RecordLatency(context.Context, types.EventType, time.Duration) {}
func (NoopMetrics) RecordQueueLag(context.Context, time.Duration)                 {}

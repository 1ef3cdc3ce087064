package scheduler

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"daymark/internal/types"
)

// JobMetrics receives per-run telemetry from the orchestrator.
type JobMetrics interface {
	RecordRun(ctx context.Context, job JobName, success bool, duration time.Duration)
	RecordCounters(ctx context.Context, job JobName, stats RunStats)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchJobMetrics emits job telemetry to CloudWatch. Emission failures
// are logged through the caller's Logger and never surface to the job.
type CloudWatchJobMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

var _ JobMetrics = (*CloudWatchJobMetrics)(nil)

// NewCloudWatchJobMetrics creates a CloudWatchJobMetrics publishing to the
// given namespace; empty falls back to the standard pipeline namespace.
func NewCloudWatchJobMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchJobMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchJobMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordRun emits JobRun (dims Job, Result) and JobDuration (dim Job).
func (m *CloudWatchJobMetrics) RecordRun(ctx context.Context, job JobName, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricJobRun),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(types.DimJob), Value: aws.String(string(job))},
					{Name: aws.String(types.DimResult), Value: aws.String(result)},
				},
			},
			{
				MetricName: aws.String(types.MetricJobDuration),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(types.DimJob), Value: aws.String(string(job))},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record job run metric",
			"error", err.Error(),
			"job", string(job),
		)
	}
}

// RecordCounters emits the non-zero counters from one run as individual
// count metrics with the Job dimension.
func (m *CloudWatchJobMetrics) RecordCounters(ctx context.Context, job JobName, stats RunStats) {
	data := make([]cwtypes.MetricDatum, 0, 3)
	add := func(name string, value int) {
		if value == 0 {
			return
		}
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(float64(value)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(types.DimJob), Value: aws.String(string(job))},
			},
		})
	}

	add(types.MetricRecordsCreated, stats.Created)
	add(types.MetricRecordsAdmitted, stats.Admitted)
	add(types.MetricRecordsRecovered, stats.Recovered)

	if len(data) == 0 {
		return
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record job counter metrics",
			"error", err.Error(),
			"job", string(job),
		)
	}
}

// NoopJobMetrics discards all telemetry. Used in local development where no
// CloudWatch endpoint exists.
type NoopJobMetrics struct{}

var _ JobMetrics = (*NoopJobMetrics)(nil)

func (NoopJobMetrics) RecordRun(context.Context, JobName, bool, time.Duration) {}
func (NoopJobMetrics) RecordCounters(context.Context, JobName, RunStats)       {}

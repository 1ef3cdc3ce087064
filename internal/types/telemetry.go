package types

// CloudWatch metric and dimension names emitted by the pipeline. The
// observability collaborator scrapes these; keep names stable.
const (
	// MetricNamespace is the CloudWatch namespace for all pipeline metrics.
	MetricNamespace = "Daymark/Pipeline"

	MetricJobRun           = "JobRun"
	MetricJobDuration      = "JobDuration"
	MetricRecordsCreated   = "RecordsCreated"
	MetricRecordsAdmitted  = "RecordsAdmitted"
	MetricRecordsRecovered = "RecordsRecovered"
	MetricDeliveryAttempt  = "DeliveryAttempt"
	MetricDeliveryLatency  = "DeliveryLatency"
	MetricQueueLag         = "QueueLag"

	DimJob    = "Job"
	DimResult = "Result"
	DimEvent  = "EventType"
)

package types

// GreetingMessage is the SQS transport envelope published by the admission
// and recovery jobs and consumed by the delivery worker. It deliberately
// carries only identifying fields; the worker re-reads the MessageRecord
// from the store so queued payloads never go stale.
type GreetingMessage struct {
	RecordID  string    `json:"record_id"`
	UserID    string    `json:"user_id"`
	EventType EventType `json:"event_type"`

	// RequeueCount counts circuit-open short-circuits for this queue message.
	// It is distinct from MessageRecord.RetryCount: a short-circuited attempt
	// never reached the provider, so it does not burn the record's retry
	// budget, but it is capped to stop runaway requeue loops.
	RequeueCount int `json:"requeue_count"`

	// TraceID correlates log lines across the admission, queue, and
	// delivery stages.
	TraceID string `json:"trace_id"`
}

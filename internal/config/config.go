// Package config defines the process-wide configuration for the daymark
// pipeline. Configuration is loaded once at startup and immutable
// thereafter, following 12-Factor separation of code and configuration.
// Any missing required value or invalid format fails the process
// immediately on startup.
package config

import (
	"time"

	"daymark/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used in configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"daymark"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server    ServerConfig
	Database  DatabaseConfig
	AWS       AWSConfig
	Jobs      JobsConfig
	Delivery  DeliveryConfig
	Archive   ArchiveConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds the operational HTTP surface settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// OpsAPIKeyHash is the bcrypt hash of the key required for manual job
	// triggers. Empty disables trigger endpoints (health stays public).
	OpsAPIKeyHash SecretString `envconfig:"OPS_API_KEY_HASH"`
	// ShutdownTimeout bounds how long graceful shutdown waits for in-flight
	// job runs and HTTP requests before force-stopping.
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"20s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// AWSConfig holds queue and metric resource identifiers.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	GreetingQueueURL string `envconfig:"SQS_GREETINGS" validate:"required,url"`
	DLQURL           string `envconfig:"SQS_DLQ" validate:"required,url"`

	// EndpointURL points SDK clients at LocalStack in development.
	// Empty in production.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// JobsConfig holds the cadence and window tuning for the three
// time-driven jobs.
type JobsConfig struct {
	// DiscoveryRunAtUTC is the "HH:MM" UTC wall-clock time of the daily
	// discovery run.
	DiscoveryRunAtUTC string `envconfig:"DISCOVERY_RUN_AT_UTC" default:"00:30" validate:"required"`
	// DeliveryLocalTime is the "HH:MM" local wall-clock time greetings are
	// scheduled for in each user's timezone.
	DeliveryLocalTime string `envconfig:"DELIVERY_LOCAL_TIME" default:"09:00" validate:"required"`

	AdmissionInterval  time.Duration `envconfig:"ADMISSION_INTERVAL" default:"1m"`
	AdmissionLookahead time.Duration `envconfig:"ADMISSION_LOOKAHEAD" default:"1h"`
	AdmissionBatchSize int           `envconfig:"ADMISSION_BATCH_SIZE" default:"500"`

	RecoveryInterval time.Duration `envconfig:"RECOVERY_INTERVAL" default:"10m"`
	// RecoveryGrace must stay comfortably longer than AdmissionLookahead
	// tick slack so publish-after-update inconsistencies are healed rather
	// than double-admitted.
	RecoveryGrace     time.Duration `envconfig:"RECOVERY_GRACE" default:"15m"`
	RecoveryBatchSize int           `envconfig:"RECOVERY_BATCH_SIZE" default:"500"`

	DiscoveryUserPageSize int `envconfig:"DISCOVERY_USER_PAGE_SIZE" default:"1000"`

	MaxRetries int `envconfig:"MAX_RETRIES" default:"3" validate:"min=1"`
}

// DeliveryConfig holds delivery worker and provider client tuning.
type DeliveryConfig struct {
	ProviderURL     string        `envconfig:"PROVIDER_URL" validate:"required,url"`
	ProviderAPIKey  SecretString  `envconfig:"PROVIDER_API_KEY"`
	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"10s"`

	// Prefetch bounds both the SQS receive batch size and the number of
	// concurrently processed messages.
	Prefetch int `envconfig:"QUEUE_PREFETCH" default:"5" validate:"min=1,max=10"`

	SendAttempts  int           `envconfig:"SEND_ATTEMPTS" default:"3" validate:"min=1"`
	SendBaseDelay time.Duration `envconfig:"SEND_BASE_DELAY" default:"500ms"`
	SendMaxDelay  time.Duration `envconfig:"SEND_MAX_DELAY" default:"10s"`

	BreakerFailureThreshold int           `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5" validate:"min=1"`
	BreakerCooldown         time.Duration `envconfig:"BREAKER_COOLDOWN" default:"30s"`

	// MaxRequeues caps circuit-open requeues of a single queue message so
	// an extended provider outage cannot loop a message forever; past the
	// cap the message is dead-lettered.
	MaxRequeues int `envconfig:"MAX_REQUEUES" default:"20" validate:"min=1"`
}

// ArchiveConfig holds terminal-record archival settings.
type ArchiveConfig struct {
	Enabled   bool          `envconfig:"ARCHIVE_ENABLED" default:"true"`
	Retention time.Duration `envconfig:"ARCHIVE_RETENTION" default:"2160h"` // 90 days
	Dir       string        `envconfig:"ARCHIVE_DIR" default:"/var/lib/daymark/archive"`
	BatchSize int           `envconfig:"ARCHIVE_BATCH_SIZE" default:"5000"`
}

// TelemetryConfig holds metric emission settings.
type TelemetryConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Daymark/Pipeline"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

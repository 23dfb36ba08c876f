// Package config defines the global configuration structure for the LearnLoop
// subscription service. Configuration is loaded once at process initialization
// and is immutable thereafter. It follows 12-Factor principles by strictly
// separating code from configuration.
//
// Values come from the OS environment, optionally seeded from a .env file in
// local development. Any missing required value or invalid format fails the
// process immediately on startup.
package config

import (
	"time"

	"learnloop/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"learnloop-subscriptions"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server  ServerConfig
	Auth    AuthConfig
	Mongo   MongoConfig
	Billing BillingConfig
	AWS     AWSConfig
	Sweep   SweepConfig
}

// AuthConfig holds the parameters for verifying identity-provider tokens.
// Tokens are issued by the auth gateway; this service only verifies them.
type AuthConfig struct {
	JWTSecret SecretString `envconfig:"AUTH_JWT_SECRET" validate:"required"`
	Issuer    string       `envconfig:"AUTH_JWT_ISSUER" default:"learnloop-auth"`
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// DashboardURL is used to construct checkout redirect URLs server-side
	// (no trailing slash). Client-supplied redirect URLs are never accepted.
	DashboardURL string `envconfig:"DASHBOARD_URL" validate:"required,url"`
}

// MongoConfig holds document store connection and pool tuning parameters.
type MongoConfig struct {
	URL      SecretString `envconfig:"MONGODB_URL" validate:"required"`
	Database string       `envconfig:"MONGODB_DATABASE" default:"learnloop"`

	ConnectTimeout  time.Duration `envconfig:"MONGODB_CONNECT_TIMEOUT" default:"10s"`
	MaxPoolSize     uint64        `envconfig:"MONGODB_MAX_POOL_SIZE" default:"100"`
	MinPoolSize     uint64        `envconfig:"MONGODB_MIN_POOL_SIZE" default:"1"`
	MaxConnIdleTime time.Duration `envconfig:"MONGODB_MAX_CONN_IDLE_TIME" default:"5m"`
	RetryWrites     bool          `envconfig:"MONGODB_RETRY_WRITES" default:"true"`
}

// BillingConfig holds payment gateway credentials and the deferral policy.
type BillingConfig struct {
	StripeSecretKey SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`

	// GracePeriod is the delay between requesting a downgrade and it taking
	// effect. BillingPeriod is both the access-retention window granted on a
	// cancellation and the entitlement length granted on an upgrade. Both
	// default to 30 days.
	GracePeriod   time.Duration `envconfig:"BILLING_GRACE_PERIOD" default:"720h"`
	BillingPeriod time.Duration `envconfig:"BILLING_PERIOD" default:"720h"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// EntitlementEventsQueue receives entitlement.applied messages for the
	// downstream notification workers. Empty disables publishing.
	EntitlementEventsQueue string `envconfig:"SQS_ENTITLEMENT_EVENTS"`

	// MetricsNamespace is the CloudWatch namespace for sweep telemetry.
	// Empty disables metric emission.
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"LearnLoop/Subscriptions"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SweepConfig tunes the pending-change sweep processor.
type SweepConfig struct {
	// BatchSize is the write-batch ceiling of the document store. Staged
	// updates are committed whenever this many accumulate.
	BatchSize int `envconfig:"SWEEP_BATCH_SIZE" default:"500" validate:"gt=0,lte=500"`

	// Schedule is the local-mode cron expression; in AWS the EventBridge
	// rule owns the schedule and this value is unused.
	Schedule string `envconfig:"SWEEP_SCHEDULE" default:"0 2 * * *"`

	// MaxAttempts bounds the retry loop of the local-mode scheduler.
	MaxAttempts int `envconfig:"SWEEP_MAX_ATTEMPTS" default:"3" validate:"gt=0"`
}

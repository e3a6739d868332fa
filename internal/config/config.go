// Package config defines the global configuration structure for the sandbox
// notifier. Configuration is loaded once at process initialization (Lambda
// cold start) and is immutable thereafter. It follows 12-Factor App
// principles by strictly separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format causes the application to
// fail immediately on startup.
package config

import (
	"time"

	"sandboxnotify/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the notifier.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"sandbox-notifier"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	AWS        AWSConfig
	Events     EventsConfig
	Enrichment EnrichmentConfig
	Links      LinksConfig
	Templates  TemplatesConfig
	Email      EmailConfig
	Chat       ChatConfig
	DeadLetter DeadLetterConfig
	Telemetry  TelemetryConfig

	// DefaultTimezone is used for date formatting when a recipient has no
	// timezone on their profile.
	DefaultTimezone string `envconfig:"DEFAULT_TIMEZONE" default:"Europe/London"`

	// Build Metadata (injected via ldflags, not Env)
	Build BuildInfo
}

// AWSConfig holds regional configuration and the LocalStack override.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (empty in prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EventsConfig controls inbound envelope acceptance.
type EventsConfig struct {
	// AllowedSources is the closed set of event bus sources this worker
	// accepts. Anything else is rejected as a security violation, never as
	// plain validation noise.
	AllowedSources []string `envconfig:"EVENT_ALLOWED_SOURCES" default:"sandbox.leases,sandbox.reports" validate:"required,min=1"`
}

// EnrichmentConfig tunes the bounded context-gathering phase.
type EnrichmentConfig struct {
	// Backend selects where lease context is read from: "dynamo" for the
	// shared platform tables, "http" for the lease service's read API,
	// "stub" for local runs.
	Backend string `envconfig:"ENRICHMENT_BACKEND" default:"dynamo" validate:"oneof=dynamo http stub"`

	// Timeout is the wall-clock budget for the whole enrichment phase.
	// Lookups still in flight when it expires are abandoned.
	Timeout time.Duration `envconfig:"ENRICHMENT_TIMEOUT" default:"2s" validate:"gt=0"`

	BreakerThreshold uint32        `envconfig:"ENRICHMENT_BREAKER_THRESHOLD" default:"3" validate:"gte=1"`
	BreakerCooldown  time.Duration `envconfig:"ENRICHMENT_BREAKER_COOLDOWN" default:"60s" validate:"gt=0"`

	// StalenessWindow bounds how far lease-store state may lag an event
	// before the run is flagged as working from stale context.
	StalenessWindow time.Duration `envconfig:"ENRICHMENT_STALENESS_WINDOW" default:"5m" validate:"gt=0"`

	// DiscrepancyFraction is the relative budget delta between the event's
	// figure and the store's figure that triggers a discrepancy warning.
	DiscrepancyFraction float64 `envconfig:"ENRICHMENT_DISCREPANCY_FRACTION" default:"0.10" validate:"gte=0,lte=1"`

	// Dynamo backend
	LeaseTable   string `envconfig:"LEASE_TABLE"`
	AccountTable string `envconfig:"ACCOUNT_TABLE"`
	ProfileTable string `envconfig:"PROFILE_TABLE"`

	// HTTP backend
	APIBaseURL string       `envconfig:"ENRICHMENT_API_BASE_URL" validate:"omitempty,url"`
	APIToken   SecretString `envconfig:"ENRICHMENT_API_TOKEN"`
}

// LinksConfig controls signed action link generation. Both fields are
// optional: with either missing, the pipeline falls back to plain portal
// links.
type LinksConfig struct {
	PortalBaseURL string        `envconfig:"PORTAL_BASE_URL" validate:"omitempty,url"`
	SigningSecret SecretString  `envconfig:"LINK_SIGNING_SECRET"`
	TTL           time.Duration `envconfig:"LINK_TTL" default:"15m" validate:"gt=0"`
}

// TemplatesConfig controls the template registry source.
type TemplatesConfig struct {
	// RegistryPath points at a YAML registry file overriding the embedded
	// default. Empty means use the embedded registry.
	RegistryPath string `envconfig:"TEMPLATE_REGISTRY_PATH"`
}

// EmailConfig holds email channel delivery settings. Provider credentials
// are NOT configured here; they are fetched per credential ref at dispatch
// time.
type EmailConfig struct {
	// Provider selects the sending backend: "notify" for the templated
	// notification API, "ses" for AWS SES, "stub" for local runs.
	Provider string `envconfig:"EMAIL_PROVIDER" default:"notify" validate:"oneof=notify ses stub"`

	// CredentialRef is the default parameter path for email credentials,
	// used when the template registry names none for an event type.
	CredentialRef string `envconfig:"EMAIL_CREDENTIAL_REF"`

	Timeout       time.Duration   `envconfig:"EMAIL_TIMEOUT" default:"10s" validate:"gt=0"`
	RetrySchedule []time.Duration `envconfig:"EMAIL_RETRY_SCHEDULE" default:"500ms,1500ms,3s"`

	BreakerThreshold uint32        `envconfig:"EMAIL_BREAKER_THRESHOLD" default:"3" validate:"gte=1"`
	BreakerCooldown  time.Duration `envconfig:"EMAIL_BREAKER_COOLDOWN" default:"60s" validate:"gt=0"`

	// SES backend. FromAddress must be a verified identity; the config set
	// is optional and enables delivery event tracking.
	SESFromAddress string `envconfig:"EMAIL_SES_FROM" validate:"omitempty,email"`
	SESConfigSet   string `envconfig:"EMAIL_SES_CONFIG_SET"`
}

// ChatConfig holds chat channel delivery settings. The webhook URL itself
// lives in the credential store, keyed by CredentialRef.
type ChatConfig struct {
	CredentialRef string `envconfig:"CHAT_CREDENTIAL_REF"`

	UserAgent     string          `envconfig:"CHAT_USER_AGENT" default:"SandboxNotifier/1.0"`
	Timeout       time.Duration   `envconfig:"CHAT_TIMEOUT" default:"10s" validate:"gt=0"`
	RetrySchedule []time.Duration `envconfig:"CHAT_RETRY_SCHEDULE" default:"1s,3s"`

	BreakerThreshold uint32        `envconfig:"CHAT_BREAKER_THRESHOLD" default:"3" validate:"gte=1"`
	BreakerCooldown  time.Duration `envconfig:"CHAT_BREAKER_COOLDOWN" default:"60s" validate:"gt=0"`
}

// DeadLetterConfig controls terminal-failure capture. An empty QueueURL
// disables publication; failures are then only logged.
type DeadLetterConfig struct {
	QueueURL          string `envconfig:"DEAD_LETTER_QUEUE_URL" validate:"omitempty,url"`
	CompressThreshold int    `envconfig:"DEAD_LETTER_COMPRESS_THRESHOLD" default:"16384" validate:"gte=0"`
}

// TelemetryConfig holds metric emission settings.
type TelemetryConfig struct {
	Namespace string `envconfig:"METRIC_NAMESPACE" default:"SandboxNotify"`
	Enabled   bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)

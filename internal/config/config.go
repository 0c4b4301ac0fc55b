// Package config defines the global configuration structure for the Stride
// backend. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values come from the OS environment, optionally seeded by a local .env
// file. Any missing required value or invalid format causes the application
// to fail immediately on startup.
package config

import (
	"time"

	"stride/internal/types"
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
	Service     string `envconfig:"SERVICE_NAME" default:"stride-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Billing  BillingConfig
	Sweep    SweepConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public app URL for checkout redirects (no trailing slash).
	AppURL string `envconfig:"APP_URL" validate:"required,url"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// BillingConfig holds billing provider credentials and price mapping.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`

	// Outbound call timeout for checkout-session creation.
	RequestTimeout time.Duration `envconfig:"BILLING_REQUEST_TIMEOUT" default:"20s"`
}

// SweepConfig holds intervals for the background sweeper binary.
type SweepConfig struct {
	TrialInterval  time.Duration `envconfig:"SWEEP_TRIAL_INTERVAL" default:"1h"`
	LedgerInterval time.Duration `envconfig:"SWEEP_LEDGER_INTERVAL" default:"24h"`
	// Applied ledger rows older than this are reaped.
	LedgerRetention time.Duration `envconfig:"SWEEP_LEDGER_RETENTION" default:"720h"`
	// Unapplied ledger rows older than this are surfaced as alerts.
	LedgerRetryBudget time.Duration `envconfig:"SWEEP_LEDGER_RETRY_BUDGET" default:"24h"`
}

// Package config loads, merges, and validates Lens's server configuration:
// connection/message limits, rate limiting, client reconnect policy,
// per-operation timeout, CORS, error verbosity, and health-check exposure
// (spec.md §6's recognized options).
package config

import "time"

// Config is the fully resolved, validated server configuration.
type Config struct {
	MaxMessageSize            int64         `yaml:"max_message_size"`
	MaxSubscriptionsPerClient int           `yaml:"max_subscriptions_per_client"`
	MaxConnections            int           `yaml:"max_connections"`
	Timeout                   time.Duration `yaml:"timeout"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	CORS      CORSConfig      `yaml:"cors"`
	Errors    ErrorsConfig    `yaml:"errors"`
	Health    HealthConfig    `yaml:"health"`

	LogLevel string `yaml:"log_level"`
}

// RateLimitConfig bounds how many client→server frames one connection
// may send per window before CodeRateLimited replaces normal handling.
type RateLimitConfig struct {
	MaxMessages int           `yaml:"max_messages"`
	Window      time.Duration `yaml:"window"`
}

// ReconnectConfig holds the reconnect options of lens.yaml. The loader
// fills it and the validator checks it; lensd's server does not read it,
// and pkg/client takes its own client.ReconnectConfig instead.
type ReconnectConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
	Jitter      bool          `yaml:"jitter"`
}

// CORSConfig controls the HTTP/SSE adapter's allowed-origin policy.
type CORSConfig struct {
	Origin string `yaml:"origin"`
}

// ErrorsConfig holds the errors.development flag. The loader fills it;
// lensd does not read it, so it changes neither the CORS policy nor the
// sanitizing of error messages on the wire.
type ErrorsConfig struct {
	Development bool `yaml:"development"`
}

// HealthConfig holds the health options. The loader fills it and the
// validator checks it; the HTTP adapter does not read it and always
// serves `GET /__lens/health`.
type HealthConfig struct {
	Enabled bool     `yaml:"enabled"`
	Path    string   `yaml:"path"`
	Checks  []string `yaml:"checks"`
}

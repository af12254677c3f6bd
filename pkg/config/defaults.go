package config

import "time"

// Defaults returns the built-in configuration applied before any YAML
// document is merged on top. Every field here has a corresponding
// spec.md §6 option.
func Defaults() *Config {
	return &Config{
		MaxMessageSize:            1 << 20, // 1 MiB
		MaxSubscriptionsPerClient: 500,
		MaxConnections:            10_000,
		Timeout:                   30 * time.Second,
		RateLimit: RateLimitConfig{
			MaxMessages: 100,
			Window:      time.Second,
		},
		Reconnect: ReconnectConfig{
			Enabled:     true,
			BaseDelay:   time.Second,
			MaxAttempts: 5,
			Jitter:      true,
		},
		CORS: CORSConfig{
			Origin: "*",
		},
		Errors: ErrorsConfig{
			Development: false,
		},
		Health: HealthConfig{
			Enabled: true,
			Path:    "/__lens/health",
			Checks:  []string{},
		},
		LogLevel: "info",
	}
}

package config

import "fmt"

// Validator validates a resolved Config comprehensively, fail-fast, one
// method per concern — the same shape the teacher's own validator uses.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for cfg.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every check, returning the first failure.
func (v *Validator) ValidateAll() error {
	if err := v.validateLimits(); err != nil {
		return fmt.Errorf("limits validation failed: %w", err)
	}
	if err := v.validateRateLimit(); err != nil {
		return fmt.Errorf("rate limit validation failed: %w", err)
	}
	if err := v.validateReconnect(); err != nil {
		return fmt.Errorf("reconnect validation failed: %w", err)
	}
	if err := v.validateHealth(); err != nil {
		return fmt.Errorf("health validation failed: %w", err)
	}
	if err := v.validateLogLevel(); err != nil {
		return fmt.Errorf("log level validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateLimits() error {
	c := v.cfg
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be positive, got %d", c.MaxMessageSize)
	}
	if c.MaxSubscriptionsPerClient <= 0 {
		return fmt.Errorf("max_subscriptions_per_client must be positive, got %d", c.MaxSubscriptionsPerClient)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", c.MaxConnections)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	return nil
}

func (v *Validator) validateRateLimit() error {
	rl := v.cfg.RateLimit
	if rl.MaxMessages <= 0 {
		return fmt.Errorf("rate_limit.max_messages must be positive, got %d", rl.MaxMessages)
	}
	if rl.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive, got %v", rl.Window)
	}
	return nil
}

func (v *Validator) validateReconnect() error {
	rc := v.cfg.Reconnect
	if !rc.Enabled {
		return nil
	}
	if rc.BaseDelay <= 0 {
		return fmt.Errorf("reconnect.base_delay must be positive when reconnect is enabled, got %v", rc.BaseDelay)
	}
	if rc.MaxAttempts <= 0 {
		return fmt.Errorf("reconnect.max_attempts must be positive when reconnect is enabled, got %d", rc.MaxAttempts)
	}
	return nil
}

func (v *Validator) validateHealth() error {
	h := v.cfg.Health
	if h.Enabled && h.Path == "" {
		return fmt.Errorf("health.path must be set when health is enabled")
	}
	return nil
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

func (v *Validator) validateLogLevel() error {
	if !validLogLevels[v.cfg.LogLevel] {
		return fmt.Errorf("log_level must be one of debug/info/warn/error, got %q", v.cfg.LogLevel)
	}
	return nil
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// yamlDocument is the raw shape of lens.yaml. Boolean fields that must
// distinguish "unset" from "explicitly false" (reconnect.enabled,
// reconnect.jitter, errors.development, health.enabled) are pointers; everything else
// merges fine as a zero-value-means-unset plain field.
type yamlDocument struct {
	MaxMessageSize            int64              `yaml:"max_message_size"`
	MaxSubscriptionsPerClient int                `yaml:"max_subscriptions_per_client"`
	MaxConnections            int                `yaml:"max_connections"`
	Timeout                   string             `yaml:"timeout"`
	RateLimit                 *rateLimitYAML     `yaml:"rate_limit"`
	Reconnect                 *reconnectYAML     `yaml:"reconnect"`
	CORS                      *CORSConfig        `yaml:"cors"`
	Errors                    *errorsYAML        `yaml:"errors"`
	Health                    *healthYAML        `yaml:"health"`
	LogLevel                  string             `yaml:"log_level"`
}

type rateLimitYAML struct {
	MaxMessages int    `yaml:"max_messages"`
	Window      string `yaml:"window"`
}

type reconnectYAML struct {
	Enabled     *bool  `yaml:"enabled"`
	BaseDelay   string `yaml:"base_delay"`
	MaxAttempts int    `yaml:"max_attempts"`
	Jitter      *bool  `yaml:"jitter"`
}

type errorsYAML struct {
	Development *bool `yaml:"development"`
}

type healthYAML struct {
	Enabled *bool    `yaml:"enabled"`
	Path    string   `yaml:"path"`
	Checks  []string `yaml:"checks"`
}

// Load reads path (a YAML document), expands ${VAR} references, merges
// it on top of Defaults(), validates the result, and returns it. A
// missing file is not an error — Defaults() alone is a valid config.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("lens: no config file found, using defaults", "path", path)
			if verr := NewValidator(cfg).ValidateAll(); verr != nil {
				return nil, fmt.Errorf("%w: %v", ErrValidationFailed, verr)
			}
			return cfg, nil
		}
		return nil, NewLoadError(filepath.Base(path), err)
	}

	data = ExpandEnv(data)

	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	if err := applyDocument(cfg, &doc); err != nil {
		return nil, err
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return cfg, nil
}

func applyDocument(cfg *Config, doc *yamlDocument) error {
	numeric := Config{
		MaxMessageSize:            doc.MaxMessageSize,
		MaxSubscriptionsPerClient: doc.MaxSubscriptionsPerClient,
		MaxConnections:            doc.MaxConnections,
	}
	if err := mergo.Merge(cfg, numeric, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge top-level config: %w", err)
	}

	if doc.Timeout != "" {
		d, err := time.ParseDuration(doc.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", doc.Timeout, err)
		}
		cfg.Timeout = d
	}

	if doc.RateLimit != nil {
		if doc.RateLimit.MaxMessages > 0 {
			cfg.RateLimit.MaxMessages = doc.RateLimit.MaxMessages
		}
		if doc.RateLimit.Window != "" {
			d, err := time.ParseDuration(doc.RateLimit.Window)
			if err != nil {
				return fmt.Errorf("invalid rate_limit.window %q: %w", doc.RateLimit.Window, err)
			}
			cfg.RateLimit.Window = d
		}
	}

	if doc.Reconnect != nil {
		if doc.Reconnect.Enabled != nil {
			cfg.Reconnect.Enabled = *doc.Reconnect.Enabled
		}
		if doc.Reconnect.BaseDelay != "" {
			d, err := time.ParseDuration(doc.Reconnect.BaseDelay)
			if err != nil {
				return fmt.Errorf("invalid reconnect.base_delay %q: %w", doc.Reconnect.BaseDelay, err)
			}
			cfg.Reconnect.BaseDelay = d
		}
		if doc.Reconnect.MaxAttempts > 0 {
			cfg.Reconnect.MaxAttempts = doc.Reconnect.MaxAttempts
		}
		if doc.Reconnect.Jitter != nil {
			cfg.Reconnect.Jitter = *doc.Reconnect.Jitter
		}
	}

	if doc.CORS != nil && doc.CORS.Origin != "" {
		cfg.CORS.Origin = doc.CORS.Origin
	}

	if doc.Errors != nil && doc.Errors.Development != nil {
		cfg.Errors.Development = *doc.Errors.Development
	}

	if doc.Health != nil {
		if doc.Health.Enabled != nil {
			cfg.Health.Enabled = *doc.Health.Enabled
		}
		if doc.Health.Path != "" {
			cfg.Health.Path = doc.Health.Path
		}
		if doc.Health.Checks != nil {
			cfg.Health.Checks = doc.Health.Checks
		}
	}

	if doc.LogLevel != "" {
		cfg.LogLevel = doc.LogLevel
	}
	return nil
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidator_RejectsNonPositiveLimits(t *testing.T) {
	cfg := Defaults()
	cfg.MaxMessageSize = 0
	assert.Error(t, NewValidator(cfg).ValidateAll())
}

func TestValidator_RejectsEnabledHealthWithoutPath(t *testing.T) {
	cfg := Defaults()
	cfg.Health.Enabled = true
	cfg.Health.Path = ""
	assert.Error(t, NewValidator(cfg).ValidateAll())
}

func TestValidator_SkipsReconnectFieldsWhenDisabled(t *testing.T) {
	cfg := Defaults()
	cfg.Reconnect.Enabled = false
	cfg.Reconnect.BaseDelay = 0
	cfg.Reconnect.MaxAttempts = 0
	assert.NoError(t, NewValidator(cfg).ValidateAll())
}

func TestValidator_RejectsUnknownLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "verbose"
	assert.Error(t, NewValidator(cfg).ValidateAll())
}

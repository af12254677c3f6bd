package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "lens.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_OverridesMergeOnTopOfDefaults(t *testing.T) {
	path := writeYAML(t, `
max_connections: 42
timeout: 5s
rate_limit:
  max_messages: 10
  window: 2s
reconnect:
  enabled: false
cors:
  origin: https://example.com
log_level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.MaxConnections)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 10, cfg.RateLimit.MaxMessages)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.Window)
	assert.False(t, cfg.Reconnect.Enabled)
	assert.Equal(t, "https://example.com", cfg.CORS.Origin)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Untouched fields keep their defaults.
	assert.Equal(t, Defaults().MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, Defaults().MaxSubscriptionsPerClient, cfg.MaxSubscriptionsPerClient)
}

func TestLoad_ExpandsEnvironmentReferences(t *testing.T) {
	require.NoError(t, os.Setenv("LENS_TEST_ORIGIN", "https://env.example.com"))
	t.Cleanup(func() { os.Unsetenv("LENS_TEST_ORIGIN") })

	path := writeYAML(t, `
cors:
  origin: ${LENS_TEST_ORIGIN}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.CORS.Origin)
}

func TestLoad_InvalidYAMLReturnsError(t *testing.T) {
	path := writeYAML(t, "max_connections: [this is not valid")
	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalidYAML)
}

func TestLoad_ValidationFailureSurfacesAsError(t *testing.T) {
	path := writeYAML(t, "max_connections: -1")
	_, err := Load(path)
	require.ErrorIs(t, err, ErrValidationFailed)
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_PassesValidation(t *testing.T) {
	require.NoError(t, NewValidator(Defaults()).ValidateAll())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/lens.yaml")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

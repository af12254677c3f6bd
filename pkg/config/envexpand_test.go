package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv_SubstitutesBracedAndBareVariables(t *testing.T) {
	os.Setenv("LENS_EXPAND_A", "alpha")
	os.Setenv("LENS_EXPAND_B", "beta")
	t.Cleanup(func() {
		os.Unsetenv("LENS_EXPAND_A")
		os.Unsetenv("LENS_EXPAND_B")
	})

	out := ExpandEnv([]byte("origin: ${LENS_EXPAND_A}-$LENS_EXPAND_B"))
	assert.Equal(t, "origin: alpha-beta", string(out))
}

func TestExpandEnv_MissingVariableExpandsEmpty(t *testing.T) {
	out := ExpandEnv([]byte("origin: ${LENS_EXPAND_UNSET}"))
	assert.Equal(t, "origin: ", string(out))
}

package config

import "os"

// ExpandEnv expands environment variables in a YAML document before it is
// parsed. Supports both ${VAR} and $VAR syntax (standard shell-style).
//
// Examples:
//   - cors.origin: ${LENS_ALLOWED_ORIGIN} → value of LENS_ALLOWED_ORIGIN
//   - log_level: $LENS_LOG_LEVEL → value of LENS_LOG_LEVEL
//   - reconnect.base_delay: ${LENS_RECONNECT_DELAY}
//
// Missing variables expand to empty string; ValidateAll is what catches a
// resulting empty/zero value in a field that requires one.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

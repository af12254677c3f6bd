package config

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidYAML indicates the config document failed to parse.
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrValidationFailed indicates the merged config failed validation.
	ErrValidationFailed = errors.New("configuration validation failed")
)

// LoadError wraps a configuration load failure with file context.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NewLoadError creates a LoadError.
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}

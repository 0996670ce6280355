package domain

import (
	"errors"
	"fmt"
)

// ConfigError reports a configuration that cannot be executed. It is raised
// before any network activity and never produces a TestResult.
type ConfigError struct {
	TestID string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration for test %s: %s", e.TestID, e.Reason)
	}
	return fmt.Sprintf("invalid configuration for test %s: %s %s", e.TestID, e.Field, e.Reason)
}

// NewConfigError builds a ConfigError.
func NewConfigError(testID, field, reason string) *ConfigError {
	return &ConfigError{TestID: testID, Field: field, Reason: reason}
}

// IsConfigError reports whether err wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("not found")

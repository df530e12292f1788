package model

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is the error kind shared by every engine entry point
// that rejects its input. Match with errors.Is.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ConfigurationError describes one rejected input field.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Is reports ErrInvalidConfiguration as the kind of every ConfigurationError.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

// Invalid builds a ConfigurationError for field.
func Invalid(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidConfiguration reports whether err is (or wraps) a configuration error.
func IsInvalidConfiguration(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}

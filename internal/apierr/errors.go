// Package apierr defines the error kinds the control plane distinguishes
// when mapping a failure to an HTTP status.
package apierr

import "fmt"

// ConfigError marks invalid input at the API boundary (→ 400).
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// NewConfigError builds a ConfigError with a formatted message.
func NewConfigError(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// NotFound marks an unknown proxy or toxic id (→ 404).
type NotFound struct {
	Msg string
}

func (e *NotFound) Error() string { return e.Msg }

// NewNotFound builds a NotFound with a formatted message.
func NewNotFound(format string, args ...any) error {
	return &NotFound{Msg: fmt.Sprintf(format, args...)}
}

// Conflict marks a duplicate proxy name (→ 409).
type Conflict struct {
	Msg string
}

func (e *Conflict) Error() string { return e.Msg }

// NewConflict builds a Conflict with a formatted message.
func NewConflict(format string, args ...any) error {
	return &Conflict{Msg: fmt.Sprintf(format, args...)}
}

// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks missing or malformed inputs: the manifest template, the
	// fallback database, the resolved-tag file or the configuration file.
	// A ConfigError aborts the current step and leaves checkpoints untouched.
	ErrConfig = errors.New("configuration error")

	// ErrValidation marks a rendered manifest that failed structural or
	// syntactic validation. The previous good manifest is always preserved.
	ErrValidation = errors.New("validation error")
)

type (
	// ConfigError reports a problem with an input file or setting.
	ConfigError struct {
		// Path is the offending file, if any.
		Path string
		// Msg describes the problem.
		Msg string
		// Err is the underlying cause (optional).
		Err error
	}

	// ValidationError reports a rendered manifest that was rejected.
	ValidationError struct {
		// Path is the manifest that was being validated.
		Path string
		// Stage is "structure" or "syntax".
		Stage string
		// Problems lists every individual finding.
		Problems []string
		// Err is the underlying cause (optional).
		Err error
	}
)

// NewConfigError creates a ConfigError for path.
func NewConfigError(path, msg string, err error) *ConfigError {
	return &ConfigError{Path: path, Msg: msg, Err: err}
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := e.Msg
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", e.Path, e.Msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports ErrConfig so that errors.Is(err, ErrConfig) matches.
func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// Unwrap returns the underlying cause.
func (e *ConfigError) Unwrap() error { return e.Err }

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("manifest %s validation failed", e.Stage)
	if e.Path != "" {
		msg += " for " + e.Path
	}
	switch {
	case len(e.Problems) == 1:
		msg += ": " + e.Problems[0]
	case len(e.Problems) > 1:
		msg += fmt.Sprintf(": %d problems", len(e.Problems))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports ErrValidation so that errors.Is(err, ErrValidation) matches.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Unwrap returns the underlying cause.
func (e *ValidationError) Unwrap() error { return e.Err }

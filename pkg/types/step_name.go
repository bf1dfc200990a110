// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidStepName is the sentinel error wrapped by InvalidStepNameError.
var ErrInvalidStepName = errors.New("invalid step name")

type (
	// StepName identifies an installer step. Step names double as checkpoint
	// marker file names, so they are restricted to lowercase letters, digits,
	// '-', '_' and '.', must not start with '.', and must not exceed 128 bytes.
	StepName string

	// InvalidStepNameError is returned when a StepName cannot be used as a
	// checkpoint key.
	InvalidStepNameError struct {
		Value  StepName
		Reason string
	}
)

const maxStepNameLen = 128

// String returns the string representation of the StepName.
func (n StepName) String() string { return string(n) }

// IsValid returns whether the StepName is usable as a checkpoint key.
func (n StepName) IsValid() (bool, []error) {
	s := string(n)
	switch {
	case strings.TrimSpace(s) == "":
		return false, []error{&InvalidStepNameError{Value: n, Reason: "must be non-empty"}}
	case len(s) > maxStepNameLen:
		return false, []error{&InvalidStepNameError{Value: n, Reason: fmt.Sprintf("must not exceed %d bytes", maxStepNameLen)}}
	case strings.HasPrefix(s, "."):
		return false, []error{&InvalidStepNameError{Value: n, Reason: "must not start with '.'"}}
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return false, []error{&InvalidStepNameError{Value: n, Reason: fmt.Sprintf("contains invalid character %q", r)}}
		}
	}
	return true, nil
}

// Error implements the error interface for InvalidStepNameError.
func (e *InvalidStepNameError) Error() string {
	return fmt.Sprintf("invalid step name %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidStepName for errors.Is() compatibility.
func (e *InvalidStepNameError) Unwrap() error { return ErrInvalidStepName }

// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
)

// ErrInvalidVariableName is the sentinel error wrapped by InvalidVariableNameError.
var ErrInvalidVariableName = errors.New("invalid variable name")

type (
	// VariableName is the name of a substitution variable in the resolved-tag
	// file and the manifest template (e.g. "KASM_IMAGE"). A valid name starts
	// with a letter or underscore and continues with letters, digits or
	// underscores.
	VariableName string

	// InvalidVariableNameError is returned when a VariableName does not match
	// the variable grammar.
	InvalidVariableNameError struct {
		Value VariableName
	}
)

// String returns the string representation of the VariableName.
func (n VariableName) String() string { return string(n) }

// IsValid returns whether the VariableName matches the variable grammar.
func (n VariableName) IsValid() (bool, []error) {
	if !IsVariableName(string(n)) {
		return false, []error{&InvalidVariableNameError{Value: n}}
	}
	return true, nil
}

// Error implements the error interface for InvalidVariableNameError.
func (e *InvalidVariableNameError) Error() string {
	return fmt.Sprintf("invalid variable name %q: must match [A-Za-z_][A-Za-z0-9_]*", e.Value)
}

// Unwrap returns ErrInvalidVariableName for errors.Is() compatibility.
func (e *InvalidVariableNameError) Unwrap() error { return ErrInvalidVariableName }

// IsVariableName reports whether s is a valid variable name.
func IsVariableName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"

	"rtpi-cli/internal/installer"
	"rtpi-cli/internal/issue"
	"rtpi-cli/internal/retry"
	"rtpi-cli/pkg/types"
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code types.ExitCode
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitCodeFor maps an error returned by a command to the process exit code.
func exitCodeFor(err error) types.ExitCode {
	if err == nil {
		return types.ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var stepErr *installer.StepError
	switch {
	case errors.As(err, &stepErr) && stepErr.Interrupted(),
		errors.Is(err, context.Canceled),
		errors.Is(err, retry.ErrCancelled):
		return types.ExitInterrupted
	case errors.Is(err, issue.ErrValidation):
		return types.ExitValidation
	case errors.Is(err, issue.ErrConfig):
		return types.ExitConfig
	default:
		return types.ExitFailure
	}
}

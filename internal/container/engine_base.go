// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine provides the command plumbing shared by the Docker and
	// Podman engines.
	BaseCLIEngine struct {
		name        string
		binaryPath  string
		execCommand ExecCommandFunc
	}

	// ComposeError is returned when the engine rejects a compose file.
	ComposeError struct {
		Engine string
		File   string
		// Output is the engine's trimmed stderr.
		Output string
		Err    error
	}
)

// WithName sets the engine name used in error messages.
func WithName(name string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.name = name
	}
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// WithBinaryPath overrides the binary found on PATH.
func WithBinaryPath(path string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.binaryPath = path
	}
}

// NewBaseCLIEngine creates a new base engine with the given binary path.
func NewBaseCLIEngine(binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		binaryPath:  binaryPath,
		execCommand: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the engine name used in error messages.
func (e *BaseCLIEngine) Name() string {
	return e.name
}

// BinaryPath returns the path to the container engine binary.
func (e *BaseCLIEngine) BinaryPath() string {
	return e.binaryPath
}

// ComposeConfigArgs constructs arguments for validating a compose file.
//
// Generated command: <binary> compose -f <file> config -q
func (e *BaseCLIEngine) ComposeConfigArgs(file string) []string {
	return []string{"compose", "-f", file, "config", "-q"}
}

// ComposeConfig runs the compose config check on file.
func (e *BaseCLIEngine) ComposeConfig(ctx context.Context, file string) error {
	if e.binaryPath == "" {
		return &EngineNotAvailableError{Engine: e.name, Reason: "binary not found on PATH"}
	}
	cmd := e.CreateCommand(ctx, e.ComposeConfigArgs(file)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &ComposeError{Engine: e.name, File: file, Output: strings.TrimSpace(stderr.String()), Err: err}
	}
	return nil
}

// RunCommandWithOutput executes a command with stdout captured to a buffer.
func (e *BaseCLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("command %s %v failed: %w", e.binaryPath, args, err)
	}

	return out.String(), nil
}

// CreateCommand creates an exec.Cmd for the given arguments.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	return e.execCommand(ctx, e.binaryPath, args...)
}

// Error implements the error interface.
func (e *ComposeError) Error() string {
	msg := fmt.Sprintf("%s compose rejected %s", e.Engine, e.File)
	if e.Output != "" {
		return msg + ": " + e.Output
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

// Unwrap returns the process error.
func (e *ComposeError) Unwrap() error { return e.Err }

// Problems splits the engine output into one finding per line.
func (e *ComposeError) Problems() []string {
	var out []string
	for line := range strings.Lines(e.Output) {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	if len(out) == 0 && e.Err != nil {
		out = append(out, e.Err.Error())
	}
	return out
}

// ExitCode returns the engine's exit code, or -1 when it did not exit.
func (e *ComposeError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

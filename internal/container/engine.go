// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
)

const (
	// EngineTypeAuto picks whichever engine is available, Podman first.
	EngineTypeAuto EngineType = "auto"
	// EngineTypePodman prefers Podman and falls back to Docker.
	EngineTypePodman EngineType = "podman"
	// EngineTypeDocker prefers Docker and falls back to Podman.
	EngineTypeDocker EngineType = "docker"
)

// ErrEngineNotAvailable is the sentinel wrapped by EngineNotAvailableError.
var ErrEngineNotAvailable = errors.New("container engine not available")

type (
	// Engine is a container engine CLI.
	Engine interface {
		// Name returns the engine name (docker or podman).
		Name() string
		// Available checks if the engine is installed and answering.
		Available() bool
		// Version returns the engine version.
		Version(ctx context.Context) (string, error)
		// ComposeConfig validates a compose file with the engine's compose
		// implementation. A rejected file yields a *ComposeError.
		ComposeConfig(ctx context.Context, file string) error
	}

	// EngineType identifies the container engine type.
	EngineType string

	// EngineNotAvailableError is returned when no usable engine is found.
	EngineNotAvailableError struct {
		Engine string
		Reason string
	}
)

// Error implements the error interface.
func (e *EngineNotAvailableError) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// Unwrap returns ErrEngineNotAvailable.
func (e *EngineNotAvailableError) Unwrap() error { return ErrEngineNotAvailable }

// String returns the engine type name.
func (t EngineType) String() string { return string(t) }

// Validate reports whether t is a known engine type.
func (t EngineType) Validate() error {
	switch t {
	case EngineTypeAuto, EngineTypeDocker, EngineTypePodman:
		return nil
	default:
		return fmt.Errorf("unknown container engine type %q (want auto, docker or podman)", t)
	}
}

// NewEngine creates a container engine based on preference, falling back to
// the other engine when the preferred one is unavailable.
func NewEngine(preferredType EngineType) (Engine, error) {
	switch preferredType {
	case EngineTypeAuto, "":
		return AutoDetectEngine()

	case EngineTypePodman:
		if engine := NewPodmanEngine(); engine.Available() {
			return engine, nil
		}
		if docker := NewDockerEngine(); docker.Available() {
			return docker, nil
		}
		return nil, &EngineNotAvailableError{
			Engine: "podman",
			Reason: "podman is not installed or not accessible, and docker fallback is also not available",
		}

	case EngineTypeDocker:
		if engine := NewDockerEngine(); engine.Available() {
			return engine, nil
		}
		if podman := NewPodmanEngine(); podman.Available() {
			return podman, nil
		}
		return nil, &EngineNotAvailableError{
			Engine: "docker",
			Reason: "docker is not installed or not accessible, and podman fallback is also not available",
		}

	default:
		return nil, preferredType.Validate()
	}
}

// AutoDetectEngine tries to find an available container engine.
func AutoDetectEngine() (Engine, error) {
	if podman := NewPodmanEngine(); podman.Available() {
		return podman, nil
	}
	if docker := NewDockerEngine(); docker.Available() {
		return docker, nil
	}
	return nil, &EngineNotAvailableError{
		Engine: "any",
		Reason: "no container engine (podman or docker) is available on this system",
	}
}

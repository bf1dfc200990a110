// SPDX-License-Identifier: MPL-2.0

// Package container wraps the docker and podman CLIs for the one operation
// the generator needs from a container engine: asking its compose
// implementation whether a manifest is valid.
//
// Engine selection uses NewEngine(EngineType) with automatic fallback if the
// preferred engine is unavailable, or AutoDetectEngine() for preference-less
// detection (Podman is tried first).
package container

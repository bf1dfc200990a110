// SPDX-License-Identifier: MPL-2.0

// Package installer runs the installation as a sequence of named steps.
//
// Each step is guarded by a checkpoint: a completed step is skipped on the
// next run, and a step that fails or is interrupted leaves no checkpoint, so
// a re-run repeats it from the start. Steps declare dependencies and run in
// topological order.
package installer

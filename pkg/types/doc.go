// SPDX-License-Identifier: MPL-2.0

// Package types defines small value types shared by the installer packages
// (exit codes, step names, variable names). Each type carries
// its own validation and a sentinel error for errors.Is detection.
//
// This package is a leaf dependency: it imports only the standard library.
package types

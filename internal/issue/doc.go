// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly messages.
//
// It defines the installer's error taxonomy (configuration and validation
// failures), the ActionableError type that carries operation, resource and
// remediation hints, and a catalog of Markdown-formatted guidance rendered with
// glamour when a step fails.
package issue

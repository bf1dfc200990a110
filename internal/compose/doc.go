// SPDX-License-Identifier: MPL-2.0

// Package compose renders the compose manifest from its template and the
// resolved image tags, validates the result and installs it.
//
// A new manifest only replaces the previous one after it has passed both the
// structural check (required top-level sections) and the syntactic gate. The
// previous manifest is copied to a timestamped backup before it is replaced.
package compose

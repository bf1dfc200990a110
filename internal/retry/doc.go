// SPDX-License-Identifier: MPL-2.0

// Package retry provides a bounded retry combinator with exponential backoff.
//
// Do runs an operation until it succeeds, fails permanently, exhausts the
// policy's attempt budget, or the context is cancelled. Exhaustion and
// cancellation are reported as distinct error types so callers can tell
// "gave up" from "was told to stop".
package retry

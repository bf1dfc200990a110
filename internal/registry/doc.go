// SPDX-License-Identifier: MPL-2.0

// Package registry answers whether a container image can be pulled right now.
//
// A Prober issues one manifest HEAD request per attempt against the image's
// registry and retries network-layer failures with a short backoff policy.
// An authoritative "not found" from the registry is final and is never
// retried; failures that persist after the retry budget are reported as
// Unknown rather than Unavailable.
package registry

// SPDX-License-Identifier: MPL-2.0

// Package fallback picks a pullable image for every required service.
//
// The primary image is probed first. If it is not available, the ordered
// alternatives recorded for it in the Database are probed in declaration
// order and the first available one wins. When nothing is available the
// image's hardcoded default is used and the result is marked degraded, so a
// resolution always yields a concrete reference.
package fallback

// SPDX-License-Identifier: MPL-2.0

package registry

// Availability is the outcome of a probe.
type Availability int

const (
	// Unknown means every attempt failed at the network layer; the image
	// may or may not exist.
	Unknown Availability = iota
	// Available means the registry returned the manifest.
	Available
	// Unavailable means the registry authoritatively refused the image
	// (not found, or not pullable anonymously), or the reference is invalid.
	Unavailable
)

// String returns a lowercase label, also used as the metrics label value.
func (a Availability) String() string {
	switch a {
	case Available:
		return "available"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

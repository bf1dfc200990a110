// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"fmt"

	"github.com/distribution/reference"
)

// dockerHubHost is the API endpoint behind the docker.io name.
const dockerHubHost = "registry-1.docker.io"

// Reference is a fully qualified image reference split into the parts a
// registry request needs.
type Reference struct {
	// Registry is the API host, e.g. "ghcr.io" or "registry-1.docker.io".
	Registry string
	// Repository is the repository path, e.g. "library/nginx".
	Repository string
	// Reference is a tag or a digest.
	Reference string
	// Normalized is the canonical familiar form, e.g. "docker.io/library/nginx:latest".
	Normalized string
}

// ParseReference normalises a compose-style image reference. Short Docker
// Hub names gain the docker.io registry and library/ prefix, and references
// without a tag or digest default to ":latest".
func ParseReference(s string) (Reference, error) {
	named, err := reference.ParseNormalizedNamed(s)
	if err != nil {
		return Reference{}, fmt.Errorf("parse image reference %q: %w", s, err)
	}
	named = reference.TagNameOnly(named)

	ref := Reference{
		Registry:   reference.Domain(named),
		Repository: reference.Path(named),
		Normalized: named.String(),
	}
	if ref.Registry == "docker.io" {
		ref.Registry = dockerHubHost
	}

	switch v := named.(type) {
	case reference.Canonical:
		ref.Reference = v.Digest().String()
	case reference.Tagged:
		ref.Reference = v.Tag()
	}
	return ref, nil
}

// String returns the normalised reference.
func (r Reference) String() string { return r.Normalized }

// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"net/http"
	"slices"
	"time"

	orasregistry "oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
)

const userAgent = "rtpi"

type (
	// Checker performs a single manifest lookup. It returns nil when the
	// manifest exists. Errors are raw and are classified by the Prober.
	Checker interface {
		Check(ctx context.Context, ref Reference) error
	}

	// CheckerFunc adapts a function to Checker.
	CheckerFunc func(ctx context.Context, ref Reference) error

	// RemoteChecker resolves manifests with anonymous OCI distribution
	// requests. The embedded HTTP client does not retry: retries belong to
	// the Prober's policy.
	RemoteChecker struct {
		client     *auth.Client
		plainHosts []string
	}

	// RemoteOption configures a RemoteChecker.
	RemoteOption func(*RemoteChecker)
)

// Check calls f.
func (f CheckerFunc) Check(ctx context.Context, ref Reference) error { return f(ctx, ref) }

// WithPlainHTTPHosts talks plain HTTP only to the listed registry hosts
// (host or host:port), which is what local mirrors usually need.
func WithPlainHTTPHosts(hosts ...string) RemoteOption {
	return func(c *RemoteChecker) { c.plainHosts = append(c.plainHosts, hosts...) }
}

// WithHTTPClient replaces the transport-level client.
func WithHTTPClient(hc *http.Client) RemoteOption {
	return func(c *RemoteChecker) { c.client.Client = hc }
}

// NewRemoteChecker creates a checker that issues anonymous manifest HEAD
// requests. Bearer tokens for anonymous pulls are negotiated and cached.
func NewRemoteChecker(opts ...RemoteOption) *RemoteChecker {
	c := &RemoteChecker{
		client: &auth.Client{
			Client: &http.Client{Timeout: 30 * time.Second},
			Header: http.Header{"User-Agent": {userAgent}},
			Cache:  auth.NewCache(),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check resolves the manifest descriptor of ref.
func (c *RemoteChecker) Check(ctx context.Context, ref Reference) error {
	repo := &remote.Repository{
		Reference: orasregistry.Reference{
			Registry:   ref.Registry,
			Repository: ref.Repository,
			Reference:  ref.Reference,
		},
		Client:    c.client,
		PlainHTTP: slices.Contains(c.plainHosts, ref.Registry),
	}
	_, err := repo.Resolve(ctx, ref.Reference)
	return err
}

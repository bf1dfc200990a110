// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote/errcode"
)

var (
	// ErrNotFound marks an authoritative negative answer from the registry.
	// Probes that hit it are not retried.
	ErrNotFound = errors.New("image not available in registry")

	// ErrTransient marks a network-layer or server-side failure worth
	// retrying.
	ErrTransient = errors.New("transient registry error")
)

// Classify maps a raw probe error onto ErrNotFound or ErrTransient. Context
// cancellation is returned unchanged: retrying a cancelled probe is never
// useful.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTransient) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, errdef.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var resp *errcode.ErrorResponse
	if errors.As(err, &resp) {
		if isDefinitiveStatus(resp.StatusCode) {
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}

	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err is a network-layer failure: DNS errors,
// refused or reset connections, and timeouts. Errors Classify cannot place
// elsewhere are retried too, so the Prober only reports it in its logs.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "TLS handshake timeout") ||
		strings.Contains(errStr, "EOF")
}

// isDefinitiveStatus reports whether an HTTP status is a final answer about
// the image. Probes are anonymous, so 401 and 403 mean "not pullable here"
// just like 404. Timeouts, throttling and server errors are retried.
func isDefinitiveStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return false
	case code >= 400 && code < 500:
		return true
	default:
		return false
	}
}

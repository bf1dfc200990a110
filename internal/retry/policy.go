// SPDX-License-Identifier: MPL-2.0

package retry

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidPolicy is the sentinel error wrapped by InvalidPolicyError.
var ErrInvalidPolicy = errors.New("invalid retry policy")

type (
	// Policy bounds a single Do invocation. It is not persisted.
	Policy struct {
		// MaxAttempts is the total number of invocations allowed (>= 1).
		MaxAttempts int
		// BaseDelay is the sleep after the first failure.
		BaseDelay time.Duration
		// Multiplier scales the delay after each further failure (>= 1).
		// Zero is treated as 2.
		Multiplier float64
		// MaxDelay caps the computed delay before jitter. Zero means no cap.
		MaxDelay time.Duration
		// Jitter adds a random duration in [0, delay] to every sleep.
		Jitter bool
	}

	// InvalidPolicyError is returned when a Policy cannot drive Do.
	InvalidPolicyError struct {
		Field  string
		Reason string
	}
)

// DefaultPolicy returns the policy used for registry probes: few attempts,
// short backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    2 * time.Second,
		Jitter:      true,
	}
}

// Error implements the error interface.
func (e *InvalidPolicyError) Error() string {
	return fmt.Sprintf("invalid retry policy: %s %s", e.Field, e.Reason)
}

// Unwrap returns ErrInvalidPolicy for errors.Is() compatibility.
func (e *InvalidPolicyError) Unwrap() error { return ErrInvalidPolicy }

// Validate reports the first field that makes the policy unusable.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return &InvalidPolicyError{Field: "max_attempts", Reason: "must be at least 1"}
	case p.BaseDelay < 0:
		return &InvalidPolicyError{Field: "base_delay", Reason: "must not be negative"}
	case p.Multiplier != 0 && p.Multiplier < 1:
		return &InvalidPolicyError{Field: "multiplier", Reason: "must be at least 1"}
	case p.MaxDelay < 0:
		return &InvalidPolicyError{Field: "max_delay", Reason: "must not be negative"}
	}
	return nil
}

// Delay returns the backoff before the attempt following failed attempt n
// (1-based), without jitter: min(MaxDelay, BaseDelay * Multiplier^(n-1)).
func (p Policy) Delay(n int) time.Duration {
	if n < 1 || p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult == 0 {
		mult = 2
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(n-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// SPDX-License-Identifier: MPL-2.0

package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

var (
	// ErrExhausted is matched by errors returned when every attempt failed.
	ErrExhausted = errors.New("retry attempts exhausted")
	// ErrCancelled is matched by errors returned when the context ended
	// before an attempt succeeded.
	ErrCancelled = errors.New("retry cancelled")
)

type (
	// Clock supplies the timer Do sleeps on. It is satisfied by
	// testutil.FakeClock.
	Clock interface {
		After(d time.Duration) <-chan time.Time
	}

	// Option customises a single Do invocation.
	Option func(*options)

	// ExhaustedError is returned after MaxAttempts failed invocations.
	// It unwraps to the last operation error.
	ExhaustedError struct {
		Attempts int
		Last     error
	}

	// CancelledError is returned when the context is done before success.
	// It unwraps to both the context error and the last operation error.
	CancelledError struct {
		Attempts int
		Cause    error
		Last     error
	}

	permanentError struct {
		err error
	}

	options struct {
		clock  Clock
		jitter func(limit time.Duration) time.Duration
		notify func(attempt int, err error, delay time.Duration)
	}

	realClock struct{}
)

// WithClock replaces the wall clock used for backoff sleeps.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithJitterSource replaces the random source used for jitter. fn must return
// a value in [0, limit].
func WithJitterSource(fn func(limit time.Duration) time.Duration) Option {
	return func(o *options) { o.jitter = fn }
}

// WithNotify registers a callback invoked after each failed attempt that will
// be retried, with the delay about to be slept.
func WithNotify(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(o *options) { o.notify = fn }
}

// Permanent marks err as not worth retrying. Do returns the wrapped error
// unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do invokes op until it succeeds, returns a Permanent error, fails
// p.MaxAttempts times, or ctx is done. attempt is 1-based. On success after
// k attempts op has been called exactly k times.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error), opts ...Option) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}

	o := options{clock: realClock{}, jitter: uniformJitter}
	for _, opt := range opts {
		opt(&o)
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, &CancelledError{Attempts: attempt - 1, Cause: err, Last: lastErr}
		}

		v, err := op(ctx, attempt)
		if err == nil {
			return v, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		if p.Jitter && delay > 0 {
			delay += o.jitter(delay)
		}
		if o.notify != nil {
			o.notify(attempt, err, delay)
		}
		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return zero, &CancelledError{Attempts: attempt, Cause: ctx.Err(), Last: lastErr}
		case <-o.clock.After(delay):
		}
	}

	return zero, &ExhaustedError{Attempts: p.MaxAttempts, Last: lastErr}
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

// Is reports ErrExhausted.
func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Unwrap returns the last operation error.
func (e *ExhaustedError) Unwrap() error { return e.Last }

// Error implements the error interface.
func (e *CancelledError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("retry aborted after %d attempts: %v (last error: %v)", e.Attempts, e.Cause, e.Last)
	}
	return fmt.Sprintf("retry aborted after %d attempts: %v", e.Attempts, e.Cause)
}

// Is reports ErrCancelled.
func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

// Unwrap returns the context error and the last operation error.
func (e *CancelledError) Unwrap() []error {
	if e.Last == nil {
		return []error{e.Cause}
	}
	return []error{e.Cause, e.Last}
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func uniformJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit + 1)
}

// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"time"

	"rtpi-cli/internal/metrics"
	"rtpi-cli/internal/retry"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// DefaultAttemptTimeout bounds a single registry round trip.
const DefaultAttemptTimeout = 10 * time.Second

type (
	// Prober answers whether image references can be pulled. It is safe for
	// concurrent use. Definitive answers are cached for the lifetime of the
	// Prober; Unknown is never cached.
	Prober struct {
		checker   Checker
		policy    retry.Policy
		retryOpts []retry.Option
		limiter   *rate.Limiter
		timeout   time.Duration
		logger    *log.Logger
		metrics   *metrics.Metrics

		group singleflight.Group
		mu    sync.Mutex
		cache map[string]Availability
	}

	// ProberOption configures a Prober.
	ProberOption func(*Prober)
)

// WithChecker replaces the registry client.
func WithChecker(c Checker) ProberOption {
	return func(p *Prober) { p.checker = c }
}

// WithPolicy replaces the retry policy applied to each probe.
func WithPolicy(policy retry.Policy) ProberOption {
	return func(p *Prober) { p.policy = policy }
}

// WithRetryOptions passes options through to retry.Do (fake clocks in tests).
func WithRetryOptions(opts ...retry.Option) ProberOption {
	return func(p *Prober) { p.retryOpts = append(p.retryOpts, opts...) }
}

// WithRateLimit limits registry round trips across all concurrent probes.
// A nil limiter disables limiting.
func WithRateLimit(l *rate.Limiter) ProberOption {
	return func(p *Prober) { p.limiter = l }
}

// WithAttemptTimeout bounds each round trip. Zero disables the bound.
func WithAttemptTimeout(d time.Duration) ProberOption {
	return func(p *Prober) { p.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) ProberOption {
	return func(p *Prober) { p.logger = l }
}

// WithMetrics records probe outcomes and attempts.
func WithMetrics(m *metrics.Metrics) ProberOption {
	return func(p *Prober) { p.metrics = m }
}

// NewProber creates a Prober. Without options it talks to real registries
// over HTTPS with retry.DefaultPolicy.
func NewProber(opts ...ProberOption) *Prober {
	p := &Prober{
		policy:  retry.DefaultPolicy(),
		timeout: DefaultAttemptTimeout,
		cache:   make(map[string]Availability),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.checker == nil {
		p.checker = NewRemoteChecker()
	}
	if p.logger == nil {
		p.logger = log.New(io.Discard)
	}
	return p
}

// Probe reports whether ref can be pulled. An unparsable reference is
// Unavailable. A 404 (or an anonymous 401/403) is Unavailable without retry.
// Network and server errors are retried per the policy and end as Unknown
// when attempts run out or ctx is done.
func (p *Prober) Probe(ctx context.Context, ref string) Availability {
	parsed, err := ParseReference(ref)
	if err != nil {
		p.logger.Warn("invalid image reference", "image", ref, "err", err)
		p.metrics.ProbeFinished(Unavailable.String())
		return Unavailable
	}

	if a, ok := p.cached(parsed.Normalized); ok {
		return a
	}

	v, _, _ := p.group.Do(parsed.Normalized, func() (any, error) {
		a := p.probe(ctx, parsed)
		if a != Unknown {
			p.mu.Lock()
			p.cache[parsed.Normalized] = a
			p.mu.Unlock()
		}
		return a, nil
	})
	return v.(Availability)
}

func (p *Prober) probe(ctx context.Context, ref Reference) Availability {
	notify := retry.WithNotify(func(attempt int, err error, delay time.Duration) {
		p.logger.Debug("probe failed, retrying", "image", ref.Normalized, "attempt", attempt, "delay", delay, "err", err)
	})
	opts := slices.Concat(p.retryOpts, []retry.Option{notify})

	_, err := retry.Do(ctx, p.policy, func(ctx context.Context, _ int) (struct{}, error) {
		return struct{}{}, p.attempt(ctx, ref)
	}, opts...)

	var a Availability
	switch {
	case err == nil:
		a = Available
		p.logger.Debug("image available", "image", ref.Normalized)
	case errors.Is(err, ErrNotFound):
		a = Unavailable
		p.logger.Info("image unavailable", "image", ref.Normalized, "err", err)
	default:
		a = Unknown
		p.logger.Warn("image availability unknown", "image", ref.Normalized, "network", IsTransient(err), "err", err)
	}
	p.metrics.ProbeFinished(a.String())
	return a
}

// attempt performs one rate-limited round trip. Definitive answers and
// cancellation of the caller's context are marked permanent.
func (p *Prober) attempt(ctx context.Context, ref Reference) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
	}
	p.metrics.ProbeAttempt()

	actx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	err := Classify(p.checker.Check(actx, ref))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return retry.Permanent(err)
	case ctx.Err() != nil:
		return retry.Permanent(ctx.Err())
	}
	return err
}

func (p *Prober) cached(key string) (Availability, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.cache[key]
	return a, ok
}

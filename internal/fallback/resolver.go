// SPDX-License-Identifier: MPL-2.0

package fallback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"rtpi-cli/internal/issue"
	"rtpi-cli/internal/metrics"
	"rtpi-cli/internal/registry"
	"rtpi-cli/pkg/types"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds concurrent resolutions in ResolveAll.
const DefaultWorkers = 4

// ErrResolutionExhausted is matched by the warning of a degraded ResolvedTag:
// neither the primary nor any alternative was available.
var ErrResolutionExhausted = errors.New("no available image in fallback chain")

const (
	// SourcePrimary means the primary image was available.
	SourcePrimary Source = "primary"
	// SourceFallback means an alternative from the database was available.
	SourceFallback Source = "fallback"
	// SourceDefault means the hardcoded default was used.
	SourceDefault Source = "default"
)

type (
	// Source records where a resolved image came from.
	Source string

	// Prober reports image availability. *registry.Prober satisfies it.
	Prober interface {
		Probe(ctx context.Context, ref string) registry.Availability
	}

	// Candidate is one probed reference and its outcome.
	Candidate struct {
		Image        string
		Availability registry.Availability
	}

	// ResolvedTag is the image chosen for one variable. Image is never
	// empty.
	ResolvedTag struct {
		Variable types.VariableName
		Image    string
		Source   Source
		Degraded bool
		// Probed lists every candidate probed, in order.
		Probed []Candidate
	}

	// ExhaustedError explains a degraded resolution.
	ExhaustedError struct {
		Variable types.VariableName
		Primary  string
		Used     string
		Probed   []Candidate
	}

	// Resolver walks fallback chains. It is safe for concurrent use.
	Resolver struct {
		db      *Database
		prober  Prober
		logger  *log.Logger
		metrics *metrics.Metrics
		workers int
	}

	// Option configures a Resolver.
	Option func(*Resolver)
)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithMetrics counts resolutions by source.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithWorkers bounds concurrent resolutions in ResolveAll. Values below 1
// mean sequential.
func WithWorkers(n int) Option {
	return func(r *Resolver) { r.workers = max(n, 1) }
}

// NewResolver creates a Resolver over db using prober.
func NewResolver(db *Database, prober Prober, opts ...Option) *Resolver {
	r := &Resolver{db: db, prober: prober, workers: DefaultWorkers}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.New(io.Discard)
	}
	return r
}

// Resolve picks the image for img. The first available candidate in
// declaration order wins, regardless of which answered first. With no
// available candidate the result is degraded and uses img.Default, or the
// last candidate of the chain when no default is set.
//
// An invalid declaration is a ConfigError. When ctx is done before a
// candidate is found the walk stops and ctx's error is returned instead of a
// degraded result.
func (r *Resolver) Resolve(ctx context.Context, img Image) (ResolvedTag, error) {
	if err := validateImage(img); err != nil {
		return ResolvedTag{}, issue.NewConfigError("", "invalid image declaration", err)
	}
	candidates := r.chain(img.Primary)
	out := ResolvedTag{Variable: img.Variable}

	for i, ref := range candidates {
		if err := ctx.Err(); err != nil {
			return ResolvedTag{}, fmt.Errorf("resolve %s: %w", img.Variable, err)
		}
		a := r.prober.Probe(ctx, ref)
		out.Probed = append(out.Probed, Candidate{Image: ref, Availability: a})
		if a != registry.Available {
			continue
		}
		out.Image = ref
		out.Source = SourceFallback
		if i == 0 {
			out.Source = SourcePrimary
		}
		r.logger.Info("resolved image", "variable", img.Variable, "image", ref, "source", out.Source)
		r.metrics.Resolved(string(out.Source))
		return out, nil
	}

	// A probe cut short by cancellation answers Unknown, which says nothing
	// about the registry.
	if err := ctx.Err(); err != nil {
		return ResolvedTag{}, fmt.Errorf("resolve %s: %w", img.Variable, err)
	}

	out.Image = img.Default
	if out.Image == "" {
		out.Image = candidates[len(candidates)-1]
	}
	out.Source = SourceDefault
	out.Degraded = true
	r.logger.Warn("degraded image", "variable", img.Variable, "image", out.Image, "err", out.Warning())
	r.metrics.Resolved(string(out.Source))
	return out, nil
}

// ResolveAll resolves every image concurrently on a bounded pool and returns
// the results in input order. Duplicate or invalid variable names are a
// ConfigError and nothing is probed. Cancellation of ctx fails the whole
// batch; no partial results are returned.
func (r *Resolver) ResolveAll(ctx context.Context, images []Image) ([]ResolvedTag, error) {
	for _, img := range images {
		if err := validateImage(img); err != nil {
			return nil, issue.NewConfigError("", "invalid image declaration", err)
		}
	}
	if err := checkDuplicates(images); err != nil {
		return nil, err
	}

	results := make([]ResolvedTag, len(images))
	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, img := range images {
		g.Go(func() error {
			tag, err := r.Resolve(ctx, img)
			if err != nil {
				return err
			}
			results[i] = tag
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// chain returns the primary followed by its alternatives without repeats.
func (r *Resolver) chain(primary string) []string {
	out := []string{primary}
	seen := map[string]bool{primary: true}
	for _, alt := range r.db.Alternatives(primary) {
		if !seen[alt] {
			seen[alt] = true
			out = append(out, alt)
		}
	}
	return out
}

// Warning returns an *ExhaustedError for a degraded result, nil otherwise.
func (t ResolvedTag) Warning() error {
	if !t.Degraded {
		return nil
	}
	primary := ""
	if len(t.Probed) > 0 {
		primary = t.Probed[0].Image
	}
	return &ExhaustedError{Variable: t.Variable, Primary: primary, Used: t.Image, Probed: t.Probed}
}

// Warnings joins the warnings of every degraded result.
func Warnings(tags []ResolvedTag) error {
	var errs []error
	for _, t := range tags {
		if w := t.Warning(); w != nil {
			errs = append(errs, w)
		}
	}
	return errors.Join(errs...)
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Probed))
	for i, c := range e.Probed {
		parts[i] = fmt.Sprintf("%s (%s)", c.Image, c.Availability)
	}
	return fmt.Sprintf("%s: degraded image %s; tried %s", e.Variable, e.Used, strings.Join(parts, ", "))
}

// Unwrap returns ErrResolutionExhausted.
func (e *ExhaustedError) Unwrap() error { return ErrResolutionExhausted }

// SPDX-License-Identifier: MPL-2.0

package fallback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rtpi-cli/internal/issue"
	"rtpi-cli/internal/metrics"
	"rtpi-cli/internal/registry"
	"rtpi-cli/pkg/types"
)

// fakeProber answers from a fixed availability vector. References not in
// the vector are Unavailable.
type fakeProber struct {
	mu     sync.Mutex
	answer map[string]registry.Availability
	probed []string
}

func (f *fakeProber) Probe(_ context.Context, ref string) registry.Availability {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, ref)
	if a, ok := f.answer[ref]; ok {
		return a
	}
	return registry.Unavailable
}

func (f *fakeProber) Probed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.probed...)
}

func mustResolve(t *testing.T, r *Resolver, img Image) ResolvedTag {
	t.Helper()
	got, err := r.Resolve(context.Background(), img)
	if err != nil {
		t.Fatalf("Resolve(%s) error = %v", img.Variable, err)
	}
	return got
}

func testDatabase() *Database {
	return NewDatabase(map[string][]string{
		"foo/bar:latest": {"foo/bar:stable", "foo/bar:1.0"},
		"acme/web:2":     {"acme/web:2-rc", "acme/web:1"},
	}, nil)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		img        Image
		answer     map[string]registry.Availability
		wantImage  string
		wantSource Source
		wantProbed int
	}{
		{
			name:       "primary available",
			img:        Image{Variable: "BAR_IMAGE", Primary: "foo/bar:latest", Default: "foo/bar:0.9"},
			answer:     map[string]registry.Availability{"foo/bar:latest": registry.Available},
			wantImage:  "foo/bar:latest",
			wantSource: SourcePrimary,
			wantProbed: 1,
		},
		{
			name:       "first fallback available",
			img:        Image{Variable: "BAR_IMAGE", Primary: "foo/bar:latest", Default: "foo/bar:0.9"},
			answer:     map[string]registry.Availability{"foo/bar:stable": registry.Available},
			wantImage:  "foo/bar:stable",
			wantSource: SourceFallback,
			wantProbed: 2,
		},
		{
			name: "declaration order wins over later candidates",
			img:  Image{Variable: "BAR_IMAGE", Primary: "foo/bar:latest"},
			answer: map[string]registry.Availability{
				"foo/bar:stable": registry.Available,
				"foo/bar:1.0":    registry.Available,
			},
			wantImage:  "foo/bar:stable",
			wantSource: SourceFallback,
			wantProbed: 2,
		},
		{
			name: "unknown is skipped like unavailable",
			img:  Image{Variable: "BAR_IMAGE", Primary: "foo/bar:latest"},
			answer: map[string]registry.Availability{
				"foo/bar:latest": registry.Unknown,
				"foo/bar:stable": registry.Unknown,
				"foo/bar:1.0":    registry.Available,
			},
			wantImage:  "foo/bar:1.0",
			wantSource: SourceFallback,
			wantProbed: 3,
		},
		{
			name:       "image without chain and default unavailable",
			img:        Image{Variable: "DB_IMAGE", Primary: "postgres:17", Default: "postgres:16"},
			wantImage:  "postgres:16",
			wantSource: SourceDefault,
			wantProbed: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			prober := &fakeProber{answer: tt.answer}
			r := NewResolver(testDatabase(), prober)

			got := mustResolve(t, r, tt.img)
			if got.Image != tt.wantImage || got.Source != tt.wantSource {
				t.Fatalf("Resolve() = %s (%s), want %s (%s)", got.Image, got.Source, tt.wantImage, tt.wantSource)
			}
			if got.Variable != tt.img.Variable {
				t.Errorf("Variable = %q, want %q", got.Variable, tt.img.Variable)
			}
			if got.Degraded != (tt.wantSource == SourceDefault) {
				t.Errorf("Degraded = %v for source %s", got.Degraded, got.Source)
			}
			if n := len(prober.Probed()); n != tt.wantProbed {
				t.Errorf("probed %d candidates (%v), want %d", n, prober.Probed(), tt.wantProbed)
			}
		})
	}
}

func TestResolve_ExhaustedUsesDefault(t *testing.T) {
	t.Parallel()

	r := NewResolver(testDatabase(), &fakeProber{})
	got := mustResolve(t, r, Image{Variable: "BAR_IMAGE", Primary: "foo/bar:latest", Default: "foo/bar:0.9"})

	if got.Image != "foo/bar:0.9" || !got.Degraded || got.Source != SourceDefault {
		t.Fatalf("Resolve() = %+v, want degraded default foo/bar:0.9", got)
	}
	warn := got.Warning()
	if !errors.Is(warn, ErrResolutionExhausted) {
		t.Fatalf("Warning() = %v, want ErrResolutionExhausted", warn)
	}
	var ex *ExhaustedError
	if !errors.As(warn, &ex) || ex.Primary != "foo/bar:latest" || len(ex.Probed) != 3 {
		t.Fatalf("Warning() = %#v", warn)
	}
}

func TestResolve_NoDefaultUsesLastCandidate(t *testing.T) {
	t.Parallel()

	r := NewResolver(testDatabase(), &fakeProber{})

	got := mustResolve(t, r, Image{Variable: "WEB_IMAGE", Primary: "acme/web:2"})
	if got.Image != "acme/web:1" || !got.Degraded {
		t.Fatalf("Resolve() = %+v, want degraded acme/web:1", got)
	}

	got = mustResolve(t, r, Image{Variable: "SOLO_IMAGE", Primary: "acme/solo:3"})
	if got.Image != "acme/solo:3" || !got.Degraded {
		t.Fatalf("Resolve() = %+v, want degraded primary", got)
	}
}

func TestResolve_NeverEmpty(t *testing.T) {
	t.Parallel()

	vectors := []map[string]registry.Availability{
		nil,
		{"foo/bar:latest": registry.Unknown},
		{"foo/bar:1.0": registry.Available},
		{"foo/bar:latest": registry.Available, "foo/bar:1.0": registry.Available},
	}
	for i, v := range vectors {
		for _, img := range []Image{
			{Variable: "A", Primary: "foo/bar:latest"},
			{Variable: "B", Primary: "foo/bar:latest", Default: "foo/bar:0.1"},
			{Variable: "C", Primary: "other/img:1"},
		} {
			got := mustResolve(t, NewResolver(testDatabase(), &fakeProber{answer: v}), img)
			if got.Image == "" {
				t.Fatalf("vector %d, %s: empty image", i, img.Variable)
			}
		}
	}
}

func TestResolve_Deterministic(t *testing.T) {
	t.Parallel()

	answer := map[string]registry.Availability{
		"foo/bar:latest": registry.Unknown,
		"foo/bar:stable": registry.Unavailable,
		"foo/bar:1.0":    registry.Available,
	}
	img := Image{Variable: "BAR_IMAGE", Primary: "foo/bar:latest", Default: "foo/bar:0.9"}
	first := mustResolve(t, NewResolver(testDatabase(), &fakeProber{answer: answer}), img)
	for range 20 {
		got := mustResolve(t, NewResolver(testDatabase(), &fakeProber{answer: answer}), img)
		if got.Image != first.Image || got.Source != first.Source || got.Degraded != first.Degraded {
			t.Fatalf("non-deterministic resolution: %+v vs %+v", got, first)
		}
	}
}

func TestResolve_NormalisedChainLookup(t *testing.T) {
	t.Parallel()

	db := NewDatabase(map[string][]string{"docker.io/library/redis:8": {"redis:7"}}, nil)
	prober := &fakeProber{answer: map[string]registry.Availability{"redis:7": registry.Available}}

	got := mustResolve(t, NewResolver(db, prober), Image{Variable: "REDIS_IMAGE", Primary: "redis:8"})
	if got.Image != "redis:7" || got.Source != SourceFallback {
		t.Fatalf("Resolve() = %+v, want fallback redis:7", got)
	}
}

func TestResolve_Metrics(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	prober := &fakeProber{answer: map[string]registry.Availability{"foo/bar:stable": registry.Available}}
	r := NewResolver(testDatabase(), prober, WithMetrics(m))
	mustResolve(t, r, Image{Variable: "A", Primary: "foo/bar:latest"})
	mustResolve(t, r, Image{Variable: "B", Primary: "none/img:1", Default: "none/img:0"})

	if got := m.Count("image_resolutions_total", "fallback"); got != 1 {
		t.Errorf("fallback resolutions = %v, want 1", got)
	}
	if got := m.Count("image_resolutions_total", "default"); got != 1 {
		t.Errorf("default resolutions = %v, want 1", got)
	}
}

// cancellingProber cancels the run on its first probe and answers Unknown,
// like a registry request cut short by the interrupt.
type cancellingProber struct {
	fakeProber
	cancel context.CancelFunc
}

func (c *cancellingProber) Probe(ctx context.Context, ref string) registry.Availability {
	c.fakeProber.Probe(ctx, ref)
	c.cancel()
	return registry.Unknown
}

func TestResolve_InvalidDeclaration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		img  Image
	}{
		{name: "empty image", img: Image{Variable: "APP_IMAGE"}},
		{name: "empty everything", img: Image{}},
		{name: "bad variable", img: Image{Variable: "1APP", Primary: "acme/app:1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			prober := &fakeProber{}
			got, err := NewResolver(testDatabase(), prober).Resolve(context.Background(), tt.img)
			if !errors.Is(err, issue.ErrConfig) {
				t.Fatalf("Resolve() error = %v, want ErrConfig", err)
			}
			if got.Image != "" || len(prober.Probed()) != 0 {
				t.Errorf("Resolve() = %+v after probing %v, want nothing", got, prober.Probed())
			}
		})
	}
}

func TestResolve_CancelledIsNotDegraded(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	prober := &cancellingProber{cancel: cancel}
	m := metrics.New()

	got, err := NewResolver(testDatabase(), prober, WithMetrics(m)).Resolve(ctx,
		Image{Variable: "BAR_IMAGE", Primary: "foo/bar:latest", Default: "foo/bar:0.9"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Resolve() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrResolutionExhausted) || got.Degraded || got.Image != "" {
		t.Fatalf("cancellation reported as a resolution: %+v, %v", got, err)
	}
	if probed := prober.Probed(); len(probed) != 1 {
		t.Errorf("chain walk continued after cancellation: %v", probed)
	}
	if n := m.Count("image_resolutions_total", "default"); n != 0 {
		t.Errorf("default resolutions = %v, want 0", n)
	}
}

func TestResolveAll_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	images := []Image{
		{Variable: "BAR_IMAGE", Primary: "foo/bar:latest", Default: "foo/bar:0.9"},
		{Variable: "WEB_IMAGE", Primary: "acme/web:2", Default: "acme/web:1"},
	}

	got, err := NewResolver(testDatabase(), &cancellingProber{cancel: cancel}, WithWorkers(1)).ResolveAll(ctx, images)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ResolveAll() error = %v, want context.Canceled", err)
	}
	if got != nil {
		t.Fatalf("ResolveAll() = %+v, want no results", got)
	}
}

func TestResolveAll_PreservesOrder(t *testing.T) {
	t.Parallel()

	var images []Image
	answer := map[string]registry.Availability{}
	for i := range 12 {
		ref := fmt.Sprintf("acme/svc%d:1", i)
		images = append(images, Image{Variable: variableFor(i), Primary: ref})
		answer[ref] = registry.Available
	}

	got, err := NewResolver(testDatabase(), &fakeProber{answer: answer}, WithWorkers(3)).ResolveAll(context.Background(), images)
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	for i, tag := range got {
		if tag.Variable != images[i].Variable || tag.Image != images[i].Primary {
			t.Fatalf("result %d = %+v, want %s=%s", i, tag, images[i].Variable, images[i].Primary)
		}
	}
}

// boundedProber blocks each probe briefly and records peak concurrency.
type boundedProber struct {
	inflight atomic.Int32
	peak     atomic.Int32
}

func (b *boundedProber) Probe(context.Context, string) registry.Availability {
	n := b.inflight.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	b.inflight.Add(-1)
	return registry.Available
}

func TestResolveAll_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	var images []Image
	for i := range 10 {
		images = append(images, Image{Variable: variableFor(i), Primary: fmt.Sprintf("acme/svc%d:1", i)})
	}
	prober := &boundedProber{}
	if _, err := NewResolver(testDatabase(), prober, WithWorkers(2)).ResolveAll(context.Background(), images); err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	if peak := prober.peak.Load(); peak > 2 {
		t.Fatalf("peak concurrency %d exceeds 2 workers", peak)
	}
}

func TestResolveAll_RejectsDuplicates(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{}
	_, err := NewResolver(testDatabase(), prober).ResolveAll(context.Background(), []Image{
		{Variable: "APP_IMAGE", Primary: "acme/a:1"},
		{Variable: "APP_IMAGE", Primary: "acme/b:1"},
	})
	if !errors.Is(err, issue.ErrConfig) {
		t.Fatalf("expected ErrConfig, got: %v", err)
	}
	if len(prober.Probed()) != 0 {
		t.Fatalf("nothing should be probed on a config error, probed %v", prober.Probed())
	}
}

func TestWarnings(t *testing.T) {
	t.Parallel()

	tags := []ResolvedTag{
		{Variable: "A", Image: "a:1", Source: SourcePrimary},
		{Variable: "B", Image: "b:0", Source: SourceDefault, Degraded: true, Probed: []Candidate{{Image: "b:1", Availability: registry.Unknown}}},
	}
	err := Warnings(tags)
	if !errors.Is(err, ErrResolutionExhausted) {
		t.Fatalf("Warnings() = %v", err)
	}
	if Warnings(tags[:1]) != nil {
		t.Fatal("no warnings expected without degraded tags")
	}
}

func variableFor(i int) types.VariableName {
	return types.VariableName(fmt.Sprintf("SVC%d_IMAGE", i))
}

// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"rtpi-cli/internal/checkpoint"
	"rtpi-cli/internal/config"
	"rtpi-cli/internal/container"
	"rtpi-cli/internal/installer"
	"rtpi-cli/internal/issue"
	"rtpi-cli/internal/registry"
	"rtpi-cli/internal/retry"
	"rtpi-cli/internal/testutil"
	"rtpi-cli/pkg/types"
)

const (
	testDatabase = `[fallbacks]
"ghcr.io/acme/app:latest" = "ghcr.io/acme/app:stable,ghcr.io/acme/app:1.4"

[[images]]
variable = "APP_IMAGE"
image    = "ghcr.io/acme/app:latest"
default  = "ghcr.io/acme/app:1.0"
service  = "app"

[[images]]
variable = "DB_IMAGE"
image    = "docker.io/library/postgres:16"
default  = "docker.io/library/postgres:15"
service  = "db"
`

	testTemplate = `services:
  app:
    image: ${APP_IMAGE}
    profiles: ["web"]
  db:
    image: ${DB_IMAGE:-postgres:latest}
networks:
  default: {}
volumes:
  data:
`
)

type (
	staticConfig struct {
		cfg *config.Config
		err error
	}

	// countingChecker answers available for the listed references and
	// not-found for everything else.
	countingChecker struct {
		mu        sync.Mutex
		available []string
		calls     int
	}

	fixture struct {
		dir     string
		cfg     *config.Config
		checker *countingChecker
		stdout  *bytes.Buffer
		stderr  *bytes.Buffer
		app     *App
	}

	rejectingEngine struct{}
)

func (s staticConfig) Load(context.Context, config.LoadOptions) (*config.Config, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	c := *s.cfg
	return &c, "", nil
}

func (c *countingChecker) Check(_ context.Context, ref registry.Reference) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if slices.Contains(c.available, ref.Normalized) {
		return nil
	}
	return fmt.Errorf("%w: manifest unknown", registry.ErrNotFound)
}

func (c *countingChecker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (rejectingEngine) Name() string                            { return "fake" }
func (rejectingEngine) Available() bool                         { return true }
func (rejectingEngine) Version(context.Context) (string, error) { return "1.0", nil }
func (rejectingEngine) ComposeConfig(_ context.Context, file string) error {
	return &container.ComposeError{Engine: "fake", File: file, Output: "services.app: image must be a string", Err: errors.New("exit status 1")}
}

func newFixture(t *testing.T, available ...string) *fixture {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Paths = config.PathsConfig{
		Template:      filepath.Join(dir, "docker-compose.template.yml"),
		Output:        filepath.Join(dir, "docker-compose.yml"),
		TagsFile:      filepath.Join(dir, ".env.images"),
		FallbackDB:    filepath.Join(dir, "images.toml"),
		CheckpointDir: filepath.Join(dir, ".rtpi", "checkpoints"),
	}
	cfg.Probe.Attempts = 1
	cfg.Probe.RateLimit = 0

	testutil.WriteFile(t, dir, "images.toml", testDatabase)
	testutil.WriteFile(t, dir, "docker-compose.template.yml", testTemplate)

	f := &fixture{
		dir:     dir,
		cfg:     cfg,
		checker: &countingChecker{available: available},
		stdout:  &bytes.Buffer{},
		stderr:  &bytes.Buffer{},
	}
	f.app = NewApp(Dependencies{
		Config:  staticConfig{cfg: cfg},
		Checker: f.checker,
		Stdout:  f.stdout,
		Stderr:  f.stderr,
	})
	return f
}

func (f *fixture) run(t *testing.T, args ...string) int {
	t.Helper()
	f.stdout.Reset()
	f.stderr.Reset()
	return run(context.Background(), f.app, args)
}

func (f *fixture) path(name string) string { return filepath.Join(f.dir, name) }

var allAvailable = []string{"ghcr.io/acme/app:latest", "docker.io/library/postgres:16"}

func TestRun_GenerateIsDefault(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	testutil.WriteFile(t, f.dir, ".env.images", "APP_IMAGE=ghcr.io/acme/app:stable\n")

	if code := f.run(t); code != 0 {
		t.Fatalf("exit code = %d, stderr:\n%s", code, f.stderr)
	}
	out := testutil.ReadFile(t, f.path("docker-compose.yml"))
	for _, want := range []string{"image: ghcr.io/acme/app:stable", "image: docker.io/library/postgres:15"} {
		if !strings.Contains(out, want) {
			t.Errorf("manifest lacks %q:\n%s", want, out)
		}
	}
	if !strings.Contains(f.stdout.String(), "Wrote") {
		t.Errorf("stdout = %q", f.stdout)
	}

	if code := f.run(t, "generate"); code != 0 {
		t.Fatalf("second run exit code = %d", code)
	}
	if !strings.Contains(f.stdout.String(), "up to date") {
		t.Errorf("unchanged manifest should be reported as up to date, stdout = %q", f.stdout)
	}
}

func TestRun_GenerateFlags(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	testutil.WriteFile(t, f.dir, "docker-compose.yml", "previous")
	tmpl := testutil.WriteFile(t, f.dir, "alt.template.yml", "services: {}\nnetworks: {}\nvolumes: {}\n")
	out := f.path("nested/out.yml")

	if code := f.run(t, "generate", "--template", tmpl, "--output", out, "--no-backup"); code != 0 {
		t.Fatalf("exit code = %d, stderr:\n%s", code, f.stderr)
	}
	if got := testutil.ReadFile(t, out); !strings.HasPrefix(got, "services: {}") {
		t.Errorf("output = %q", got)
	}
	if got := testutil.ReadFile(t, f.path("docker-compose.yml")); got != "previous" {
		t.Errorf("configured output must be untouched, got %q", got)
	}
	matches, _ := filepath.Glob(out + ".bak.*")
	if len(matches) != 0 {
		t.Errorf("--no-backup created %v", matches)
	}
}

func TestRun_GenerateBacksUpPreviousManifest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	testutil.WriteFile(t, f.dir, "docker-compose.yml", "previous")

	if code := f.run(t); code != 0 {
		t.Fatalf("exit code = %d, stderr:\n%s", code, f.stderr)
	}
	matches, _ := filepath.Glob(f.path("docker-compose.yml.bak.*"))
	if len(matches) != 1 {
		t.Fatalf("backups = %v, want 1", matches)
	}
	if got := testutil.ReadFile(t, matches[0]); got != "previous" {
		t.Errorf("backup content = %q", got)
	}
}

func TestRun_GenerateFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		template string
		engine   bool
		want     types.ExitCode
	}{
		{name: "missing template", want: types.ExitConfig},
		{name: "missing section", template: "services: {}\nnetworks: {}\n", want: types.ExitValidation},
		{name: "malformed placeholder", template: "services:\n  app:\n    image: ${1BAD}\nnetworks: {}\nvolumes: {}\n", want: types.ExitConfig},
		{name: "invalid yaml", template: "services: [\nnetworks: {}\nvolumes: {}\n", want: types.ExitValidation},
		{name: "engine rejects", template: testTemplate, engine: true, want: types.ExitValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			if tt.template == "" {
				if err := os.Remove(f.cfg.Paths.Template); err != nil {
					t.Fatal(err)
				}
			} else {
				testutil.WriteFile(t, f.dir, "docker-compose.template.yml", tt.template)
			}
			if tt.engine {
				f.cfg.Compose.Validator = config.ValidatorEngine
				f.app.Engine = rejectingEngine{}
			}
			testutil.WriteFile(t, f.dir, "docker-compose.yml", "previous")

			if code := f.run(t, "generate"); code != int(tt.want) {
				t.Fatalf("exit code = %d, want %d, stderr:\n%s", code, tt.want, f.stderr)
			}
			if !strings.Contains(f.stderr.String(), "Error") {
				t.Errorf("stderr = %q", f.stderr)
			}
			if got := testutil.ReadFile(t, f.path("docker-compose.yml")); got != "previous" {
				t.Errorf("previous manifest was replaced: %q", got)
			}
		})
	}
}

func TestRun_Resolve(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "ghcr.io/acme/app:stable", "docker.io/library/postgres:16")

	if code := f.run(t, "resolve"); code != 0 {
		t.Fatalf("exit code = %d, stderr:\n%s", code, f.stderr)
	}
	written := testutil.ReadFile(t, f.path(".env.images"))
	for _, want := range []string{"APP_IMAGE=ghcr.io/acme/app:stable", "DB_IMAGE=docker.io/library/postgres:16"} {
		if !strings.Contains(written, want) {
			t.Errorf("tag file lacks %q:\n%s", want, written)
		}
	}
	if !strings.Contains(f.stdout.String(), "fallback") {
		t.Errorf("report should show the fallback source:\n%s", f.stdout)
	}
}

func TestRun_ResolveDegradedIsNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	if code := f.run(t, "resolve"); code != 0 {
		t.Fatalf("exit code = %d, stderr:\n%s", code, f.stderr)
	}
	written := testutil.ReadFile(t, f.path(".env.images"))
	if !strings.Contains(written, "APP_IMAGE=ghcr.io/acme/app:1.0") {
		t.Errorf("degraded image should use the default:\n%s", written)
	}
	if !strings.Contains(f.stderr.String(), "degraded") {
		t.Errorf("stderr should warn about degraded images:\n%s", f.stderr)
	}
}

func TestRun_ResolveInterruptedKeepsTagFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	good := "APP_IMAGE=ghcr.io/acme/app:stable\nDB_IMAGE=docker.io/library/postgres:16\n"
	testutil.WriteFile(t, f.dir, ".env.images", good)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.app.Checker = registry.CheckerFunc(func(ctx context.Context, _ registry.Reference) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})

	if code := run(ctx, f.app, []string{"resolve"}); code != int(types.ExitInterrupted) {
		t.Fatalf("exit code = %d, want %d, stderr:\n%s", code, types.ExitInterrupted, f.stderr)
	}
	if got := testutil.ReadFile(t, f.path(".env.images")); got != good {
		t.Errorf("interrupted resolve replaced the tag file:\n%s", got)
	}
	if strings.Contains(f.stdout.String(), "Wrote") {
		t.Errorf("interrupted resolve reported a write:\n%s", f.stdout)
	}
}

func TestRun_ResolveDryRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, allAvailable...)
	if code := f.run(t, "resolve", "--dry-run"); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if _, err := os.Stat(f.path(".env.images")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("dry run wrote the tag file: %v", err)
	}
}

func TestRun_ResolveMissingDatabase(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := os.Remove(f.cfg.Paths.FallbackDB); err != nil {
		t.Fatal(err)
	}
	if code := f.run(t, "resolve"); code != int(types.ExitConfig) {
		t.Fatalf("exit code = %d, want %d", code, types.ExitConfig)
	}
}

func TestRun_InstallResumesFromCheckpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, allAvailable...)

	if code := f.run(t, "install"); code != 0 {
		t.Fatalf("exit code = %d, stderr:\n%s", code, f.stderr)
	}
	if got := testutil.ReadFile(t, f.path("docker-compose.yml")); !strings.Contains(got, "image: ghcr.io/acme/app:latest") {
		t.Errorf("manifest:\n%s", got)
	}
	cps, err := checkpoint.New(f.cfg.Paths.CheckpointDir).List()
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 3 {
		t.Fatalf("checkpoints = %v, want 3", cps)
	}

	probes := f.checker.Calls()
	if code := f.run(t, "install"); code != 0 {
		t.Fatalf("second run exit code = %d", code)
	}
	if f.checker.Calls() != probes {
		t.Errorf("completed steps must not run again, probes %d -> %d", probes, f.checker.Calls())
	}
	if !strings.Contains(f.stdout.String(), string(installer.StatusSkipped)) {
		t.Errorf("report should list skipped steps:\n%s", f.stdout)
	}

	if code := f.run(t, "install", "--force"); code != 0 {
		t.Fatalf("forced run exit code = %d", code)
	}
	if f.checker.Calls() == probes {
		t.Error("--force must run every step")
	}
}

func TestRun_InstallFailureKeepsEarlierCheckpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, allAvailable...)
	testutil.WriteFile(t, f.dir, "docker-compose.template.yml", "services: {}\n")

	if code := f.run(t, "install"); code != int(types.ExitValidation) {
		t.Fatalf("exit code = %d, want %d, stderr:\n%s", code, types.ExitValidation, f.stderr)
	}
	store := checkpoint.New(f.cfg.Paths.CheckpointDir)
	for name, want := range map[types.StepName]bool{
		installer.StepResolveImages:  true,
		installer.StepWriteTags:      true,
		installer.StepRenderManifest: false,
	} {
		got, err := store.Has(name)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("Has(%s) = %v, want %v", name, got, want)
		}
	}
}

func TestRun_CheckpointsAndReset(t *testing.T) {
	t.Parallel()

	f := newFixture(t, allAvailable...)

	if code := f.run(t, "checkpoints"); code != 0 || !strings.Contains(f.stdout.String(), "No checkpoints") {
		t.Fatalf("exit code = %d, stdout:\n%s", code, f.stdout)
	}
	if code := f.run(t, "install"); code != 0 {
		t.Fatalf("install exit code = %d", code)
	}
	if code := f.run(t, "checkpoints"); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	for _, step := range []types.StepName{installer.StepResolveImages, installer.StepWriteTags, installer.StepRenderManifest} {
		if !strings.Contains(f.stdout.String(), string(step)) {
			t.Errorf("checkpoints output lacks %s:\n%s", step, f.stdout)
		}
	}

	if code := f.run(t, "reset"); code != 0 {
		t.Fatalf("reset exit code = %d", code)
	}
	cps, err := checkpoint.New(f.cfg.Paths.CheckpointDir).List()
	if err != nil || len(cps) != 0 {
		t.Errorf("after reset: %v, %v", cps, err)
	}
}

func TestRun_Validate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	good := testutil.WriteFile(t, f.dir, "good.yml", "services: {}\nnetworks: {}\nvolumes: {}\n")
	bad := testutil.WriteFile(t, f.dir, "bad.yml", "services: {}\n")

	if code := f.run(t, "validate", good); code != 0 {
		t.Errorf("valid manifest: exit code = %d, stderr:\n%s", code, f.stderr)
	}
	if code := f.run(t, "validate", bad); code != int(types.ExitValidation) {
		t.Errorf("invalid manifest: exit code = %d", code)
	}
	if code := f.run(t, "validate"); code != int(types.ExitConfig) {
		t.Errorf("missing manifest: exit code = %d", code)
	}
}

func TestRun_ValidateWithEngine(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Compose.Validator = config.ValidatorEngine
	f.app.Engine = rejectingEngine{}
	manifest := testutil.WriteFile(t, f.dir, "docker-compose.yml", "services: {}\nnetworks: {}\nvolumes: {}\n")

	if code := f.run(t, "--verbose", "validate", manifest); code != int(types.ExitValidation) {
		t.Fatalf("exit code = %d, want %d", code, types.ExitValidation)
	}
	stderr := f.stderr.String()
	if !strings.Contains(stderr, "engine=fake") || !strings.Contains(stderr, "version=1.0") {
		t.Errorf("debug log should name the engine and its version:\n%s", stderr)
	}
	if !strings.Contains(stderr, "image must be a string") {
		t.Errorf("engine output missing from the error:\n%s", stderr)
	}
}

func TestRun_Profiles(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	testutil.WriteFile(t, f.dir, "docker-compose.yml", `services:
  app:
    image: a
    profiles: ["web", "full"]
  worker:
    image: w
    profiles: ["full"]
  db:
    image: d
networks: {}
volumes: {}
`)

	if code := f.run(t, "profiles"); code != 0 {
		t.Fatalf("exit code = %d, stderr:\n%s", code, f.stderr)
	}
	out := f.stdout.String()
	for _, want := range []string{"full: app, worker", "web: app", "always on: db"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestRun_Backup(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	if code := f.run(t, "backup"); code != 0 || !strings.Contains(f.stdout.String(), "nothing to back up") {
		t.Fatalf("exit code = %d, stdout:\n%s", code, f.stdout)
	}

	testutil.WriteFile(t, f.dir, "docker-compose.yml", "current")
	if code := f.run(t, "backup"); code != 0 {
		t.Fatalf("exit code = %d, stderr:\n%s", code, f.stderr)
	}
	matches, _ := filepath.Glob(f.path("docker-compose.yml.bak.*"))
	if len(matches) != 1 {
		t.Fatalf("backups = %v", matches)
	}

	if code := f.run(t, "backup", "--list"); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(f.stdout.String(), filepath.Base(matches[0])) {
		t.Errorf("list output lacks %s:\n%s", matches[0], f.stdout)
	}
}

func TestRun_MetricsFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "ghcr.io/acme/app:stable", "docker.io/library/postgres:16")
	metricsFile := f.path("rtpi.prom")

	if code := f.run(t, "resolve", "--metrics-file", metricsFile); code != 0 {
		t.Fatalf("exit code = %d, stderr:\n%s", code, f.stderr)
	}
	got := testutil.ReadFile(t, metricsFile)
	for _, want := range []string{"rtpi_image_resolutions_total", "rtpi_image_probes_total"} {
		if !strings.Contains(got, want) {
			t.Errorf("metrics lack %s:\n%s", want, got)
		}
	}
}

func TestRun_ConfigShow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if code := f.run(t, "config", "show"); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(f.stdout.String(), "fallback_db:") || !strings.Contains(f.stderr.String(), "using defaults") {
		t.Errorf("stdout:\n%s\nstderr:\n%s", f.stdout, f.stderr)
	}
}

func TestRun_ConfigLoadFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.app.Config = staticConfig{err: issue.NewErrorContext().
		WithOperation("load configuration").
		WithIssue(issue.ConfigLoadFailedId).
		Wrap(issue.NewConfigError("rtpi.cue", "invalid configuration", errors.New("probe.attempts: out of range"))).
		BuildError()}

	if code := f.run(t, "resolve"); code != int(types.ExitConfig) {
		t.Fatalf("exit code = %d, want %d", code, types.ExitConfig)
	}
	if !strings.Contains(f.stderr.String(), "load configuration") {
		t.Errorf("stderr should name the failed operation:\n%s", f.stderr)
	}
}

func TestExitCodeFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want types.ExitCode
	}{
		{name: "nil", err: nil, want: types.ExitSuccess},
		{name: "explicit", err: &ExitError{Code: 42}, want: 42},
		{name: "validation", err: &issue.ValidationError{Path: "x"}, want: types.ExitValidation},
		{name: "config", err: issue.NewConfigError("x", "bad", nil), want: types.ExitConfig},
		{name: "wrapped config", err: fmt.Errorf("load: %w", issue.NewConfigError("x", "bad", nil)), want: types.ExitConfig},
		{name: "interrupted step", err: &installer.StepError{Step: "write-tags", Err: context.Canceled}, want: types.ExitInterrupted},
		{name: "cancelled retry", err: fmt.Errorf("probe: %w", retry.ErrCancelled), want: types.ExitInterrupted},
		{name: "other", err: errors.New("boom"), want: types.ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestGetVersionString(t *testing.T) {
	// Not parallel: mutates package-level Version/Commit/BuildDate vars.
	origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
	t.Cleanup(func() {
		Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
	})

	Version, Commit, BuildDate = "v1.2.3", "abc1234", "2026-06-15T10:00:00Z"
	if got, want := getVersionString(), "v1.2.3 (commit: abc1234, built: 2026-06-15T10:00:00Z)"; got != want {
		t.Errorf("getVersionString() = %q, want %q", got, want)
	}

	Version = "dev"
	if got, want := getVersionString(), "dev (built from source)"; got != want {
		t.Errorf("getVersionString() = %q, want %q", got, want)
	}
}

// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"rtpi-cli/internal/checkpoint"
	"rtpi-cli/internal/compose"
	"rtpi-cli/internal/config"
	"rtpi-cli/internal/container"
	"rtpi-cli/internal/fallback"
	"rtpi-cli/internal/issue"
	"rtpi-cli/internal/metrics"
	"rtpi-cli/internal/registry"
	"rtpi-cli/internal/tags"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

type (
	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, string, error)
	}

	// App wires CLI services and shared dependencies. Every Cobra command
	// receives an App and builds its components through it.
	App struct {
		Config ConfigProvider
		// Checker overrides registry lookups. Nil uses anonymous OCI requests.
		Checker registry.Checker
		// Engine overrides container engine detection for engine validation.
		Engine container.Engine

		stdout io.Writer
		stderr io.Writer
		flags  globalFlags
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config  ConfigProvider
		Checker registry.Checker
		Engine  container.Engine
		Stdout  io.Writer
		Stderr  io.Writer
	}

	globalFlags struct {
		configPath  string
		verbose     bool
		metricsFile string
	}

	// session is the per-invocation state shared by a command's components.
	session struct {
		cfg     *config.Config
		cfgPath string
		logger  *log.Logger
		metrics *metrics.Metrics
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	return &App{
		Config:  deps.Config,
		Checker: deps.Checker,
		Engine:  deps.Engine,
		stdout:  deps.Stdout,
		stderr:  deps.Stderr,
	}
}

// session loads configuration and sets up logging for one command.
func (a *App) session(ctx context.Context) (*session, error) {
	cfg, path, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.flags.configPath})
	if err != nil {
		return nil, err
	}

	level, err := log.ParseLevel(string(cfg.LogLevel))
	if err != nil {
		level = log.InfoLevel
	}
	if a.flags.verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(a.stderr, log.Options{
		Level:           level,
		ReportTimestamp: a.flags.verbose,
		TimeFormat:      time.TimeOnly,
	})
	slog.SetDefault(slog.New(logger))

	s := &session{cfg: cfg, cfgPath: path, logger: logger}
	if a.flags.metricsFile != "" {
		s.metrics = metrics.New()
	}
	logger.Debug("configuration loaded", "path", path)
	return s, nil
}

// finish writes the metrics file when one was requested. It runs whether or
// not the command succeeded.
func (a *App) finish(s *session) {
	if s == nil || s.metrics == nil {
		return
	}
	if err := s.metrics.WriteFile(a.flags.metricsFile); err != nil {
		s.logger.Warn("failed to write metrics", "path", a.flags.metricsFile, "err", err)
	}
}

func (s *session) component(prefix string) *log.Logger {
	return s.logger.WithPrefix(prefix)
}

func (a *App) newProber(s *session) *registry.Prober {
	probe := s.cfg.Probe
	checker := a.Checker
	if checker == nil {
		checker = registry.NewRemoteChecker(registry.WithPlainHTTPHosts(probe.PlainHTTP...))
	}
	opts := []registry.ProberOption{
		registry.WithChecker(checker),
		registry.WithPolicy(probe.RetryPolicy()),
		registry.WithAttemptTimeout(probe.Timeout),
		registry.WithLogger(s.component("probe")),
		registry.WithMetrics(s.metrics),
	}
	if probe.RateLimit > 0 {
		opts = append(opts, registry.WithRateLimit(rate.NewLimiter(rate.Limit(probe.RateLimit), max(1, int(probe.RateLimit)))))
	}
	return registry.NewProber(opts...)
}

func (a *App) loadDatabase(s *session) (*fallback.Database, error) {
	path := s.cfg.Paths.FallbackDB
	db, err := fallback.LoadDatabase(path)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("load fallback database").
			WithResource(path).
			WithIssue(issue.FallbackDatabaseInvalidId).
			WithSuggestion("Set paths.fallback_db or RTPI_PATHS_FALLBACK_DB to the database location").
			Wrap(err).
			BuildError()
	}
	return db, nil
}

func (a *App) newResolver(s *session, db *fallback.Database) *fallback.Resolver {
	return fallback.NewResolver(db, a.newProber(s),
		fallback.WithLogger(s.component("resolve")),
		fallback.WithMetrics(s.metrics),
		fallback.WithWorkers(s.cfg.Probe.Workers),
	)
}

func (a *App) newValidator(ctx context.Context, s *session) (compose.Validator, error) {
	if s.cfg.Compose.Validator != config.ValidatorEngine {
		return compose.YAMLValidator{}, nil
	}
	engine := a.Engine
	if engine == nil {
		var err error
		engine, err = container.NewEngine(container.EngineType(s.cfg.Compose.Engine))
		if err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("select manifest validator").
				WithResource(string(s.cfg.Compose.Engine)).
				WithIssue(issue.ContainerEngineNotFoundId).
				WithSuggestion("Install docker or podman, or set compose.validator to \"yaml\"").
				Wrap(issue.NewConfigError("compose.engine", "container engine not available", err)).
				BuildError()
		}
	}
	if version, err := engine.Version(ctx); err == nil {
		s.logger.Debug("validating manifests with container engine", "engine", engine.Name(), "version", version)
	} else {
		s.logger.Debug("validating manifests with container engine", "engine", engine.Name(), "version_err", err)
	}
	return compose.Validators{compose.YAMLValidator{}, compose.EngineValidator{Engine: engine}}, nil
}

func (a *App) newGenerator(ctx context.Context, s *session) (*compose.Generator, error) {
	validator, err := a.newValidator(ctx, s)
	if err != nil {
		return nil, err
	}
	return compose.NewGenerator(
		compose.WithValidator(validator),
		compose.WithBackups(a.newBackups(s)),
		compose.WithLogger(s.component("compose")),
	), nil
}

func (a *App) newBackups(s *session) *compose.Backups {
	return compose.NewBackups(
		compose.WithBackupDir(s.cfg.Paths.BackupDir),
		compose.WithMaxBackups(s.cfg.Compose.MaxBackups),
	)
}

func (a *App) newTagStore(s *session) *tags.Store {
	return tags.NewStore(s.cfg.Paths.TagsFile)
}

func (a *App) newCheckpoints(s *session) *checkpoint.Store {
	return checkpoint.New(s.cfg.Paths.CheckpointDir)
}

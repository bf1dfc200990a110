// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"time"

	"rtpi-cli/internal/retry"
)

const (
	// ValidatorYAML checks rendered manifests with the built-in YAML parser.
	ValidatorYAML ValidatorKind = "yaml"
	// ValidatorEngine checks rendered manifests with "<engine> compose config".
	ValidatorEngine ValidatorKind = "engine"

	// EngineAuto picks podman, then docker.
	EngineAuto EngineName = "auto"
	// EngineDocker forces docker.
	EngineDocker EngineName = "docker"
	// EnginePodman forces podman.
	EnginePodman EngineName = "podman"
)

// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
var ErrInvalidConfig = errors.New("invalid config")

type (
	// ValidatorKind selects the manifest syntax gate.
	ValidatorKind string

	// EngineName selects the container engine.
	EngineName string

	// LogLevel is the default log level.
	LogLevel string

	// Config is the complete rtpi configuration.
	Config struct {
		Paths    PathsConfig   `json:"paths" mapstructure:"paths"`
		Probe    ProbeConfig   `json:"probe" mapstructure:"probe"`
		Compose  ComposeConfig `json:"compose" mapstructure:"compose"`
		LogLevel LogLevel      `json:"log_level" mapstructure:"log_level"`
	}

	// PathsConfig locates the files rtpi reads and writes.
	PathsConfig struct {
		Template      string `json:"template" mapstructure:"template"`
		Output        string `json:"output" mapstructure:"output"`
		TagsFile      string `json:"tags_file" mapstructure:"tags_file"`
		FallbackDB    string `json:"fallback_db" mapstructure:"fallback_db"`
		CheckpointDir string `json:"checkpoint_dir" mapstructure:"checkpoint_dir"`
		// BackupDir holds manifest backups. Empty keeps them next to the manifest.
		BackupDir string `json:"backup_dir" mapstructure:"backup_dir"`
	}

	// ProbeConfig tunes registry probing.
	ProbeConfig struct {
		Attempts   int           `json:"attempts" mapstructure:"attempts"`
		BaseDelay  time.Duration `json:"base_delay" mapstructure:"base_delay"`
		Multiplier float64       `json:"multiplier" mapstructure:"multiplier"`
		MaxDelay   time.Duration `json:"max_delay" mapstructure:"max_delay"`
		Jitter     bool          `json:"jitter" mapstructure:"jitter"`
		// Timeout bounds one registry round trip.
		Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
		// PlainHTTP lists registry hosts reached over plain HTTP.
		PlainHTTP []string `json:"plain_http" mapstructure:"plain_http"`
		// RateLimit is the maximum registry requests per second. Zero disables
		// limiting.
		RateLimit float64 `json:"rate_limit" mapstructure:"rate_limit"`
		// Workers bounds concurrent image resolutions.
		Workers int `json:"workers" mapstructure:"workers"`
	}

	// ComposeConfig tunes manifest generation.
	ComposeConfig struct {
		Validator  ValidatorKind `json:"validator" mapstructure:"validator"`
		Engine     EngineName    `json:"engine" mapstructure:"engine"`
		MaxBackups int           `json:"max_backups" mapstructure:"max_backups"`
	}

	// InvalidConfigError lists every invalid setting.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	policy := retry.DefaultPolicy()
	return &Config{
		Paths: PathsConfig{
			Template:      "docker-compose.template.yml",
			Output:        "docker-compose.yml",
			TagsFile:      ".env.images",
			FallbackDB:    "images.toml",
			CheckpointDir: ".rtpi/checkpoints",
		},
		Probe: ProbeConfig{
			Attempts:   policy.MaxAttempts,
			BaseDelay:  policy.BaseDelay,
			Multiplier: policy.Multiplier,
			MaxDelay:   policy.MaxDelay,
			Jitter:     policy.Jitter,
			Timeout:    10 * time.Second,
			PlainHTTP:  []string{},
			RateLimit:  5,
			Workers:    4,
		},
		Compose: ComposeConfig{
			Validator:  ValidatorYAML,
			Engine:     EngineAuto,
			MaxBackups: 5,
		},
		LogLevel: "info",
	}
}

// RetryPolicy converts the probe settings into a retry policy.
func (p ProbeConfig) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: p.Attempts,
		BaseDelay:   p.BaseDelay,
		Multiplier:  p.Multiplier,
		MaxDelay:    p.MaxDelay,
		Jitter:      p.Jitter,
	}
}

// Validate checks settings that may arrive from the environment and thus
// bypass the schema.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Probe.RetryPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("probe: %w", err))
	}
	if c.Probe.Timeout < 0 {
		errs = append(errs, errors.New("probe.timeout: must not be negative"))
	}
	if c.Probe.RateLimit < 0 {
		errs = append(errs, errors.New("probe.rate_limit: must not be negative"))
	}
	if c.Probe.Workers < 1 {
		errs = append(errs, errors.New("probe.workers: must be at least 1"))
	}
	switch c.Compose.Validator {
	case ValidatorYAML, ValidatorEngine:
	default:
		errs = append(errs, fmt.Errorf("compose.validator: %q is not one of yaml, engine", c.Compose.Validator))
	}
	switch c.Compose.Engine {
	case EngineAuto, EngineDocker, EnginePodman:
	default:
		errs = append(errs, fmt.Errorf("compose.engine: %q is not one of auto, docker, podman", c.Compose.Engine))
	}
	if c.Compose.MaxBackups < 0 {
		errs = append(errs, errors.New("compose.max_backups: must not be negative"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level: %q is not one of debug, info, warn, error", c.LogLevel))
	}
	for _, f := range []struct{ name, value string }{
		{"paths.template", c.Paths.Template},
		{"paths.output", c.Paths.Output},
		{"paths.tags_file", c.Paths.TagsFile},
		{"paths.fallback_db", c.Paths.FallbackDB},
		{"paths.checkpoint_dir", c.Paths.CheckpointDir},
	} {
		if f.value == "" {
			errs = append(errs, fmt.Errorf("%s: must not be empty", f.name))
		}
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	if len(e.FieldErrors) == 1 {
		return fmt.Sprintf("invalid config: %v", e.FieldErrors[0])
	}
	return fmt.Sprintf("invalid config: %d errors, first: %v", len(e.FieldErrors), e.FieldErrors[0])
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

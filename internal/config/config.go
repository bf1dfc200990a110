// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rtpi-cli/internal/cueutil"
	"rtpi-cli/internal/issue"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "rtpi"
	// ConfigFileName is the name of the config file in the config directory.
	ConfigFileName = "config.cue"
	// LocalConfigFileName is the project-local config file.
	LocalConfigFileName = "rtpi.cue"
	// EnvPrefix prefixes environment overrides, e.g. RTPI_PROBE_ATTEMPTS.
	EnvPrefix = "RTPI"

	// maxConfigFileSize caps config files, which are a few dozen lines.
	maxConfigFileSize int64 = 1 << 20
)

//go:embed config_schema.cue
var configSchema string

// Dir returns $XDG_CONFIG_HOME/rtpi, defaulting to ~/.config/rtpi.
func Dir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, AppName), nil
}

// Locate returns the config file Load would read, or "" when none exists.
func Locate(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		return opts.ConfigFilePath, nil
	}
	dir := opts.ConfigDirPath
	if dir == "" {
		var err error
		if dir, err = Dir(); err != nil {
			return "", err
		}
	}
	if p := filepath.Join(dir, ConfigFileName); fileExists(p) {
		return p, nil
	}
	if fileExists(LocalConfigFileName) {
		return LocalConfigFileName, nil
	}
	return "", nil
}

// loadWithOptions merges defaults, the config file and RTPI_* environment
// variables, in increasing priority.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFilePath != "" && !fileExists(opts.ConfigFilePath) {
		return nil, "", issue.NewErrorContext().
			WithOperation("load configuration").
			WithResource(opts.ConfigFilePath).
			WithIssue(issue.ConfigLoadFailedId).
			WithSuggestion("Verify the file path is correct").
			Wrap(issue.NewConfigError(opts.ConfigFilePath, "config file not found", nil)).
			BuildError()
	}

	path, err := Locate(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithIssue(issue.ConfigLoadFailedId).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Run 'rtpi config show' to see the accepted keys").
				Wrap(issue.NewConfigError(path, "invalid configuration", err)).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", issue.NewConfigError(path, "failed to parse config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithIssue(issue.ConfigLoadFailedId).
			WithSuggestion("Check RTPI_* environment variables as well as the config file").
			Wrap(issue.NewConfigError(path, "invalid configuration", err)).
			BuildError()
	}
	return &cfg, path, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("paths.template", d.Paths.Template)
	v.SetDefault("paths.output", d.Paths.Output)
	v.SetDefault("paths.tags_file", d.Paths.TagsFile)
	v.SetDefault("paths.fallback_db", d.Paths.FallbackDB)
	v.SetDefault("paths.checkpoint_dir", d.Paths.CheckpointDir)
	v.SetDefault("paths.backup_dir", d.Paths.BackupDir)
	v.SetDefault("probe.attempts", d.Probe.Attempts)
	v.SetDefault("probe.base_delay", d.Probe.BaseDelay)
	v.SetDefault("probe.multiplier", d.Probe.Multiplier)
	v.SetDefault("probe.max_delay", d.Probe.MaxDelay)
	v.SetDefault("probe.jitter", d.Probe.Jitter)
	v.SetDefault("probe.timeout", d.Probe.Timeout)
	v.SetDefault("probe.plain_http", d.Probe.PlainHTTP)
	v.SetDefault("probe.rate_limit", d.Probe.RateLimit)
	v.SetDefault("probe.workers", d.Probe.Workers)
	v.SetDefault("compose.validator", string(d.Compose.Validator))
	v.SetDefault("compose.engine", string(d.Compose.Engine))
	v.SetDefault("compose.max_backups", d.Compose.MaxBackups)
	v.SetDefault("log_level", string(d.LogLevel))
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config
// schema and merges it into v. Fields are optional, so the unified value is
// validated without requiring concreteness.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	result, err := cueutil.ParseAndDecode[map[string]any]([]byte(configSchema), data, "#Config",
		cueutil.WithFilename(path),
		cueutil.WithConcrete(false),
		cueutil.WithMaxFileSize(maxConfigFileSize),
	)
	if err != nil {
		return err
	}
	if err := v.MergeConfigMap(*result.Value); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// GenerateCUE renders cfg as a config file.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// rtpi configuration\n\n")

	sb.WriteString("paths: {\n")
	fmt.Fprintf(&sb, "\ttemplate:       %q\n", cfg.Paths.Template)
	fmt.Fprintf(&sb, "\toutput:         %q\n", cfg.Paths.Output)
	fmt.Fprintf(&sb, "\ttags_file:      %q\n", cfg.Paths.TagsFile)
	fmt.Fprintf(&sb, "\tfallback_db:    %q\n", cfg.Paths.FallbackDB)
	fmt.Fprintf(&sb, "\tcheckpoint_dir: %q\n", cfg.Paths.CheckpointDir)
	fmt.Fprintf(&sb, "\tbackup_dir:     %q\n", cfg.Paths.BackupDir)
	sb.WriteString("}\n")

	sb.WriteString("\nprobe: {\n")
	fmt.Fprintf(&sb, "\tattempts:   %d\n", cfg.Probe.Attempts)
	fmt.Fprintf(&sb, "\tbase_delay: %q\n", cfg.Probe.BaseDelay.String())
	fmt.Fprintf(&sb, "\tmultiplier: %v\n", cfg.Probe.Multiplier)
	fmt.Fprintf(&sb, "\tmax_delay:  %q\n", cfg.Probe.MaxDelay.String())
	fmt.Fprintf(&sb, "\tjitter:     %v\n", cfg.Probe.Jitter)
	fmt.Fprintf(&sb, "\ttimeout:    %q\n", cfg.Probe.Timeout.String())
	sb.WriteString("\tplain_http: [")
	for i, h := range cfg.Probe.PlainHTTP {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%q", h)
	}
	sb.WriteString("]\n")
	fmt.Fprintf(&sb, "\trate_limit: %v\n", cfg.Probe.RateLimit)
	fmt.Fprintf(&sb, "\tworkers:    %d\n", cfg.Probe.Workers)
	sb.WriteString("}\n")

	sb.WriteString("\ncompose: {\n")
	fmt.Fprintf(&sb, "\tvalidator:   %q\n", cfg.Compose.Validator)
	fmt.Fprintf(&sb, "\tengine:      %q\n", cfg.Compose.Engine)
	fmt.Fprintf(&sb, "\tmax_backups: %d\n", cfg.Compose.MaxBackups)
	sb.WriteString("}\n")

	fmt.Fprintf(&sb, "\nlog_level: %q\n", cfg.LogLevel)
	return sb.String()
}

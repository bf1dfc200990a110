// SPDX-License-Identifier: MPL-2.0

package compose

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"rtpi-cli/internal/issue"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
)

const manifestPerm = 0o644

type (
	// Generator renders a template into a manifest on disk. The previous
	// manifest is replaced only after the new one passed every check.
	Generator struct {
		fs        afero.Fs
		validator Validator
		backups   *Backups
		logger    *log.Logger
	}

	// Request describes one generation.
	Request struct {
		TemplatePath string
		OutputPath   string
		Vars         map[string]string
		// NoBackup skips backing up the manifest being replaced.
		NoBackup bool
	}

	// Report describes the outcome of a successful generation.
	Report struct {
		Output   string
		Warnings []Warning
		Used     []string
		// Backup is the copy of the replaced manifest, if one was made.
		Backup string
		// Changed is false when the existing manifest already had the
		// rendered content and was left alone.
		Changed bool
	}

	// GeneratorOption configures a Generator.
	GeneratorOption func(*Generator)
)

// WithFs replaces the filesystem. Engine validation reads the file from
// the real filesystem, so it only makes sense with afero.NewOsFs.
func WithFs(fsys afero.Fs) GeneratorOption {
	return func(g *Generator) { g.fs = fsys }
}

// WithValidator sets the syntactic gate. The default is YAMLValidator.
func WithValidator(v Validator) GeneratorOption {
	return func(g *Generator) { g.validator = v }
}

// WithBackups sets the backup manager.
func WithBackups(b *Backups) GeneratorOption {
	return func(g *Generator) { g.backups = b }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator creates a Generator.
func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{fs: afero.NewOsFs(), validator: YAMLValidator{}}
	for _, opt := range opts {
		opt(g)
	}
	if g.backups == nil {
		g.backups = NewBackups(WithBackupFs(g.fs))
	}
	if g.logger == nil {
		g.logger = log.New(io.Discard)
	}
	return g
}

// Generate renders req.TemplatePath with req.Vars into req.OutputPath.
//
// The rendered bytes are written to a temporary file next to the output and
// validated there. On any failure the temporary file is removed and the
// existing manifest is untouched.
func (g *Generator) Generate(ctx context.Context, req Request) (*Report, error) {
	tmpl, err := afero.ReadFile(g.fs, req.TemplatePath)
	if err != nil {
		cause := issue.NewConfigError(req.TemplatePath, "cannot read manifest template", err)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, issue.NewErrorContext().
				WithOperation("render manifest").
				WithResource(req.TemplatePath).
				WithIssue(issue.TemplateNotFoundId).
				WithSuggestion("Pass the template with --template").
				Wrap(cause).
				BuildError()
		}
		return nil, cause
	}

	res, err := Render(tmpl, req.Vars)
	if err != nil {
		var te *TemplateError
		if errors.As(err, &te) {
			te.Path = req.TemplatePath
		}
		return nil, err
	}
	for _, w := range res.Warnings {
		g.logger.Warn("unresolved placeholder", "template", req.TemplatePath, "placeholder", w.Placeholder, "line", w.Line, "column", w.Column)
	}

	if err := CheckStructure(req.OutputPath, res.Output); err != nil {
		return nil, err
	}

	report := &Report{Output: req.OutputPath, Warnings: res.Warnings, Used: res.Used}

	current, err := afero.ReadFile(g.fs, req.OutputPath)
	switch {
	case err == nil && bytes.Equal(current, res.Output):
		if err := g.check(ctx, req.OutputPath, req.OutputPath, current); err != nil {
			return nil, err
		}
		g.logger.Debug("manifest unchanged", "output", req.OutputPath)
		return report, nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read current manifest: %w", err)
	}

	tmpName, err := g.writeTemp(req.OutputPath, res.Output)
	if err != nil {
		return nil, err
	}
	installed := false
	defer func() {
		if !installed {
			_ = g.fs.Remove(tmpName)
		}
	}()

	if err := g.check(ctx, tmpName, req.OutputPath, res.Output); err != nil {
		return nil, err
	}

	if !req.NoBackup {
		backup, err := g.backups.Create(req.OutputPath)
		if err != nil {
			return nil, fmt.Errorf("back up current manifest: %w", err)
		}
		if backup != "" {
			g.logger.Info("backed up manifest", "backup", backup)
		}
		report.Backup = backup
	}

	if err := g.fs.Rename(tmpName, req.OutputPath); err != nil {
		return nil, fmt.Errorf("install manifest %s: %w", req.OutputPath, err)
	}
	installed = true
	report.Changed = true

	g.logger.Info("manifest written", "output", req.OutputPath, "warnings", len(res.Warnings))
	return report, nil
}

// Validate runs the structural check and the syntactic gate against an
// existing manifest.
func (g *Generator) Validate(ctx context.Context, path string) error {
	data, err := afero.ReadFile(g.fs, path)
	if err != nil {
		return issue.NewConfigError(path, "cannot read manifest", err)
	}
	if err := CheckStructure(path, data); err != nil {
		return err
	}
	return g.validator.Validate(ctx, path, data)
}

// check runs the syntactic gate on the file at path. Errors name output,
// the manifest the user asked for.
func (g *Generator) check(ctx context.Context, path, output string, data []byte) error {
	err := g.validator.Validate(ctx, path, data)
	if err == nil {
		return nil
	}
	var ve *issue.ValidationError
	if errors.As(err, &ve) {
		ve.Path = output
	}
	g.logger.Error("manifest rejected", "output", output, "validator", g.validator.Name(), "err", err)
	return err
}

// Backups returns the backup manager.
func (g *Generator) Backups() *Backups { return g.backups }

func (g *Generator) writeTemp(output string, data []byte) (string, error) {
	dir := filepath.Dir(output)
	if err := g.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := afero.TempFile(g.fs, dir, "."+filepath.Base(output)+".tmp-")
	if err != nil {
		return "", fmt.Errorf("create temporary manifest: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = g.fs.Remove(name)
		return "", fmt.Errorf("write temporary manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = g.fs.Remove(name)
		return "", fmt.Errorf("sync temporary manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = g.fs.Remove(name)
		return "", fmt.Errorf("close temporary manifest: %w", err)
	}
	if err := g.fs.Chmod(name, manifestPerm); err != nil {
		_ = g.fs.Remove(name)
		return "", fmt.Errorf("chmod temporary manifest: %w", err)
	}
	return name, nil
}

// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"rtpi-cli/internal/compose"
	"rtpi-cli/internal/installer"
	"rtpi-cli/internal/issue"
	"rtpi-cli/internal/tags"
	"rtpi-cli/internal/watch"

	"github.com/spf13/cobra"
)

type generateOptions struct {
	template string
	output   string
	noBackup bool
	watch    bool
}

func newGenerateCommand(app *App) *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Render the compose manifest from its template",
		Long: `Render the compose manifest from its template.

Placeholders are filled from the resolved-tag file, then from the defaults
declared in the fallback database, then from the environment. The rendered
manifest must contain services, networks and volumes and pass the configured
validator before it replaces the current one; the replaced manifest is
backed up unless --no-backup is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd.Context(), app, opts)
		},
	}
	bindGenerateFlags(cmd, opts)
	return cmd
}

func bindGenerateFlags(cmd *cobra.Command, opts *generateOptions) {
	f := cmd.Flags()
	f.StringVarP(&opts.template, "template", "t", "", "manifest template (default from paths.template)")
	f.StringVarP(&opts.output, "output", "o", "", "manifest to write (default from paths.output)")
	f.BoolVar(&opts.noBackup, "no-backup", false, "do not back up the manifest being replaced")
	f.BoolVarP(&opts.watch, "watch", "w", false, "re-render whenever the template or resolved-tag file changes")
}

func runGenerate(ctx context.Context, app *App, opts *generateOptions) error {
	s, err := app.session(ctx)
	if err != nil {
		return err
	}
	defer app.finish(s)

	gen, err := app.newGenerator(ctx, s)
	if err != nil {
		return err
	}
	req := compose.Request{
		TemplatePath: firstNonEmpty(opts.template, s.cfg.Paths.Template),
		OutputPath:   firstNonEmpty(opts.output, s.cfg.Paths.Output),
		NoBackup:     opts.noBackup,
	}

	render := func(ctx context.Context) error {
		vars, err := app.generateVars(s)
		if err != nil {
			return err
		}
		req.Vars = vars
		report, err := gen.Generate(ctx, req)
		if err != nil {
			return err
		}
		app.printReport(report)
		return nil
	}

	if !opts.watch {
		return render(ctx)
	}

	if err := render(ctx); err != nil {
		renderError(app.stderr, err, app.flags.verbose)
	}
	w, err := watch.New(watch.Config{
		Files:  []string{req.TemplatePath, s.cfg.Paths.TagsFile},
		Logger: s.component("watch"),
		OnChange: func(ctx context.Context, changed []string) error {
			s.logger.Info("change detected, re-rendering", "files", strings.Join(changed, ", "))
			return render(ctx)
		},
	})
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	fmt.Fprintln(app.stdout, SubtitleStyle.Render("Watching for changes, press Ctrl+C to stop..."))
	return w.Run(ctx)
}

// generateVars layers the resolved-tag file over database defaults over the
// process environment.
func (a *App) generateVars(s *session) (map[string]string, error) {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}

	var defaults tags.Mapping
	if _, err := os.Stat(s.cfg.Paths.FallbackDB); err == nil {
		db, err := a.loadDatabase(s)
		if err != nil {
			return nil, err
		}
		defaults = installer.Defaults(db.Images())
	} else {
		s.logger.Debug("no fallback database, rendering without image defaults", "path", s.cfg.Paths.FallbackDB)
	}

	store := a.newTagStore(s)
	resolved := tags.Mapping{}
	exists, err := store.Exists()
	if err != nil {
		return nil, err
	}
	if exists {
		loaded, stats, err := store.Load()
		if err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("load resolved-tag file").
				WithResource(store.Path()).
				WithIssue(issue.TagFileInvalidId).
				Wrap(err).
				BuildError()
		}
		if stats.Malformed > 0 {
			s.logger.Warn("skipped malformed lines in resolved-tag file", "path", store.Path(), "lines", stats.MalformedLines)
		}
		resolved = loaded
	} else {
		s.logger.Warn("resolved-tag file not found, run 'rtpi resolve' first", "path", store.Path())
	}

	for k, v := range tags.ApplyDefaults(resolved, defaults).Env() {
		vars[k] = v
	}
	return vars, nil
}

func (a *App) printReport(report *compose.Report) {
	for _, w := range report.Warnings {
		fmt.Fprintln(a.stderr, WarningStyle.Render("warning: ")+w.String())
	}
	if !report.Changed {
		fmt.Fprintf(a.stdout, "%s %s is up to date\n", SuccessStyle.Render("✓"), CmdStyle.Render(report.Output))
		return
	}
	fmt.Fprintf(a.stdout, "%s Wrote %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(report.Output))
	if report.Backup != "" {
		fmt.Fprintf(a.stdout, "  %s %s\n", SubtitleStyle.Render("previous manifest saved to"), report.Backup)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

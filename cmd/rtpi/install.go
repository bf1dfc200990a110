// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"time"

	"rtpi-cli/internal/checkpoint"
	"rtpi-cli/internal/compose"
	"rtpi-cli/internal/installer"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newInstallCommand(app *App) *cobra.Command {
	var (
		force    bool
		template string
		output   string
		noBackup bool
	)
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Run every installer step, resuming from checkpoints",
		Long: `Run every installer step, resuming from checkpoints.

The steps resolve-images, write-tags and render-manifest run in order. A step
that completed in an earlier run is skipped; a step that failed or was
interrupted runs again in full. Use --force to ignore checkpoints and
'rtpi reset' to clear them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := app.session(ctx)
			if err != nil {
				return err
			}
			defer app.finish(s)

			db, err := app.loadDatabase(s)
			if err != nil {
				return err
			}
			gen, err := app.newGenerator(cmd.Context(), s)
			if err != nil {
				return err
			}
			pipeline := &installer.Pipeline{
				Resolver: app.newResolver(s, db),
				Images:   db.Images(),
				Tags:     app.newTagStore(s),
				Renderer: gen,
				Request: compose.Request{
					TemplatePath: firstNonEmpty(template, s.cfg.Paths.Template),
					OutputPath:   firstNonEmpty(output, s.cfg.Paths.Output),
					NoBackup:     noBackup,
				},
				Logger: s.component("install"),
			}

			store := app.newCheckpoints(s)
			runner := installer.NewRunner(store,
				installer.WithLogger(s.component("install")),
				installer.WithMetrics(s.metrics),
				installer.WithForce(force),
			)
			results, runErr := runner.Run(ctx, pipeline.Steps())

			if resolved := pipeline.Resolved(); resolved != nil {
				printResolved(app.stdout, resolved)
				warnDegraded(app, s, resolved)
			}
			if report := pipeline.Report(); report != nil {
				app.printReport(report)
			}
			printSteps(app.stdout, results)
			if runErr != nil {
				return runErr
			}
			fmt.Fprintf(app.stdout, "%s Installation complete (run %s)\n", SuccessStyle.Render("✓"), store.RunID())
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVarP(&force, "force", "f", false, "run every step even if its checkpoint exists")
	f.StringVarP(&template, "template", "t", "", "manifest template (default from paths.template)")
	f.StringVarP(&output, "output", "o", "", "manifest to write (default from paths.output)")
	f.BoolVar(&noBackup, "no-backup", false, "do not back up the manifest being replaced")
	return cmd
}

func newResetCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear every installer checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := app.session(cmd.Context())
			if err != nil {
				return err
			}
			defer app.finish(s)

			store := app.newCheckpoints(s)
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "%s Cleared checkpoints in %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(store.Dir()))
			return nil
		},
	}
}

func newCheckpointsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints",
		Short: "List completed installer steps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := app.session(cmd.Context())
			if err != nil {
				return err
			}
			defer app.finish(s)

			store := app.newCheckpoints(s)
			cps, err := store.List()
			if err != nil {
				return err
			}
			printCheckpoints(app.stdout, store.Dir(), cps)
			return nil
		},
	}
}

func printSteps(w io.Writer, results []installer.StepResult) {
	if len(results) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Step", "Status", "Duration"})
	for _, r := range results {
		status := string(r.Status)
		switch r.Status {
		case installer.StatusCompleted:
			status = SuccessStyle.Render(status)
		case installer.StatusFailed:
			status = ErrorStyle.Render(status)
		case installer.StatusSkipped:
			status = SubtitleStyle.Render(status)
		}
		t.AppendRow(table.Row{r.Name, status, r.Duration.Round(time.Millisecond)})
	}
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
}

func printCheckpoints(w io.Writer, dir string, cps []checkpoint.Checkpoint) {
	if len(cps) == 0 {
		fmt.Fprintf(w, "No checkpoints in %s\n", CmdStyle.Render(dir))
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Step", "Completed", "Run"})
	for _, cp := range cps {
		t.AppendRow(table.Row{cp.Name, cp.CompletedAt.Local().Format(time.DateTime), cp.RunID})
	}
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
}

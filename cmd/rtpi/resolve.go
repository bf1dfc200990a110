// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strings"

	"rtpi-cli/internal/fallback"
	"rtpi-cli/internal/issue"
	"rtpi-cli/internal/tags"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newResolveCommand(app *App) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Probe registries and write the resolved-tag file",
		Long: `Probe registries and write the resolved-tag file.

Every image declared in the fallback database is probed. When the primary
image cannot be pulled its alternatives are tried in order, and when none is
available the declared default is used and the image is reported as
degraded. Degraded images are warnings, not failures.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := app.session(cmd.Context())
			if err != nil {
				return err
			}
			defer app.finish(s)

			db, err := app.loadDatabase(s)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			resolved, err := app.newResolver(s, db).ResolveAll(ctx, db.Images())
			if err != nil {
				return err
			}
			printResolved(app.stdout, resolved)
			warnDegraded(app, s, resolved)

			if dryRun {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			m := make(tags.Mapping, len(resolved))
			for _, t := range resolved {
				m[t.Variable] = t.Image
			}
			store := app.newTagStore(s)
			if err := store.Write(m); err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "%s Wrote %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(store.Path()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the resolution without writing the resolved-tag file")
	return cmd
}

func printResolved(w io.Writer, resolved []fallback.ResolvedTag) {
	if len(resolved) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Variable", "Image", "Source", "Tried"})
	for _, r := range resolved {
		source := string(r.Source)
		if r.Degraded {
			source = WarningStyle.Render(source + " (degraded)")
		}
		tried := make([]string, len(r.Probed))
		for i, c := range r.Probed {
			tried[i] = fmt.Sprintf("%s: %s", c.Image, c.Availability)
		}
		t.AppendRow(table.Row{r.Variable, r.Image, source, strings.Join(tried, "\n")})
	}
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
}

func warnDegraded(app *App, s *session, resolved []fallback.ResolvedTag) {
	warn := fallback.Warnings(resolved)
	if warn == nil {
		return
	}
	s.component("resolve").Warn("degraded images in use", "err", warn)
	if !app.flags.verbose {
		return
	}
	if entry := issue.Get(issue.DegradedImagesId); entry != nil {
		if rendered, err := entry.Render("dark"); err == nil {
			fmt.Fprint(app.stderr, rendered)
		}
	}
}

// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for rtpi.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"rtpi-cli/internal/issue"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the rtpi command tree. Without a subcommand rtpi
// behaves like "rtpi generate".
func NewRootCommand(app *App) *cobra.Command {
	gen := &generateOptions{}
	root := &cobra.Command{
		Use:   "rtpi",
		Short: "Resolve container images and render the compose manifest",
		Long: TitleStyle.Render("rtpi") + SubtitleStyle.Render(" - resilient image resolution and manifest rendering") + `

rtpi probes registries for the images a deployment needs, falls back to
known alternatives when an image cannot be pulled, records the choices in
a resolved-tag file and renders the compose manifest from its template.
Installer steps are checkpointed so an interrupted run resumes where it
stopped.

` + SubtitleStyle.Render("Examples:") + `
  rtpi                      Render the manifest (same as 'rtpi generate')
  rtpi resolve              Probe registries and write the resolved-tag file
  rtpi install              Run every installer step, resuming from checkpoints
  rtpi validate             Check the current manifest
  rtpi backup --list        List manifest backups`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd.Context(), app, gen)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&app.flags.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/rtpi/config.cue or ./rtpi.cue)")
	pf.BoolVarP(&app.flags.verbose, "verbose", "v", false, "enable verbose output")
	pf.StringVar(&app.flags.metricsFile, "metrics-file", "", "write Prometheus text-format metrics to this file on exit")
	bindGenerateFlags(root, gen)

	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	root.AddCommand(
		newGenerateCommand(app),
		newValidateCommand(app),
		newProfilesCommand(app),
		newBackupCommand(app),
		newResolveCommand(app),
		newInstallCommand(app),
		newResetCommand(app),
		newCheckpointsCommand(app),
		newConfigCommand(app),
	)
	return root
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits with the code mapped from the returned error.
// This is called by main.main().
func Execute() {
	os.Exit(run(context.Background(), NewApp(Dependencies{}), os.Args[1:]))
}

func run(ctx context.Context, app *App, args []string) int {
	root := NewRootCommand(app)
	root.SetArgs(args)
	err := fang.Execute(
		ctx,
		root,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(func(w io.Writer, _ fang.Styles, err error) {
			renderError(w, err, app.flags.verbose)
		}),
	)
	return int(exitCodeFor(err))
}

// renderError prints err and, when it links to a catalog entry, the entry's
// guidance.
func renderError(w io.Writer, err error, verbose bool) {
	fmt.Fprintln(w, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))

	var ae *issue.ActionableError
	if !errors.As(err, &ae) || ae.Issue == 0 {
		return
	}
	entry := issue.Get(ae.Issue)
	if entry == nil {
		return
	}
	if rendered, renderErr := entry.Render("dark"); renderErr == nil {
		fmt.Fprint(w, rendered)
	}
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}

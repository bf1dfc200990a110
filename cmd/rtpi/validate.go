// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"rtpi-cli/internal/issue"

	"github.com/spf13/cobra"
)

func newValidateCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [manifest]",
		Short: "Check a manifest's structure and syntax",
		Long: `Check a manifest's structure and syntax.

The manifest (default from paths.output) must declare services, networks
and volumes and pass the configured validator. Nothing is written.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.session(cmd.Context())
			if err != nil {
				return err
			}
			defer app.finish(s)

			path := s.cfg.Paths.Output
			if len(args) == 1 {
				path = args[0]
			}
			gen, err := app.newGenerator(cmd.Context(), s)
			if err != nil {
				return err
			}
			if err := gen.Validate(cmd.Context(), path); err != nil {
				var ve *issue.ValidationError
				if errors.As(err, &ve) {
					return issue.NewErrorContext().
						WithOperation("validate manifest").
						WithResource(path).
						WithIssue(issue.ManifestValidationFailedId).
						Wrap(err).
						BuildError()
				}
				return err
			}
			fmt.Fprintf(app.stdout, "%s %s is valid\n", SuccessStyle.Render("✓"), CmdStyle.Render(path))
			return nil
		},
	}
}

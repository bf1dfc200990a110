// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"strings"

	"rtpi-cli/internal/compose"
	"rtpi-cli/internal/issue"

	"github.com/spf13/cobra"
)

func newProfilesCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles [manifest]",
		Short: "List the compose profiles a manifest declares",
		Args:  cobra.MaximumNArgs(1),
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
			data, err := os.ReadFile(path)
			if err != nil {
				return issue.NewConfigError(path, "cannot read manifest", err)
			}
			set, err := compose.Profiles(path, data)
			if err != nil {
				return err
			}

			fmt.Fprintln(app.stdout, TitleStyle.Render("Profiles in "+path))
			if len(set.Profiles) == 0 {
				fmt.Fprintf(app.stdout, "  %s\n", SubtitleStyle.Render("(none declared)"))
			}
			for _, p := range set.Profiles {
				fmt.Fprintf(app.stdout, "  %s: %s\n", CmdStyle.Render(p.Name), strings.Join(p.Services, ", "))
			}
			if len(set.AlwaysOn) > 0 {
				fmt.Fprintf(app.stdout, "\n%s %s\n", SubtitleStyle.Render("always on:"), strings.Join(set.AlwaysOn, ", "))
			}
			return nil
		},
	}
}

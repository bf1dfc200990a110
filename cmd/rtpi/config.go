// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"rtpi-cli/internal/config"

	"github.com/spf13/cobra"
)

// newConfigCommand creates the `rtpi config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect rtpi configuration",
		Long: `Inspect rtpi configuration.

Settings come from, in increasing priority: built-in defaults, the config
file ($XDG_CONFIG_HOME/rtpi/config.cue, else ./rtpi.cue, or --config) and
RTPI_* environment variables such as RTPI_PROBE_ATTEMPTS.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := app.Config.Load(cmd.Context(), config.LoadOptions{ConfigFilePath: app.flags.configPath})
			if err != nil {
				return err
			}
			source := SubtitleStyle.Render("(using defaults)")
			if path != "" {
				source = path
			}
			fmt.Fprintf(app.stderr, "%s %s\n\n", CmdStyle.Render("Config file:"), source)
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show where configuration is read from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := config.Dir()
			if err != nil {
				return err
			}
			located, err := config.Locate(config.LoadOptions{ConfigFilePath: app.flags.configPath})
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "Config directory: %s\n", dir)
			fmt.Fprintf(app.stdout, "Config file: %s\n", filepath.Join(dir, config.ConfigFileName))
			fmt.Fprintf(app.stdout, "Project file: %s\n", config.LocalConfigFileName)
			if located == "" {
				located = "(none, using defaults)"
			}
			fmt.Fprintf(app.stdout, "In use: %s\n", located)
			return nil
		},
	})

	return cfgCmd
}

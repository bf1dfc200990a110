// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newBackupCommand(app *App) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "backup [manifest]",
		Short: "Back up the current manifest, or list its backups",
		Long: `Back up the current manifest, or list its backups.

Backups are named <manifest>.bak.<YYYYmmdd-HHMMSS> and kept next to the
manifest unless paths.backup_dir is set. Only the newest
compose.max_backups copies are kept.`,
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
			backups := app.newBackups(s)

			if list {
				entries, err := backups.List(path)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintf(app.stdout, "No backups of %s\n", CmdStyle.Render(path))
					return nil
				}
				t := table.NewWriter()
				t.SetOutputMirror(app.stdout)
				t.AppendHeader(table.Row{"Backup", "Created", "Size"})
				for _, b := range entries {
					t.AppendRow(table.Row{b.Path, b.CreatedAt.Format(time.DateTime), b.Size})
				}
				style := table.StyleLight
				style.Options.DrawBorder = false
				t.SetStyle(style)
				t.Render()
				return nil
			}

			created, err := backups.Create(path)
			if err != nil {
				return err
			}
			if created == "" {
				fmt.Fprintf(app.stdout, "%s %s does not exist, nothing to back up\n", WarningStyle.Render("!"), CmdStyle.Render(path))
				return nil
			}
			fmt.Fprintf(app.stdout, "%s Backed up %s to %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(path), created)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "list existing backups, newest first")
	return cmd
}

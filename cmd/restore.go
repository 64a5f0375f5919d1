package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"canvas-aux/internal/application"
	"canvas-aux/internal/display"
)

var (
	restoreTables []string
	restoreForce  bool
	restoreYes    bool
)

// restoreCmd promotes backups back to their root names
var restoreCmd = &cobra.Command{
	Use:   "restore [table or backup]...",
	Short: "Restore tables from their newest backup",
	Long: `Replace each target with its newest backup. A target may be a table name
or the name of a specific backup. With no targets every templated table is
restored. A table that currently exists is only replaced with --force.

Examples:
  # Put the previous Courses back
  canvas-aux restore Courses --force

  # Restore a specific backup
  canvas-aux restore Courses_2019_02_28_15_34_10_654321 --force`,
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().StringArrayVar(&restoreTables, "table", nil, "restore this table or backup (repeatable)")
	restoreCmd.Flags().BoolVar(&restoreForce, "force", false, "drop an existing table before restoring its backup")
	restoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "with --force, replace tables without asking")
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	targets := append(append([]string{}, args...), restoreTables...)

	return runVerb(cmd, func(ctx context.Context, app *application.App, r *display.Renderer) error {
		if restoreForce {
			items := targets
			if len(items) == 0 {
				items = []string{"every templated table"}
			}
			ok, err := newConfirmer(cmd).Confirm(ctx, "Replace existing tables with their newest backup", items, restoreYes)
			if err != nil || !ok {
				return err
			}
		}

		result, err := app.Restore(ctx, targets, restoreForce)
		if result != nil {
			if rerr := r.RestoreResult(result); rerr != nil {
				return rerr
			}
		}
		return err
	})
}

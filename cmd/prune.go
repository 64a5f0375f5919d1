package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"canvas-aux/internal/application"
	"canvas-aux/internal/display"
)

// DefaultNumToKeep is the number of backups kept per table
const DefaultNumToKeep = 2

var (
	pruneTables    []string
	pruneNumToKeep int
	pruneDryRun    bool
	pruneYes       bool
)

// pruneCmd drops old backups
var pruneCmd = &cobra.Command{
	Use:   "prune-backups",
	Short: "Drop all but the newest backups of each table",
	Long: `Keep the --num-to-keep newest backups of every table and drop the rest.
--table restricts pruning to one table's backups; naming a backup drops that
backup regardless of the count.

Examples:
  canvas-aux prune-backups --num-to-keep 3
  canvas-aux prune-backups --table Courses --num-to-keep 0 --dry-run`,
	RunE: runPrune,
}

func init() {
	pruneCmd.Flags().StringArrayVar(&pruneTables, "table", nil, "prune only this table or backup (repeatable)")
	pruneCmd.Flags().IntVar(&pruneNumToKeep, "num-to-keep", DefaultNumToKeep, "backups to keep per table")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "report what would be dropped without dropping")
	pruneCmd.Flags().BoolVarP(&pruneYes, "yes", "y", false, "drop without asking")
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	return runVerb(cmd, func(ctx context.Context, app *application.App, r *display.Renderer) error {
		if !pruneDryRun {
			preview, err := app.Prune(ctx, pruneNumToKeep, pruneTables, true)
			if err != nil {
				return err
			}
			ok, err := newConfirmer(cmd).Confirm(ctx, "Drop backups", preview.Dropped, pruneYes)
			if err != nil || !ok {
				return err
			}
		}

		result, err := app.Prune(ctx, pruneNumToKeep, pruneTables, pruneDryRun)
		if result != nil {
			if rerr := r.RetentionResult(result); rerr != nil {
				return rerr
			}
		}
		return err
	})
}

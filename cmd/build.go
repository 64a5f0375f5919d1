package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"canvas-aux/internal/application"
	"canvas-aux/internal/display"
)

var (
	buildTables []string
	buildPlan   bool
)

// buildCmd rebuilds auxiliary tables from their templates
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Rebuild auxiliary tables from their SQL templates",
	Long: `Resolve every SQL template, sort the templates so that each table is
built after the tables it reads from, and rebuild them one at a time. The
current version of each table is renamed to a timestamped backup first and
renamed back if the rebuild fails.

Examples:
  # Rebuild everything
  canvas-aux build

  # Rebuild one table (its dependencies must already exist)
  canvas-aux build --table Enrollments

  # Print the load order without connecting
  canvas-aux build --plan`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringArrayVar(&buildTables, "table", nil, "rebuild only this table (repeatable)")
	buildCmd.Flags().BoolVar(&buildPlan, "plan", false, "print the load order and exit")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	return runVerb(cmd, func(ctx context.Context, app *application.App, r *display.Renderer) error {
		if buildPlan {
			order, err := app.Order()
			if err != nil {
				return err
			}
			rows := make([][]string, len(order))
			for i, name := range order {
				rows[i] = []string{fmt.Sprint(i + 1), name}
			}
			if err := r.Render(order, []string{"#", "Table"}, rows); err != nil {
				return err
			}
			r.Info("Load order: " + strings.Join(order, ", "))
			return nil
		}

		result, err := app.Build(ctx, buildTables)
		if result != nil {
			if rerr := r.BuildResult(result); rerr != nil {
				return rerr
			}
		}
		return err
	})
}

package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"canvas-aux/internal/application"
	"canvas-aux/internal/display"
)

// statusCmd reports the state of every templated table
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show each table, its backups and its last refresh",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerb(cmd, func(ctx context.Context, app *application.App, r *display.Renderer) error {
			report, err := app.Status(ctx)
			if err != nil {
				return err
			}
			if err := r.Render(report, application.StatusHeaders, report.Rows()); err != nil {
				return err
			}
			r.Info("Schema " + report.Schema + " on MySQL " + report.Server)
			if len(report.Orphans) > 0 {
				r.Warning("Tables without a template: " + strings.Join(report.Orphans, ", "))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

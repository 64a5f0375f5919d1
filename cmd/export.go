package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"canvas-aux/internal/application"
	"canvas-aux/internal/display"
	"canvas-aux/internal/export"
	"canvas-aux/internal/sanity"
)

var (
	exportTables     []string
	exportDest       string
	exportMode       string
	exportOverwrite  bool
	exportWithSchema bool

	checkDest      string
	checkThreshold time.Duration

	archiveTables []string
	archiveDest   string
	archiveDryRun bool
	archiveList   bool
)

// exportCmd writes auxiliary tables to flat files
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export auxiliary tables to CSV or mysqldump files",
	Long: `Write each templated table to <dest>/<Table>.csv with a quoted header of
its columns. Files that already exist are left alone unless --overwrite is
given. --mode mysqldump writes <Table>.sql with the mysqldump binary instead.

Examples:
  canvas-aux export --dest /srv/exports --overwrite
  canvas-aux export --table Courses --with-schema`,
	RunE: runExport,
}

// checkExportsCmd verifies an export directory
var checkExportsCmd = &cobra.Command{
	Use:   "check-exports",
	Short: "Check that every table has a fresh, non-empty export file",
	Long: `Check the export directory: every templated table must have a non-empty
<Table>.csv. Files much older than the newest one are reported as stale but
do not fail the check.`,
	RunE: runCheckExports,
}

// archiveExportsCmd bundles the export directory into an archive
var archiveExportsCmd = &cobra.Command{
	Use:   "archive-exports",
	Short: "Compress, optionally encrypt and store the export files",
	Long: `Bundle the export files into a tar archive compressed as configured in
[ARCHIVE], encrypt it when ARCHIVE.passphrase_env names a set variable, and
store it with the configured provider (local, s3, gcs or azure).

Examples:
  canvas-aux archive-exports
  canvas-aux archive-exports --list`,
	RunE: runArchiveExports,
}

func init() {
	exportCmd.Flags().StringArrayVar(&exportTables, "table", nil, "export only this table (repeatable)")
	exportCmd.Flags().StringVar(&exportDest, "dest", "", "export directory (default PATHS.export_dir)")
	exportCmd.Flags().StringVar(&exportMode, "mode", string(export.ModeCSV), "export mode (csv, mysqldump)")
	exportCmd.Flags().BoolVar(&exportOverwrite, "overwrite", false, "replace existing export files")
	exportCmd.Flags().BoolVar(&exportWithSchema, "with-schema", false, "also write <Table>.schema.sql")

	checkExportsCmd.Flags().StringVar(&checkDest, "dest", "", "export directory (default PATHS.export_dir)")
	checkExportsCmd.Flags().DurationVar(&checkThreshold, "threshold", sanity.DefaultThreshold, "age difference after which a file is stale")

	archiveExportsCmd.Flags().StringArrayVar(&archiveTables, "table", nil, "archive only this table's files (repeatable)")
	archiveExportsCmd.Flags().StringVar(&archiveDest, "dest", "", "export directory (default PATHS.export_dir)")
	archiveExportsCmd.Flags().BoolVar(&archiveDryRun, "dry-run", false, "build the archive without storing it")
	archiveExportsCmd.Flags().BoolVar(&archiveList, "list", false, "list stored archives")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(checkExportsCmd)
	rootCmd.AddCommand(archiveExportsCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	mode, err := export.ParseMode(exportMode)
	if err != nil {
		return err
	}

	return runVerb(cmd, func(ctx context.Context, app *application.App, r *display.Renderer) error {
		result, err := app.Export(ctx, application.ExportOptions{
			Tables:     exportTables,
			Dest:       exportDest,
			Mode:       mode,
			Overwrite:  exportOverwrite,
			WithSchema: exportWithSchema,
		})
		if result != nil {
			if rerr := r.ExportResult(result); rerr != nil {
				return rerr
			}
		}
		return err
	})
}

func runCheckExports(cmd *cobra.Command, args []string) error {
	return runVerb(cmd, func(ctx context.Context, app *application.App, r *display.Renderer) error {
		report, err := app.CheckExports(ctx, checkDest, checkThreshold)
		if report != nil {
			if rerr := r.SanityReport(report); rerr != nil {
				return rerr
			}
		}
		return err
	})
}

func runArchiveExports(cmd *cobra.Command, args []string) error {
	return runVerb(cmd, func(ctx context.Context, app *application.App, r *display.Renderer) error {
		if archiveList {
			objects, err := app.ListArchives(ctx)
			if err != nil {
				return err
			}
			return r.ArchiveList(objects)
		}

		result, err := app.ArchiveExports(ctx, application.ArchiveOptions{
			Dir:    archiveDest,
			Tables: archiveTables,
			DryRun: archiveDryRun,
		})
		if err != nil {
			return err
		}
		return r.ArchiveResult(result)
	})
}

// Package export writes auxiliary tables to flat files.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"canvas-aux/internal/database"
	"canvas-aux/internal/errors"
	"canvas-aux/internal/logging"
	"canvas-aux/internal/schema"
)

// Mode selects the export file format
type Mode string

const (
	ModeCSV       Mode = "csv"
	ModeMySQLDump Mode = "mysqldump"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeCSV, "":
		return ModeCSV, nil
	case ModeMySQLDump:
		return ModeMySQLDump, nil
	}
	return "", errors.NewConfigurationError(fmt.Sprintf("unknown export mode %q (want csv or mysqldump)", s), nil)
}

// Extension returns the file extension written by the mode
func (m Mode) Extension() string {
	if m == ModeMySQLDump {
		return ".sql"
	}
	return ".csv"
}

// Options control an export run
type Options struct {
	Dest       string
	Mode       Mode
	Overwrite  bool
	WithSchema bool
}

// Status is the outcome of one table export
type Status string

const (
	StatusExported Status = "exported"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// TableExport records the export of one table
type TableExport struct {
	Table    string        `json:"table" yaml:"table"`
	Path     string        `json:"path" yaml:"path"`
	Status   Status        `json:"status" yaml:"status"`
	Rows     int64         `json:"rows" yaml:"rows"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// ExportResult holds the result of an export run
type ExportResult struct {
	Dest   string        `json:"dest" yaml:"dest"`
	Mode   Mode          `json:"mode" yaml:"mode"`
	Tables []TableExport `json:"tables" yaml:"tables"`
}

// Err reports failed exports as one export error, or nil
func (r *ExportResult) Err() error {
	var failed []string
	for _, t := range r.Tables {
		if t.Status == StatusFailed {
			failed = append(failed, t.Table)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return errors.NewTableExportError(fmt.Sprintf("%d table(s) failed to export", len(failed)), failed...)
}

// Exporter streams tables through a read connection
type Exporter struct {
	db        *sql.DB
	schema    string
	extractor *schema.Extractor
	dumper    *Dumper
	logger    *logging.Logger
}

// NewExporter creates an exporter. dumper may be nil when mysqldump mode
// is not used.
func NewExporter(db *sql.DB, schemaName string, dumper *Dumper, logger *logging.Logger) *Exporter {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Exporter{
		db:        db,
		schema:    schemaName,
		extractor: schema.NewExtractor(),
		dumper:    dumper,
		logger:    logger,
	}
}

// Export writes each table to <dest>/<table><ext>. Existing files are left
// alone unless Overwrite is set. The destination directory is locked for
// the duration of the run.
func (e *Exporter) Export(ctx context.Context, tables []string, opts Options) (*ExportResult, error) {
	if opts.Mode == "" {
		opts.Mode = ModeCSV
	}
	if opts.Mode == ModeMySQLDump && e.dumper == nil {
		return nil, errors.NewConfigurationError("mysqldump mode requires connection settings", nil)
	}

	if err := os.MkdirAll(opts.Dest, 0755); err != nil {
		return nil, errors.NewConfigurationError("cannot create export directory "+opts.Dest, err)
	}

	lock, err := AcquireLock(opts.Dest)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			e.logger.WithField("error", err.Error()).Warn("Failed to remove export lock file")
		}
	}()

	result := &ExportResult{Dest: opts.Dest, Mode: opts.Mode}

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return result, errors.NewAppError(errors.ErrorTypeInterruption, "export interrupted", err).
				WithTables(table).AsFatal()
		}
		result.Tables = append(result.Tables, e.exportTable(ctx, table, opts))
	}

	return result, nil
}

func (e *Exporter) exportTable(ctx context.Context, table string, opts Options) TableExport {
	startTime := time.Now()
	path := filepath.Join(opts.Dest, table+opts.Mode.Extension())
	te := TableExport{Table: table, Path: path}

	if _, err := os.Stat(path); err == nil {
		if !opts.Overwrite {
			te.Status = StatusSkipped
			e.logger.WithFields(map[string]interface{}{
				"table": table,
				"path":  path,
			}).Info("Export file exists; skipping")
			return te
		}
		if err := os.Remove(path); err != nil {
			return e.failed(te, startTime, err)
		}
	}

	var rows int64
	var err error
	if opts.Mode == ModeMySQLDump {
		err = e.dumper.Dump(ctx, table, path)
	} else {
		rows, err = e.writeTable(ctx, table, path, opts.WithSchema)
	}
	if err != nil {
		return e.failed(te, startTime, err)
	}

	te.Status = StatusExported
	te.Rows = rows
	te.Duration = time.Since(startTime)
	e.logger.LogExport(table, path, rows, te.Duration, nil)
	return te
}

func (e *Exporter) failed(te TableExport, startTime time.Time, err error) TableExport {
	te.Status = StatusFailed
	te.Duration = time.Since(startTime)
	te.Error = err.Error()
	e.logger.LogExport(te.Table, te.Path, 0, te.Duration, err)
	return te
}

// writeTable streams the rows of table into path through a temporary file
func (e *Exporter) writeTable(ctx context.Context, table, path string, withSchema bool) (int64, error) {
	meta, err := e.extractor.ExtractTable(ctx, e.db, e.schema, table)
	if err != nil {
		return 0, err
	}

	if withSchema {
		ddl, err := schema.CreateTableSQL(meta)
		if err != nil {
			return 0, err
		}
		schemaPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".schema.sql"
		if err := os.WriteFile(schemaPath, []byte(ddl+";\n"), 0644); err != nil {
			return 0, err
		}
	}

	columns := meta.ColumnNames()
	selectList := make([]string, len(columns))
	for i, c := range columns {
		selectList[i] = database.QuoteIdent(c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s.%s", strings.Join(selectList, ", "),
		database.QuoteIdent(e.schema), database.QuoteIdent(table))

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+table+".*.tmp")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	count, err := WriteCSV(tmp, columns, rows)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return 0, err
	}
	return count, nil
}

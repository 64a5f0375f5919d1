// Package builder rebuilds auxiliary tables in load order, keeping the
// previous version of each table as a timestamped backup.
package builder

import (
	"context"
	"fmt"
	"time"

	"canvas-aux/internal/backupname"
	"canvas-aux/internal/database"
	"canvas-aux/internal/errors"
	"canvas-aux/internal/logging"
)

// Preparer populates data a template needs before its SQL runs
type Preparer interface {
	Prepare(ctx context.Context, root string) error
}

// PreparerFunc adapts a function to Preparer
type PreparerFunc func(ctx context.Context, root string) error

// Prepare calls f
func (f PreparerFunc) Prepare(ctx context.Context, root string) error {
	return f(ctx, root)
}

// Registry maps root names to their preparers. It is filled once at
// startup.
type Registry map[string]Preparer

// Status is the outcome of one table's rebuild
type Status string

const (
	StatusBuilt      Status = "built"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// TableResult records the rebuild of one table
type TableResult struct {
	Table    string        `json:"table" yaml:"table"`
	Status   Status        `json:"status" yaml:"status"`
	Backup   string        `json:"backup,omitempty" yaml:"backup,omitempty"`
	Rows     int64         `json:"rows" yaml:"rows"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// BuildResult holds the result of a build run
type BuildResult struct {
	Order    []string      `json:"order" yaml:"order"`
	Tables   []TableResult `json:"tables" yaml:"tables"`
	Started  time.Time     `json:"started" yaml:"started"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Failed returns the tables whose rebuild did not complete
func (r *BuildResult) Failed() []string {
	var failed []string
	for _, t := range r.Tables {
		if t.Status == StatusFailed || t.Status == StatusRolledBack {
			failed = append(failed, t.Table)
		}
	}
	return failed
}

// Err summarises per-table failures as one database error, or nil
func (r *BuildResult) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	return errors.NewDatabaseError(fmt.Sprintf("%d table(s) failed to build", len(failed)), "", nil).
		WithTables(failed...)
}

// Builder rebuilds tables one at a time over a single connection
type Builder struct {
	ops       database.TableOps
	loadLog   *LoadLog
	preparers Registry
	logger    *logging.Logger
	now       func() time.Time
}

// NewBuilder creates a builder
func NewBuilder(ops database.TableOps, loadLog *LoadLog, preparers Registry, logger *logging.Logger) *Builder {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if preparers == nil {
		preparers = Registry{}
	}
	return &Builder{
		ops:       ops,
		loadLog:   loadLog,
		preparers: preparers,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the clock used for backup names and load log times
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build rebuilds every table in order from its resolved SQL. A failing
// table is rolled back to its backup and the run continues; the returned
// error is non-nil only when the run had to stop.
func (b *Builder) Build(ctx context.Context, order []string, resolved map[string]string) (*BuildResult, error) {
	result := &BuildResult{
		Order:   order,
		Tables:  make([]TableResult, 0, len(order)),
		Started: b.now(),
	}
	defer func() { result.Duration = b.now().Sub(result.Started) }()

	for _, table := range order {
		if _, ok := resolved[table]; !ok {
			return result, errors.NewTableError("no resolved SQL for table", table).AsFatal()
		}
	}

	if err := ctx.Err(); err != nil {
		return result, interrupted(err, "")
	}

	if err := b.loadLog.Ensure(ctx); err != nil {
		return result, err
	}

	b.logger.WithField("tables", len(order)).Info("Starting build")

	for _, table := range order {
		if err := ctx.Err(); err != nil {
			return result, interrupted(err, table)
		}

		tr, err := b.buildTable(ctx, table, resolved[table])
		result.Tables = append(result.Tables, tr)
		if err != nil {
			return result, err
		}
	}

	b.logger.WithFields(map[string]interface{}{
		"built":  len(order) - len(result.Failed()),
		"failed": len(result.Failed()),
	}).Info("Build finished")

	return result, nil
}

func interrupted(cause error, table string) error {
	return errors.NewAppError(errors.ErrorTypeInterruption, "build interrupted", cause).
		WithTables(table).AsFatal()
}

// buildTable runs the backup / execute / record sequence for one table.
// The error is returned only for failures that must halt the run.
func (b *Builder) buildTable(ctx context.Context, table, sql string) (TableResult, error) {
	startTime := time.Now()
	tr := TableResult{Table: table}

	fail := func(status Status, err error) TableResult {
		tr.Status = status
		tr.Error = errors.Summary(err)
		tr.Duration = time.Since(startTime)
		b.logger.LogTableBuild(table, 0, tr.Duration, err)
		return tr
	}

	if preparer, ok := b.preparers[table]; ok {
		if err := preparer.Prepare(ctx, table); err != nil {
			return fail(StatusFailed, errors.WrapError(err, "preparation failed for "+table)), nil
		}
	}

	exists, err := b.ops.TableExists(ctx, table)
	if err != nil {
		return fail(StatusFailed, err), nil
	}

	if exists {
		backup := backupname.Make(table, b.now())
		if err := b.ops.RenameTable(ctx, table, backup); err != nil {
			return fail(StatusFailed, err), nil
		}
		tr.Backup = backup
	}

	if err := b.ops.ExecStatements(ctx, sql); err != nil {
		buildErr := errors.NewDatabaseError("failed to build table", table, err)
		if rbErr := b.rollback(ctx, table, tr.Backup); rbErr != nil {
			return fail(StatusFailed, buildErr), rollbackFailed(rbErr, table, tr.Backup)
		}
		if tr.Backup != "" {
			return fail(StatusRolledBack, buildErr), nil
		}
		return fail(StatusFailed, buildErr), nil
	}

	rows, err := b.record(ctx, table)
	if err != nil {
		if rbErr := b.rollback(ctx, table, tr.Backup); rbErr != nil {
			return fail(StatusFailed, err), rollbackFailed(rbErr, table, tr.Backup)
		}
		if tr.Backup != "" {
			return fail(StatusRolledBack, err), nil
		}
		return fail(StatusFailed, err), nil
	}

	tr.Status = StatusBuilt
	tr.Rows = rows
	tr.Duration = time.Since(startTime)
	b.logger.LogTableBuild(table, rows, tr.Duration, nil)
	return tr, nil
}

// rollbackFailed is fatal: the root is left partial or without its
// previous version
func rollbackFailed(cause error, table, backup string) error {
	if backup == "" {
		return errors.NewAppError(errors.ErrorTypeDatabase, "rollback failed; partial table left in place", cause).
			WithTables(table).AsFatal()
	}
	return errors.NewAppError(errors.ErrorTypeDatabase, "rollback failed; table left without its previous version", cause).
		WithTables(table, backup).AsFatal()
}

func (b *Builder) record(ctx context.Context, table string) (int64, error) {
	rows, err := b.ops.CountRows(ctx, table)
	if err != nil {
		return 0, err
	}
	if err := b.loadLog.Append(ctx, table, b.now().UTC(), rows); err != nil {
		return 0, err
	}
	return rows, nil
}

// rollback drops whatever the failed SQL left under the root name and puts
// the backup, if any, back in its place.
func (b *Builder) rollback(ctx context.Context, table, backup string) error {
	// Runs even when the build was cancelled
	ctx = context.WithoutCancel(ctx)

	exists, err := b.ops.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if exists {
		if err := b.ops.DropTable(ctx, table); err != nil {
			return err
		}
	}

	if backup == "" {
		if exists {
			b.logger.WithField("table", table).Warn("Build failed; partial table dropped")
		}
		return nil
	}

	if err := b.ops.RenameTable(ctx, backup, table); err != nil {
		return err
	}

	b.logger.WithFields(map[string]interface{}{
		"table":  table,
		"backup": backup,
	}).Warn("Build failed; previous version restored")
	return nil
}

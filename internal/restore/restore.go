// Package restore promotes a backup table back to its root name.
package restore

import (
	"context"
	"time"

	"canvas-aux/internal/backupname"
	"canvas-aux/internal/database"
	"canvas-aux/internal/errors"
	"canvas-aux/internal/logging"
)

// Status is the outcome for one restore target
type Status string

const (
	StatusRestored Status = "restored"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// TargetResult records what happened to one target
type TargetResult struct {
	Target   string `json:"target" yaml:"target"`
	Root     string `json:"root" yaml:"root"`
	Backup   string `json:"backup,omitempty" yaml:"backup,omitempty"`
	Status   Status `json:"status" yaml:"status"`
	Message  string `json:"message,omitempty" yaml:"message,omitempty"`
	DataLoss bool   `json:"data_loss,omitempty" yaml:"data_loss,omitempty"`

	err error
}

// RestoreResult holds the outcome of a restore run
type RestoreResult struct {
	Targets        []TargetResult `json:"targets" yaml:"targets"`
	Force          bool           `json:"force" yaml:"force"`
	ProcessingTime time.Duration  `json:"processing_time" yaml:"processing_time"`
}

// Err joins the errors of every failed target, or returns nil
func (r *RestoreResult) Err() error {
	var errs []error
	for _, t := range r.Targets {
		if t.err != nil {
			errs = append(errs, t.err)
		}
	}
	return errors.Join(errs...)
}

// Restorer swaps backups into place over a single connection
type Restorer struct {
	ops    database.TableOps
	logger *logging.Logger
}

// NewRestorer creates a restorer
func NewRestorer(ops database.TableOps, logger *logging.Logger) *Restorer {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Restorer{ops: ops, logger: logger}
}

// Restore promotes the newest backup of each target's root, or the named
// backup when the target is a backup name. Without force an existing root
// is left alone and the target is skipped. Per-target failures are
// reported in the result; the error is returned only when the schema
// could not be listed or the run was cancelled.
func (r *Restorer) Restore(ctx context.Context, targets []string, force bool) (*RestoreResult, error) {
	startTime := time.Now()
	result := &RestoreResult{Force: force}

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			result.ProcessingTime = time.Since(startTime)
			return result, errors.NewAppError(errors.ErrorTypeInterruption, "restore interrupted", err).
				WithTables(target).AsFatal()
		}

		tables, err := r.ops.ListTables(ctx)
		if err != nil {
			result.ProcessingTime = time.Since(startTime)
			return result, errors.WrapError(err, "failed to list auxiliary tables")
		}

		tr := r.restoreOne(ctx, target, tables, force)
		result.Targets = append(result.Targets, tr)
	}

	result.ProcessingTime = time.Since(startTime)
	return result, nil
}

func (r *Restorer) restoreOne(ctx context.Context, target string, tables []string, force bool) TargetResult {
	tr := TargetResult{Target: target, Root: backupname.RootOf(target)}

	fail := func(err *errors.AppError) TargetResult {
		tr.Status = StatusFailed
		tr.Message = errors.Summary(err)
		tr.err = err
		r.logger.WithFields(map[string]interface{}{
			"target": target,
			"error":  err.Error(),
		}).Error("Restore failed")
		return tr
	}

	if tr.Root == "" {
		return fail(errors.NewTableError("not a table or backup name", target))
	}

	live := make(map[string]bool, len(tables))
	for _, t := range tables {
		live[t] = true
	}

	family := backupname.Family(tables, tr.Root)
	switch {
	case backupname.IsBackup(target):
		if !live[target] {
			return fail(errors.NewTableError("backup does not exist", target))
		}
		tr.Backup = target
	case len(family) == 0:
		return fail(errors.NewTableError("no backup available", tr.Root))
	default:
		tr.Backup = family[0].Name
	}

	rootExisted := live[tr.Root]
	if rootExisted {
		if !force {
			tr.Status = StatusSkipped
			tr.Message = "table exists; use --force to replace it"
			r.logger.WithFields(map[string]interface{}{
				"table":  tr.Root,
				"backup": tr.Backup,
			}).Warn("Table exists and would be overwritten; skipping")
			return tr
		}
		if err := r.ops.DropTable(ctx, tr.Root); err != nil {
			return fail(errors.NewDatabaseError("failed to drop current table", tr.Root, err))
		}
	}

	if err := r.ops.RenameTable(ctx, tr.Backup, tr.Root); err != nil {
		failed := fail(errors.NewDatabaseError("failed to rename backup into place", tr.Root, err).WithTables(tr.Backup))
		failed.DataLoss = r.checkDataLoss(ctx, tr.Root, rootExisted)
		return failed
	}

	tr.Status = StatusRestored
	r.logger.WithFields(map[string]interface{}{
		"table":  tr.Root,
		"backup": tr.Backup,
	}).Info("Table restored from backup")
	return tr
}

// checkDataLoss reports a root that was dropped and never replaced
func (r *Restorer) checkDataLoss(ctx context.Context, root string, rootExisted bool) bool {
	if !rootExisted {
		return false
	}
	exists, err := r.ops.TableExists(context.WithoutCancel(ctx), root)
	if err != nil || exists {
		return false
	}
	r.logger.WithField("table", root).
		Error("Data loss: the table was dropped but its backup could not be renamed into place")
	return true
}

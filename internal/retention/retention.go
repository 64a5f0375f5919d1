// Package retention drops old backup tables so that each root keeps a
// bounded number of previous versions.
package retention

import (
	"context"
	"fmt"
	"sort"
	"time"

	"canvas-aux/internal/backupname"
	"canvas-aux/internal/database"
	"canvas-aux/internal/errors"
	"canvas-aux/internal/logging"
)

// RetentionResult represents the result of a prune run
type RetentionResult struct {
	KeepCount      int           `json:"keep_count" yaml:"keep_count"`
	Kept           []string      `json:"kept" yaml:"kept"`
	Dropped        []string      `json:"dropped" yaml:"dropped"`
	Failed         []string      `json:"failed,omitempty" yaml:"failed,omitempty"`
	Errors         []string      `json:"errors,omitempty" yaml:"errors,omitempty"`
	DryRun         bool          `json:"dry_run" yaml:"dry_run"`
	ProcessingTime time.Duration `json:"processing_time" yaml:"processing_time"`
}

// Err reports failed drops as one database error, or nil
func (r *RetentionResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return errors.NewDatabaseError(fmt.Sprintf("%d backup(s) could not be dropped", len(r.Failed)), "", nil).
		WithTables(r.Failed...)
}

// Manager applies the retention count to backup families
type Manager struct {
	ops    database.TableOps
	logger *logging.Logger
}

// NewManager creates a new retention manager
func NewManager(ops database.TableOps, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Manager{ops: ops, logger: logger}
}

// Prune keeps the keep newest backups of every considered root and drops
// the rest. With an empty filter every root is considered. A root in the
// filter selects its whole family; a backup name in the filter is dropped
// on its own regardless of keep. Drop failures do not stop the run.
func (m *Manager) Prune(ctx context.Context, keep int, filter []string, dryRun bool) (*RetentionResult, error) {
	startTime := time.Now()

	if keep < 0 {
		return nil, errors.NewConfigurationError(fmt.Sprintf("number of backups to keep must be >= 0, got %d", keep), nil)
	}

	m.logger.WithFields(map[string]interface{}{
		"keep":    keep,
		"filter":  filter,
		"dry_run": dryRun,
	}).Info("Applying backup retention")

	tables, err := m.ops.ListTables(ctx)
	if err != nil {
		return nil, errors.WrapError(err, "failed to list auxiliary tables")
	}

	roots, families, _ := backupname.Partition(tables)

	toKeep, toDrop, err := plan(keep, filter, tables, roots, families)
	if err != nil {
		return nil, err
	}

	result := &RetentionResult{
		KeepCount: keep,
		Kept:      toKeep,
		Dropped:   []string{},
		DryRun:    dryRun,
	}

	if dryRun {
		result.Dropped = toDrop
		result.ProcessingTime = time.Since(startTime)
		return result, nil
	}

	for _, name := range toDrop {
		if err := ctx.Err(); err != nil {
			result.ProcessingTime = time.Since(startTime)
			return result, errors.NewAppError(errors.ErrorTypeInterruption, "prune interrupted", err).AsFatal()
		}

		if err := m.ops.DropTable(ctx, name); err != nil {
			result.Failed = append(result.Failed, name)
			result.Errors = append(result.Errors, errors.Summary(err))
			continue
		}
		result.Dropped = append(result.Dropped, name)
	}

	result.ProcessingTime = time.Since(startTime)
	m.logger.WithFields(map[string]interface{}{
		"dropped": len(result.Dropped),
		"kept":    len(result.Kept),
		"failed":  len(result.Failed),
	}).Info("Backup retention applied")

	return result, nil
}

// plan decides which backups to keep and drop without touching the schema
func plan(keep int, filter, tables, roots []string, families map[string][]backupname.Backup) (kept, dropped []string, err error) {
	live := make(map[string]bool, len(tables))
	for _, t := range tables {
		live[t] = true
	}

	var selectedRoots []string
	var explicit []string

	if len(filter) == 0 {
		selectedRoots = familyRoots(roots, families)
	} else {
		var unknown []string
		seen := make(map[string]bool)
		for _, name := range filter {
			if seen[name] {
				continue
			}
			seen[name] = true

			switch {
			case backupname.IsBackup(name):
				if !live[name] {
					unknown = append(unknown, name)
					continue
				}
				explicit = append(explicit, name)
			case backupname.IsRoot(name):
				if !live[name] && len(families[name]) == 0 {
					unknown = append(unknown, name)
					continue
				}
				selectedRoots = append(selectedRoots, name)
			default:
				unknown = append(unknown, name)
			}
		}
		if len(unknown) > 0 {
			return nil, nil, errors.NewTableError("unknown prune target", unknown...)
		}
	}

	sort.Strings(selectedRoots)
	explicitSet := make(map[string]bool, len(explicit))
	for _, name := range explicit {
		explicitSet[name] = true
	}

	// Explicit targets are dropped anyway and do not use up a keep slot
	for _, root := range selectedRoots {
		n := 0
		for _, b := range families[root] {
			if explicitSet[b.Name] {
				continue
			}
			if n < keep {
				kept = append(kept, b.Name)
				n++
				continue
			}
			dropped = append(dropped, b.Name)
		}
	}

	sort.Strings(explicit)
	dropped = append(dropped, explicit...)
	return kept, dropped, nil
}

// familyRoots returns every root that is live or still has backups
func familyRoots(roots []string, families map[string][]backupname.Backup) []string {
	set := make(map[string]bool, len(roots)+len(families))
	for _, r := range roots {
		set[r] = true
	}
	for r := range families {
		set[r] = true
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Package sanity verifies an export directory against the expected table set.
package sanity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"canvas-aux/internal/errors"
	"canvas-aux/internal/logging"
)

// DefaultThreshold is how much older than the newest export a file may be
// before it is reported as stale.
const DefaultThreshold = 24 * time.Hour

// FileStatus describes one expected export file
type FileStatus struct {
	Table   string    `json:"table" yaml:"table"`
	Path    string    `json:"path" yaml:"path"`
	Present bool      `json:"present" yaml:"present"`
	Size    int64     `json:"size" yaml:"size"`
	ModTime time.Time `json:"mod_time,omitempty" yaml:"mod_time,omitempty"`
	Stale   bool      `json:"stale" yaml:"stale"`
}

// Report is the outcome of a sanity check
type Report struct {
	Dir       string        `json:"dir" yaml:"dir"`
	Threshold time.Duration `json:"threshold" yaml:"threshold"`
	Files     []FileStatus  `json:"files" yaml:"files"`
	Missing   []string      `json:"missing,omitempty" yaml:"missing,omitempty"`
	Empty     []string      `json:"empty,omitempty" yaml:"empty,omitempty"`
	Stale     []string      `json:"stale,omitempty" yaml:"stale,omitempty"`
}

// Complete reports whether every expected table has an export file
func (r *Report) Complete() bool {
	return len(r.Missing) == 0
}

// Err returns a table export error naming missing and empty files, or nil.
// Stale files never produce an error.
func (r *Report) Err() error {
	if len(r.Missing) == 0 && len(r.Empty) == 0 {
		return nil
	}

	var parts []string
	if len(r.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("%d missing", len(r.Missing)))
	}
	if len(r.Empty) > 0 {
		parts = append(parts, fmt.Sprintf("%d empty", len(r.Empty)))
	}

	tables := append(append([]string{}, r.Missing...), r.Empty...)
	sort.Strings(tables)

	return errors.NewTableExportError("export check failed: "+strings.Join(parts, ", ")+" file(s) in "+r.Dir, tables...).
		WithContext("missing", r.Missing).
		WithContext("empty", r.Empty)
}

// Checker inspects export directories
type Checker struct {
	threshold time.Duration
	logger    *logging.Logger
}

// NewChecker creates a checker; a non-positive threshold selects the default
func NewChecker(threshold time.Duration, logger *logging.Logger) *Checker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Checker{threshold: threshold, logger: logger}
}

// Check compares the .csv files in dir with the expected roots. The report
// is always returned; the error is Report.Err().
func (c *Checker) Check(ctx context.Context, dir string, expected []string) (*Report, error) {
	report := &Report{Dir: dir, Threshold: c.threshold}

	stems, err := csvStems(dir)
	if err != nil {
		return report, errors.NewAppError(errors.ErrorTypeTableExport, "cannot read export directory "+dir, err)
	}

	tables := append([]string{}, expected...)
	sort.Strings(tables)

	var newest time.Time
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return report, errors.NewAppError(errors.ErrorTypeInterruption, "export check interrupted", err)
		}

		status := FileStatus{Table: table, Path: filepath.Join(dir, table+".csv")}
		info, ok := stems[table]
		if !ok {
			report.Missing = append(report.Missing, table)
			report.Files = append(report.Files, status)
			continue
		}

		status.Present = true
		status.Size = info.Size()
		status.ModTime = info.ModTime()
		if status.Size == 0 {
			report.Empty = append(report.Empty, table)
		}
		if status.ModTime.After(newest) {
			newest = status.ModTime
		}
		report.Files = append(report.Files, status)
	}

	for i := range report.Files {
		f := &report.Files[i]
		if f.Present && newest.Sub(f.ModTime) > c.threshold {
			f.Stale = true
			report.Stale = append(report.Stale, f.Table)
		}
	}

	if len(report.Stale) > 0 {
		c.logger.WithFields(map[string]interface{}{
			"dir":       dir,
			"threshold": c.threshold.String(),
			"tables":    strings.Join(report.Stale, ","),
		}).Warn("Stale export files")
	}

	return report, report.Err()
}

// csvStems maps each regular .csv file in dir to its stat info by stem
func csvStems(dir string) (map[string]os.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	stems := make(map[string]os.FileInfo, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".csv" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		stems[strings.TrimSuffix(name, ".csv")] = info
	}
	return stems, nil
}

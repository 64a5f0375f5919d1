package application

import (
	"context"
	"strconv"

	"canvas-aux/internal/backupname"
	"canvas-aux/internal/builder"
	"canvas-aux/internal/template"
)

// TableStatus describes one template root in the auxiliary schema
type TableStatus struct {
	Table         string `json:"table" yaml:"table"`
	Exists        bool   `json:"exists" yaml:"exists"`
	Backups       int    `json:"backups" yaml:"backups"`
	NewestBackup  string `json:"newest_backup,omitempty" yaml:"newest_backup,omitempty"`
	LastRefreshed string `json:"last_refreshed,omitempty" yaml:"last_refreshed,omitempty"`
	Rows          int64  `json:"rows" yaml:"rows"`
}

// StatusReport is the state of every template root
type StatusReport struct {
	Schema  string        `json:"schema" yaml:"schema"`
	Server  string        `json:"server" yaml:"server"`
	Tables  []TableStatus `json:"tables" yaml:"tables"`
	Orphans []string      `json:"orphans,omitempty" yaml:"orphans,omitempty"`
}

// StatusHeaders are the table columns of a rendered StatusReport
var StatusHeaders = []string{"Table", "Exists", "Backups", "Newest Backup", "Last Refreshed", "Rows"}

// Rows returns the report as table rows
func (s *StatusReport) Rows() [][]string {
	rows := make([][]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		exists := "no"
		if t.Exists {
			exists = "yes"
		}
		rows = append(rows, []string{
			t.Table,
			exists,
			strconv.Itoa(t.Backups),
			t.NewestBackup,
			t.LastRefreshed,
			strconv.FormatInt(t.Rows, 10),
		})
	}
	return rows
}

// Status reports, for each template root, whether it exists, how many
// backups it has and when the load log last recorded it. Roots present in
// the schema without a template are listed as orphans.
func (a *App) Status(ctx context.Context) (*StatusReport, error) {
	templates, err := a.templates()
	if err != nil {
		return nil, err
	}

	conns, err := a.connections()
	if err != nil {
		return nil, err
	}
	ops, err := conns.Catalog(ctx)
	if err != nil {
		return nil, err
	}

	server, err := conns.Version(ctx)
	if err != nil {
		a.logger.WithField("error", err.Error()).Warn("Could not read server version")
	}

	tables, err := ops.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	roots, families, _ := backupname.Partition(tables)

	present := make(map[string]bool, len(roots))
	for _, r := range roots {
		present[r] = true
	}

	refreshed := map[string]builder.LoadLogEntry{}
	if present[builder.LoadLogTable] {
		entries, err := builder.NewLoadLog(ops.DB(), a.logger).Latest(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			refreshed[e.Table] = e
		}
	}

	report := &StatusReport{Schema: ops.Schema(), Server: server}
	known := make(map[string]bool, len(templates))
	for _, name := range template.Names(templates) {
		known[name] = true

		ts := TableStatus{Table: name, Exists: present[name]}
		if family := families[name]; len(family) > 0 {
			ts.Backups = len(family)
			ts.NewestBackup = family[0].Name
		}
		if e, ok := refreshed[name]; ok {
			ts.LastRefreshed = e.TimeRefreshed
			ts.Rows = e.NumRows
		}
		report.Tables = append(report.Tables, ts)
	}

	for _, r := range roots {
		if !known[r] && r != builder.LoadLogTable {
			report.Orphans = append(report.Orphans, r)
		}
	}

	return report, nil
}

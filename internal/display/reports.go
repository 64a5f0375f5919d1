package display

import (
	"fmt"
	"strconv"
	"time"

	"canvas-aux/internal/archive"
	"canvas-aux/internal/builder"
	"canvas-aux/internal/export"
	"canvas-aux/internal/restore"
	"canvas-aux/internal/retention"
	"canvas-aux/internal/sanity"
)

func duration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

func size(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// BuildResult renders a build run
func (r *Renderer) BuildResult(result *builder.BuildResult) error {
	rows := make([][]string, 0, len(result.Tables))
	for i, t := range result.Tables {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			t.Table,
			r.status(string(t.Status)),
			strconv.FormatInt(t.Rows, 10),
			t.Backup,
			duration(t.Duration),
			t.Error,
		})
	}
	if err := r.Render(result, []string{"#", "Table", "Status", "Rows", "Backup", "Duration", "Error"}, rows); err != nil {
		return err
	}

	if failed := result.Failed(); len(failed) > 0 {
		r.Warning(fmt.Sprintf("%d of %d table(s) failed", len(failed), len(result.Tables)))
	} else {
		r.Success(fmt.Sprintf("Built %d table(s) in %s", len(result.Tables), duration(result.Duration)))
	}
	return nil
}

// RetentionResult renders a prune run
func (r *Renderer) RetentionResult(result *retention.RetentionResult) error {
	dropped := "dropped"
	if result.DryRun {
		dropped = "would drop"
	}

	var rows [][]string
	for _, name := range result.Dropped {
		rows = append(rows, []string{name, r.status(dropped)})
	}
	for _, name := range result.Failed {
		rows = append(rows, []string{name, r.status("failed")})
	}
	for _, name := range result.Kept {
		rows = append(rows, []string{name, r.status("kept")})
	}

	if err := r.Render(result, []string{"Backup", "Action"}, rows); err != nil {
		return err
	}
	r.Success(fmt.Sprintf("Kept %d backup(s), %s %d", len(result.Kept), dropped, len(result.Dropped)))
	return nil
}

// RestoreResult renders a restore run
func (r *Renderer) RestoreResult(result *restore.RestoreResult) error {
	rows := make([][]string, 0, len(result.Targets))
	for _, t := range result.Targets {
		message := t.Message
		if t.DataLoss {
			message = r.palette.Failure("possible data loss") + " " + message
		}
		rows = append(rows, []string{t.Target, t.Root, t.Backup, r.status(string(t.Status)), message})
	}
	return r.Render(result, []string{"Target", "Root", "Backup", "Status", "Message"}, rows)
}

// ExportResult renders an export run
func (r *Renderer) ExportResult(result *export.ExportResult) error {
	rows := make([][]string, 0, len(result.Tables))
	for _, t := range result.Tables {
		rows = append(rows, []string{
			t.Table,
			r.status(string(t.Status)),
			strconv.FormatInt(t.Rows, 10),
			t.Path,
			duration(t.Duration),
			t.Error,
		})
	}
	return r.Render(result, []string{"Table", "Status", "Rows", "Path", "Duration", "Error"}, rows)
}

// SanityReport renders an export directory check
func (r *Renderer) SanityReport(report *sanity.Report) error {
	rows := make([][]string, 0, len(report.Files))
	for _, f := range report.Files {
		state := "ok"
		switch {
		case !f.Present:
			state = "missing"
		case f.Size == 0:
			state = "empty"
		case f.Stale:
			state = "stale"
		}

		modified := ""
		if f.Present {
			modified = f.ModTime.Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []string{f.Table, r.status(state), size(f.Size), modified})
	}

	if err := r.Render(report, []string{"Table", "State", "Size", "Modified"}, rows); err != nil {
		return err
	}
	if len(report.Stale) > 0 {
		r.Warning(fmt.Sprintf("%d file(s) older than the newest export by more than %s", len(report.Stale), report.Threshold))
	}
	return nil
}

// ArchiveResult renders a published archive
func (r *Renderer) ArchiveResult(result *archive.Result) error {
	location := result.Location
	if result.DryRun {
		location = r.status("dry-run")
	}
	rows := [][]string{{
		result.Name,
		strconv.Itoa(len(result.Files)),
		size(result.RawSize),
		size(result.Size),
		string(result.Compression),
		strconv.FormatBool(result.Encrypted),
		location,
	}}
	return r.Render(result, []string{"Archive", "Files", "Raw", "Stored", "Compression", "Encrypted", "Location"}, rows)
}

// ArchiveList renders the archives in a store
func (r *Renderer) ArchiveList(objects []archive.Object) error {
	rows := make([][]string, 0, len(objects))
	for _, o := range objects {
		rows = append(rows, []string{o.Name, size(o.Size), o.Modified.Format("2006-01-02 15:04:05")})
	}
	return r.Render(objects, []string{"Archive", "Size", "Modified"}, rows)
}

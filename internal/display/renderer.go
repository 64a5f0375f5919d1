// Package display renders command results as terminal tables, JSON or YAML.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"canvas-aux/internal/errors"
)

// Format selects how results are written
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a --format value
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	}
	return "", errors.NewConfigurationError(fmt.Sprintf("unknown output format %q (want table, json or yaml)", s), nil)
}

// Renderer writes results to one output stream
type Renderer struct {
	out     io.Writer
	format  Format
	palette *Palette
	quiet   bool
}

// NewRenderer creates a renderer. Colour is enabled when out is a terminal.
func NewRenderer(out io.Writer, format Format, quiet bool) *Renderer {
	return &Renderer{
		out:     out,
		format:  format,
		palette: NewPalette(format == FormatTable && DetectColor(out)),
		quiet:   quiet,
	}
}

// WithPalette replaces the palette
func (r *Renderer) WithPalette(p *Palette) *Renderer {
	r.palette = p
	return r
}

// Format returns the output format
func (r *Renderer) Format() Format {
	return r.format
}

// Render writes v as JSON or YAML, or as a table built from headers and rows
func (r *Renderer) Render(v interface{}, headers []string, rows [][]string) error {
	switch r.format {
	case FormatJSON:
		encoder := json.NewEncoder(r.out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case FormatYAML:
		encoder := yaml.NewEncoder(r.out)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			return err
		}
		return encoder.Close()
	}

	if len(rows) == 0 {
		r.Info("Nothing to report")
		return nil
	}
	r.Table(headers, rows)
	return nil
}

// Table writes a borderless table
func (r *Renderer) Table(headers []string, rows [][]string) {
	table := tablewriter.NewWriter(r.out)
	table.SetHeader(headers)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk(rows)
	table.Render()
}

// Success prints a success line unless quiet or structured
func (r *Renderer) Success(msg string) { r.line(r.palette.Success("✓ ") + msg) }

// Info prints an informational line unless quiet or structured
func (r *Renderer) Info(msg string) { r.line(r.palette.Info("• ") + msg) }

// Warning prints a warning line unless structured
func (r *Renderer) Warning(msg string) {
	if r.format != FormatTable {
		return
	}
	fmt.Fprintln(r.out, r.palette.Warning("! ")+msg)
}

func (r *Renderer) line(s string) {
	if r.quiet || r.format != FormatTable {
		return
	}
	fmt.Fprintln(r.out, s)
}

// status colours a status word
func (r *Renderer) status(s string) string {
	switch s {
	case "built", "exported", "restored", "kept", "present", "ok":
		return r.palette.Success(s)
	case "skipped", "stale", "dry-run", "would drop":
		return r.palette.Warning(s)
	case "failed", "rolled_back", "missing", "empty", "dropped":
		return r.palette.Failure(s)
	}
	return s
}

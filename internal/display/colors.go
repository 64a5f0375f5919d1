package display

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Palette colours status words. A disabled palette returns text unchanged.
type Palette struct {
	enabled bool
	success *color.Color
	warning *color.Color
	failure *color.Color
	info    *color.Color
	muted   *color.Color
}

// NewPalette creates a palette; colours are only used when enabled is true
func NewPalette(enabled bool) *Palette {
	p := &Palette{
		enabled: enabled,
		success: color.New(color.FgHiGreen),
		warning: color.New(color.FgHiYellow),
		failure: color.New(color.FgHiRed),
		info:    color.New(color.FgCyan),
		muted:   color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.success, p.warning, p.failure, p.info, p.muted} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Enabled reports whether the palette emits escape codes
func (p *Palette) Enabled() bool { return p.enabled }

func (p *Palette) Success(s string) string { return p.success.Sprint(s) }
func (p *Palette) Warning(s string) string { return p.warning.Sprint(s) }
func (p *Palette) Failure(s string) string { return p.failure.Sprint(s) }
func (p *Palette) Info(s string) string    { return p.info.Sprint(s) }
func (p *Palette) Muted(s string) string   { return p.muted.Sprint(s) }

// DetectColor reports whether w is a colour-capable terminal. NO_COLOR and
// TERM=dumb disable colour; FORCE_COLOR enables it.
func DetectColor(w io.Writer) bool {
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}

	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false
	}
	return termenv.NewOutput(f).Profile != termenv.Ascii
}

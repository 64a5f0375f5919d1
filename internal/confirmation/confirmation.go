// Package confirmation asks the operator before destructive operations
package confirmation

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"canvas-aux/internal/display"
	"canvas-aux/internal/errors"
)

// Confirmer prompts for a y/N answer before tables are dropped
type Confirmer struct {
	reader      *bufio.Reader
	out         io.Writer
	palette     *display.Palette
	interactive bool
}

// New creates a confirmer reading answers from in and prompting on out.
// A non-interactive confirmer approves without asking.
func New(in io.Reader, out io.Writer, interactive bool, palette *display.Palette) *Confirmer {
	if palette == nil {
		palette = display.NewPalette(false)
	}
	return &Confirmer{
		reader:      bufio.NewReader(in),
		out:         out,
		palette:     palette,
		interactive: interactive,
	}
}

// IsInteractive reports whether f is a terminal an operator can answer on
func IsInteractive(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Confirm lists items under action and asks whether to proceed. An empty
// answer means no. A cancelled context aborts the prompt with an
// interruption error.
func (c *Confirmer) Confirm(ctx context.Context, action string, items []string, autoApprove bool) (bool, error) {
	if len(items) == 0 {
		return true, nil
	}

	fmt.Fprintln(c.out, c.palette.Warning(action+":"))
	for _, item := range items {
		fmt.Fprintf(c.out, "  - %s\n", item)
	}

	if autoApprove || !c.interactive {
		fmt.Fprintln(c.out, c.palette.Success("✓ ")+"Auto-approving")
		return true, nil
	}

	for {
		input, err := c.prompt(ctx)
		if err != nil {
			return false, err
		}

		switch strings.ToLower(input) {
		case "y", "yes":
			return true, nil
		case "n", "no", "":
			fmt.Fprintln(c.out, c.palette.Muted("Cancelled; nothing was changed"))
			return false, nil
		default:
			fmt.Fprintf(c.out, "Invalid input '%s'. Please enter 'y' for yes or 'n' for no.\n", input)
		}
	}
}

// prompt reads one answer, giving up when ctx is cancelled
func (c *Confirmer) prompt(ctx context.Context) (string, error) {
	fmt.Fprint(c.out, "Proceed? [y/N]: ")

	type answer struct {
		line string
		err  error
	}
	answers := make(chan answer, 1)
	go func() {
		line, err := c.reader.ReadString('\n')
		answers <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return "", errors.NewAppError(errors.ErrorTypeInterruption, "confirmation cancelled", ctx.Err())
	case a := <-answers:
		if a.err != nil && (a.err != io.EOF || a.line == "") {
			return "", errors.NewAppError(errors.ErrorTypeInterruption, "no answer to confirmation prompt", a.err)
		}
		return strings.TrimSpace(a.line), nil
	}
}

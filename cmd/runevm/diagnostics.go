package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/funvibe/runevm/internal/vm"
)

const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorDim   = "\033[2m"
)

// diagnostics prints errors, in colour when w is a terminal.
type diagnostics struct {
	w     io.Writer
	color bool
}

func newDiagnostics(w io.Writer) *diagnostics {
	d := &diagnostics{w: w}
	if f, ok := w.(*os.File); ok {
		d.color = useColor(f)
	}
	return d
}

func useColor(f *os.File) bool {
	// NO_COLOR convention: https://no-color.org/
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (d *diagnostics) paint(color, s string) string {
	if !d.color {
		return s
	}
	return color + s + colorReset
}

func (d *diagnostics) errorf(path, format string, args ...interface{}) {
	fmt.Fprintf(d.w, "%s: %s %s\n", path, d.paint(colorRed, "error:"), fmt.Sprintf(format, args...))
}

func (d *diagnostics) okf(path, format string, args ...interface{}) {
	fmt.Fprintf(d.w, "%s: %s\n", path, d.paint(colorGreen, fmt.Sprintf(format, args...)))
}

// runtimeError renders a panic with its stack trace.
func (d *diagnostics) runtimeError(path string, err error) {
	d.errorf(path, "%s", err)
	var p *vm.Panic
	if errors.As(err, &p) {
		if len(p.Trace) > 0 {
			fmt.Fprintln(d.w, d.paint(colorDim, p.StackTrace()))
		}
		cliLog.Errorf("%s: %s panic in unit %s", path, p.Kind, p.UnitID)
	}
}

// Package output formats user-facing CLI output: status lines, code
// snippets, and an in-place progress bar. Write errors on a console are
// deliberately ignored.
package output

import (
	"fmt"
	"io"
	"strings"
)

const progressBarWidth = 30

// Writer prints formatted lines to a single destination.
type Writer struct {
	out io.Writer
}

// New creates a Writer printing to out.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints one line prefixed with an icon. An empty icon indents the
// line to align with iconed ones.
func (w *Writer) Status(icon, msg string) {
	if icon == "" {
		icon = "  "
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
}

// Statusf is Status with fmt formatting.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success line.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf is Success with fmt formatting.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf is Warning with fmt formatting.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error line.
func (w *Writer) Error(msg string) {
	w.Status("❌", msg)
}

// Errorf is Error with fmt formatting.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Code prints content as an indented block set off by blank lines.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Progress redraws an in-place progress bar via carriage return. It is a
// no-op until total is known.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}

	pct := 100 * float64(current) / float64(total)
	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", renderProgressBar(current, total, progressBarWidth), pct, msg)

	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

// ProgressDone terminates an in-place progress line.
func (w *Writer) ProgressDone() {
	_, _ = fmt.Fprintln(w.out)
}

func renderProgressBar(current, total, width int) string {
	filled := 0
	if total > 0 {
		filled = current * width / total
	}
	if filled < 0 {
		filled = 0
	} else if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

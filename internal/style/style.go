// Package style provides the lipgloss styles and print helpers used by phx
// commands for stage and outcome lines.
package style

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/steveyegge/phoenix/internal/ui"
)

var (
	// Success style for positive outcomes (green)
	Success = lipgloss.NewStyle().
		Foreground(ui.ColorPass).
		Bold(true)

	// Warning style for cautionary messages (yellow)
	Warning = lipgloss.NewStyle().
		Foreground(ui.ColorWarn).
		Bold(true)

	// Error style for failures (red)
	Error = lipgloss.NewStyle().
		Foreground(ui.ColorFail).
		Bold(true)

	// Info style for informational messages (blue)
	Info = lipgloss.NewStyle().
		Foreground(ui.ColorAccent)

	// Dim style for secondary information (gray)
	Dim = lipgloss.NewStyle().
		Foreground(ui.ColorMuted)

	// Bold style for emphasis
	Bold = lipgloss.NewStyle().
		Bold(true)

	SuccessPrefix = Success.Render(ui.IconPass)
	WarningPrefix = Warning.Render(ui.IconWarn)
	ErrorPrefix   = Error.Render(ui.IconFail)
	ArrowPrefix   = Info.Render(ui.IconArrow)
)

// PrintWarning prints a warning message with consistent formatting.
func PrintWarning(w io.Writer, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(w, "%s %s\n", Warning.Render(ui.IconWarn+" Warning:"), msg)
}

// PrintStage prints "→ <stage>..." for a stage that has started.
func PrintStage(w io.Writer, stage string) {
	fmt.Fprintf(w, "%s %s...\n", ArrowPrefix, stage)
}

// PrintDone prints the outcome of a stage. A nil err is a pass.
func PrintDone(w io.Writer, stage string, err error) {
	if err == nil {
		fmt.Fprintf(w, "  %s %s\n", SuccessPrefix, stage)
		return
	}
	fmt.Fprintf(w, "  %s %s: %s\n", ErrorPrefix, stage, Dim.Render(err.Error()))
}

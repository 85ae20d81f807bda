// Package ui provides terminal styling for phx output: semantic colors,
// status icons, and markdown rendering for the status document.
package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// Ayu theme, adaptive light/dark.
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	BoldStyle   = lipgloss.NewStyle().Bold(true)
)

// Status icons. Plain glyphs so they survive non-emoji terminals.
const (
	IconPass    = "✓"
	IconWarn    = "⚠"
	IconFail    = "✗"
	IconPending = "○"
	IconArrow   = "→"
)

// RenderPassIcon renders the pass icon in its semantic color.
func RenderPassIcon() string { return PassStyle.Render(IconPass) }

// RenderWarnIcon renders the warn icon in its semantic color.
func RenderWarnIcon() string { return WarnStyle.Render(IconWarn) }

// RenderFailIcon renders the fail icon in its semantic color.
func RenderFailIcon() string { return FailStyle.Render(IconFail) }

// RenderPendingIcon renders the pending icon.
func RenderPendingIcon() string { return MutedStyle.Render(IconPending) }

// RenderMuted renders secondary text.
func RenderMuted(s string) string { return MutedStyle.Render(s) }

// RenderAccent renders highlighted text.
func RenderAccent(s string) string { return AccentStyle.Render(s) }

// RenderBold renders emphasized text.
func RenderBold(s string) string { return BoldStyle.Render(s) }

// ShortenPath replaces the home directory prefix with ~.
func ShortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == home {
		return "~"
	}
	if strings.HasPrefix(path, home+string(filepath.Separator)) {
		return "~" + path[len(home):]
	}
	return path
}

// RelativeTime formats t relative to now, like "3m ago".
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < 0:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

// Package ui provides terminal styling for xstash commands.
//
// Colors adapt to light and dark backgrounds and are disabled entirely
// when NO_COLOR is set or stdout is not a terminal.
package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Palette.
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#86D98A"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#B26A00", Dark: "#F5C26B"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#F28B82"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#8AB4F8"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#616161", Dark: "#9E9E9E"}
)

// Styles.
var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	BoldStyle   = lipgloss.NewStyle().Bold(true)
	HeaderStyle = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true).Underline(true)
)

func init() {
	if !ShouldUseColor(os.Getenv, IsTerminal(os.Stdout)) {
		DisableColor()
	}
}

// ShouldUseColor decides whether to emit ANSI colors. NO_COLOR always
// wins, CLICOLOR_FORCE forces color on, otherwise color needs a terminal.
func ShouldUseColor(getenv func(string) string, tty bool) bool {
	if getenv("NO_COLOR") != "" {
		return false
	}
	if v := getenv("CLICOLOR_FORCE"); v != "" && v != "0" {
		return true
	}
	if getenv("TERM") == "dumb" {
		return false
	}
	return tty
}

// DisableColor renders every style as plain text.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// RenderPass renders s as a success marker.
func RenderPass(s string) string { return PassStyle.Render(s) }

// RenderWarn renders s as a warning.
func RenderWarn(s string) string { return WarnStyle.Render(s) }

// RenderFail renders s as an error.
func RenderFail(s string) string { return FailStyle.Render(s) }

// RenderAccent highlights s.
func RenderAccent(s string) string { return AccentStyle.Render(s) }

// RenderMuted de-emphasizes s.
func RenderMuted(s string) string { return MutedStyle.Render(s) }

// RenderBold renders s in bold.
func RenderBold(s string) string { return BoldStyle.Render(s) }

// RenderHeader renders a section title.
func RenderHeader(s string) string { return HeaderStyle.Render(s) }

// USD formats a dollar amount with four decimals.
func USD(v float64) string {
	return fmt.Sprintf("$%.4f", v)
}

// KV renders an indented "label: value" line with the label muted and
// padded to width.
func KV(label string, width int, value any) string {
	return fmt.Sprintf("   %s %v", RenderMuted(fmt.Sprintf("%-*s", width, label+":")), value)
}

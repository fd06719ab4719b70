// Package ui provides terminal styling for the migration ledger.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Ayu theme color palette
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300", // ayu light bright green
		Dark:  "#c2d94c", // ayu dark bright green
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49", // ayu light bright yellow
		Dark:  "#ffb454", // ayu dark bright yellow
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171", // ayu light bright red
		Dark:  "#f07178", // ayu dark bright red
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99", // ayu light muted
		Dark:  "#6c7680", // ayu dark muted
	}
)

// Status styles - consistent across all commands
var (
	PassStyle  = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle  = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle  = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle = lipgloss.NewStyle().Foreground(ColorMuted)
)

// Status icons
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
)

// colorEnabled is decided once: styling is dropped when stdout is not a
// terminal or the environment opts out via NO_COLOR.
var colorEnabled = term.IsTerminal(int(os.Stdout.Fd())) &&
	termenv.EnvColorProfile() != termenv.Ascii

// Success renders one SUCCESS ledger line.
func Success(msg string) string {
	if !colorEnabled {
		return IconPass + " " + msg
	}
	return PassStyle.Render(IconPass) + " " + msg
}

// Failure renders one FAILED ledger line.
func Failure(msg string) string {
	if !colorEnabled {
		return IconFail + " " + msg
	}
	return FailStyle.Render(IconFail) + " " + msg
}

// Warning renders a warning line.
func Warning(msg string) string {
	line := fmt.Sprintf("%s Warning: %s", IconWarn, msg)
	if !colorEnabled {
		return line
	}
	return WarnStyle.Render(line)
}

// Muted renders de-emphasized detail text.
func Muted(msg string) string {
	if !colorEnabled {
		return msg
	}
	return MutedStyle.Render(msg)
}

// ABOUTME: Lipgloss style constants for the execution monitor panels and status colors.
// ABOUTME: StyleForStatus maps node statuses to their display styles.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/dipeo/engine"
)

var (
	BorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62"))

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	PendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	RunningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	CompletedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	FailedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	SkippedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	MaxIterStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("135"))

	LogTimestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	LogEventStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	LogErrorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	LogSuccessStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	StatusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	GateStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(1, 2)
)

// StyleForStatus returns the display style for a node status.
func StyleForStatus(status engine.NodeStatus) lipgloss.Style {
	switch status {
	case engine.StatusRunning:
		return RunningStyle
	case engine.StatusCompleted:
		return CompletedStyle
	case engine.StatusFailed:
		return FailedStyle
	case engine.StatusSkipped:
		return SkippedStyle
	case engine.StatusMaxIterReached:
		return MaxIterStyle
	default:
		return PendingStyle
	}
}

// StatusIcon returns a bracket-style marker for a node status.
func StatusIcon(status engine.NodeStatus) string {
	switch status {
	case engine.StatusRunning:
		return "[~]"
	case engine.StatusCompleted:
		return "[*]"
	case engine.StatusFailed:
		return "[!]"
	case engine.StatusSkipped:
		return "[-]"
	case engine.StatusMaxIterReached:
		return "[^]"
	default:
		return "[ ]"
	}
}

// SpinnerFrames are the Braille-dot animation frames for running nodes.
var SpinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

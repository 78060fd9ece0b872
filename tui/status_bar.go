// ABOUTME: Single-line status bar showing diagram name, execution status, progress, and elapsed time.
// ABOUTME: Rendered at the top of the monitor with the StatusBarStyle background.
package tui

import (
	"fmt"
	"time"
)

// StatusBarModel displays execution progress in a single line.
type StatusBarModel struct {
	diagramName string
	status      string
	totalNodes  int
	completed   int
	startTime   time.Time
	width       int
}

// NewStatusBarModel creates a bar for the named diagram.
func NewStatusBarModel(diagramName string, totalNodes int) StatusBarModel {
	return StatusBarModel{
		diagramName: diagramName,
		status:      "starting",
		totalNodes:  totalNodes,
	}
}

// Start records the execution start time.
func (m *StatusBarModel) Start() { m.startTime = time.Now() }

// SetStatus updates the displayed execution status.
func (m *StatusBarModel) SetStatus(s string) { m.status = s }

// SetCompleted updates the completed node count.
func (m *StatusBarModel) SetCompleted(n int) { m.completed = n }

// SetWidth sets the render width.
func (m *StatusBarModel) SetWidth(w int) { m.width = w }

// Elapsed returns the time since Start, or zero before it.
func (m StatusBarModel) Elapsed() time.Duration {
	if m.startTime.IsZero() {
		return 0
	}
	return time.Since(m.startTime)
}

// View renders the bar.
func (m StatusBarModel) View() string {
	name := m.diagramName
	if name == "" {
		name = "diagram"
	}
	line := fmt.Sprintf("%s | %s | %d/%d nodes | %s",
		name, m.status, m.completed, m.totalNodes, formatElapsed(m.Elapsed()))
	style := StatusBarStyle
	if m.width > 0 {
		style = style.Width(m.width)
	}
	return style.Render(line)
}

// formatElapsed renders durations as "12s" or "2m30s".
func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) - minutes*60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

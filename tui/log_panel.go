// ABOUTME: Scrollable event log panel built on the bubbles viewport component.
// ABOUTME: Color-codes execution events and keeps a bounded backlog of entries.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/dipeo/engine"
)

// LogPanelModel is a scrollable, bounded event log.
type LogPanelModel struct {
	entries  []engine.Event
	max      int
	viewport viewport.Model
	width    int
	height   int
}

// NewLogPanelModel creates a log panel holding at most maxEntries
// events; 0 or less defaults to 200.
func NewLogPanelModel(maxEntries int) LogPanelModel {
	if maxEntries <= 0 {
		maxEntries = 200
	}
	return LogPanelModel{
		entries:  make([]engine.Event, 0, maxEntries),
		max:      maxEntries,
		viewport: viewport.New(80, 10),
	}
}

// Append adds an event, evicting the oldest at capacity. Heartbeats
// are not logged.
func (m *LogPanelModel) Append(ev engine.Event) {
	if ev.Type == engine.EventHeartbeat {
		return
	}
	if len(m.entries) >= m.max {
		m.entries = m.entries[1:]
	}
	m.entries = append(m.entries, ev)
	m.syncViewport()
}

// Len returns the number of logged entries.
func (m LogPanelModel) Len() int { return len(m.entries) }

// SetSize sets the panel dimensions.
func (m *LogPanelModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	vpWidth, vpHeight := w-2, h-3
	if vpWidth < 1 {
		vpWidth = 1
	}
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = vpWidth
	m.viewport.Height = vpHeight
	m.syncViewport()
}

// View renders the panel.
func (m LogPanelModel) View() string {
	content := "No events yet"
	if len(m.entries) > 0 {
		content = m.viewport.View()
	}
	rendered := TitleStyle.Render("EVENTS") + "\n" + content
	if m.width > 4 && m.height > 4 {
		return BorderStyle.Width(m.width - 2).Height(m.height - 2).Render(rendered)
	}
	return rendered
}

func (m *LogPanelModel) syncViewport() {
	var lines []string
	for _, ev := range m.entries {
		lines = append(lines, formatLogLine(ev))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.GotoBottom()
}

func formatLogLine(ev engine.Event) string {
	ts := LogTimestampStyle.Render(ev.Timestamp.Format("15:04:05"))
	label := string(ev.Type)
	if ev.NodeID != "" {
		label = fmt.Sprintf("%s %s", ev.Type, ev.NodeID)
	}
	style := styleForEvent(ev.Type)
	line := fmt.Sprintf("%s %s", ts, style.Render(label))
	if msg, ok := ev.Payload["error"].(string); ok && msg != "" {
		line += " " + LogErrorStyle.Render(msg)
	}
	return line
}

func styleForEvent(t engine.EventType) lipgloss.Style {
	switch t {
	case engine.EventNodeFailed, engine.EventExecutionFailed, engine.EventExecutionAborted:
		return LogErrorStyle
	case engine.EventNodeCompleted, engine.EventExecutionCompleted:
		return LogSuccessStyle
	default:
		return LogEventStyle
	}
}

// ABOUTME: Tests for the event log panel: bounded backlog, heartbeat filtering, and line formatting.
// ABOUTME: Exercises the panel directly without a running Bubble Tea program.
package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/2389-research/dipeo/engine"
)

func TestLogPanelBoundedBacklog(t *testing.T) {
	panel := NewLogPanelModel(3)
	for i := 0; i < 5; i++ {
		panel.Append(engine.Event{Type: engine.EventNodeCompleted, NodeID: "n", Timestamp: time.Now()})
	}
	if panel.Len() != 3 {
		t.Errorf("len = %d, want 3", panel.Len())
	}
}

func TestLogPanelSkipsHeartbeats(t *testing.T) {
	panel := NewLogPanelModel(10)
	panel.Append(engine.Event{Type: engine.EventHeartbeat, Timestamp: time.Now()})
	if panel.Len() != 0 {
		t.Error("heartbeats should not be logged")
	}
}

func TestLogPanelDefaultCapacity(t *testing.T) {
	panel := NewLogPanelModel(0)
	if panel.max != 200 {
		t.Errorf("default max = %d", panel.max)
	}
}

func TestFormatLogLine(t *testing.T) {
	ev := engine.Event{
		Type:      engine.EventNodeFailed,
		NodeID:    "worker",
		Timestamp: time.Date(2026, 1, 2, 10, 30, 0, 0, time.UTC),
		Payload:   map[string]any{"error": "exit status 1"},
	}
	line := formatLogLine(ev)
	for _, want := range []string{"10:30:00", "node_failed", "worker", "exit status 1"} {
		if !strings.Contains(line, want) {
			t.Errorf("line missing %q: %s", want, line)
		}
	}
}

func TestLogPanelViewEmpty(t *testing.T) {
	panel := NewLogPanelModel(10)
	if !strings.Contains(panel.View(), "No events yet") {
		t.Error("empty panel should say so")
	}
}

// ABOUTME: Bubble Tea message types used in the TUI message loop.
// ABOUTME: Each type wraps an execution event or lifecycle signal for the tea.Msg interface.
package tui

import (
	"time"

	"github.com/2389-research/dipeo/engine"
)

// EventBatchMsg carries events drained from the bus subscription.
type EventBatchMsg struct {
	Events []engine.Event
}

// ResultMsg signals that the execution reached a terminal status.
type ResultMsg struct {
	Status engine.ExecStatus
	Err    error
}

// TickMsg is sent periodically to update timers and spinners.
type TickMsg struct {
	Time time.Time
}

// AskRequestMsg signals that a user_response node needs input.
type AskRequestMsg struct {
	Question string
	Options  []string
}

// ABOUTME: Bridge between the engine's event bus and the Bubble Tea message loop.
// ABOUTME: tea.Cmd factories pump bus subscriptions, run executions, and drive the tick loop.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/dipeo/engine"
)

// WaitForEventsCmd returns a tea.Cmd that blocks until the subscription
// signals pending events, then delivers the drained batch. Re-issue it
// after each batch to keep the stream flowing.
func WaitForEventsCmd(sub *engine.Subscription) tea.Cmd {
	return func() tea.Msg {
		<-sub.Events()
		events := sub.Drain()
		if len(events) == 0 {
			return nil
		}
		return EventBatchMsg{Events: events}
	}
}

// WaitForResultCmd returns a tea.Cmd that blocks until the execution
// finishes and reports its terminal status.
func WaitForResultCmd(ctx context.Context, exec *engine.Execution) tea.Cmd {
	return func() tea.Msg {
		_ = exec.Wait(ctx)
		return ResultMsg{Status: exec.Status(), Err: exec.Err()}
	}
}

// WaitForAskCmd returns a tea.Cmd that blocks on the gate's request
// channel and surfaces the next user_response question.
func WaitForAskCmd(gate *Gate) tea.Cmd {
	return func() tea.Msg {
		req, ok := <-gate.requests
		if !ok {
			return nil
		}
		return AskRequestMsg{Question: req.question, Options: req.options}
	}
}

// TickCmd returns a tea.Cmd that sends a TickMsg after the interval.
func TickCmd(interval time.Duration) tea.Cmd {
	return func() tea.Msg {
		time.Sleep(interval)
		return TickMsg{Time: time.Now()}
	}
}

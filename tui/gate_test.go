// ABOUTME: Tests for the user_response gate: Ask handoff over channels and context cancellation.
// ABOUTME: Simulates the message-loop side directly instead of running a tea.Program.
package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func TestGateAskRoundTrip(t *testing.T) {
	gate := NewGate()

	type result struct {
		answer string
		err    error
	}
	got := make(chan result, 1)
	go func() {
		answer, err := gate.Ask(context.Background(), "proceed?", []string{"yes", "no"})
		got <- result{answer, err}
	}()

	// The message-loop side: receive the request, activate, type, submit.
	select {
	case req := <-gate.requests:
		if req.question != "proceed?" {
			t.Errorf("question = %q", req.question)
		}
		gate.Activate(req.question, req.options)
	case <-time.After(time.Second):
		t.Fatal("no ask request arrived")
	}
	if !gate.Active() {
		t.Fatal("gate should be active after Activate")
	}

	gate.input.SetValue("yes")
	gate.Update(tea.KeyMsg{Type: tea.KeyEnter})

	select {
	case r := <-got:
		if r.err != nil {
			t.Fatalf("Ask returned error: %v", r.err)
		}
		if r.answer != "yes" {
			t.Errorf("answer = %q", r.answer)
		}
	case <-time.After(time.Second):
		t.Fatal("Ask did not return")
	}
	if gate.Active() {
		t.Error("gate should deactivate after submit")
	}
}

func TestGateAskCancelled(t *testing.T) {
	gate := NewGate()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := gate.Ask(ctx, "q", nil); err == nil {
		t.Fatal("expected context error")
	}
}

func TestGateViewShowsOptions(t *testing.T) {
	gate := NewGate()
	gate.Activate("pick one", []string{"a", "b"})
	view := gate.View()
	for _, want := range []string{"pick one", "a, b"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

// ABOUTME: Gate bridges the engine's Interviewer port with the Bubble Tea message loop via channels.
// ABOUTME: Renders a styled text-input dialog when a user_response node needs an answer.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/dipeo/engine"
)

var _ engine.Interviewer = (*Gate)(nil)

type askRequest struct {
	question string
	options  []string
}

type askResponse struct {
	answer string
	err    error
}

// Gate implements engine.Interviewer inside the TUI. The engine calls
// Ask from a handler goroutine; the question crosses into the message
// loop over requests and the answer returns over responses.
type Gate struct {
	input     textinput.Model
	question  string
	options   []string
	active    bool
	requests  chan askRequest
	responses chan askResponse
}

// NewGate creates a gate with initialized channels and text input.
func NewGate() Gate {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type your answer..."
	return Gate{
		input:     ti,
		requests:  make(chan askRequest),
		responses: make(chan askResponse, 1),
	}
}

// Ask sends the question to the TUI and blocks until the user answers
// or the context is cancelled.
func (g *Gate) Ask(ctx context.Context, question string, options []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	select {
	case g.requests <- askRequest{question: question, options: options}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case resp := <-g.responses:
		return resp.answer, resp.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Activate shows the dialog for the given question and focuses input.
func (g *Gate) Activate(question string, options []string) tea.Cmd {
	g.question = question
	g.options = options
	g.active = true
	g.input.SetValue("")
	return g.input.Focus()
}

// Active reports whether the dialog is showing.
func (g *Gate) Active() bool { return g.active }

// Update forwards key messages to the text input while active. Enter
// submits the answer back to the waiting handler.
func (g *Gate) Update(msg tea.Msg) tea.Cmd {
	if !g.active {
		return nil
	}
	if key, ok := msg.(tea.KeyMsg); ok && key.Type == tea.KeyEnter {
		answer := strings.TrimSpace(g.input.Value())
		g.active = false
		g.input.Blur()
		g.responses <- askResponse{answer: answer}
		return nil
	}
	var cmd tea.Cmd
	g.input, cmd = g.input.Update(msg)
	return cmd
}

// View renders the dialog.
func (g *Gate) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("INPUT REQUIRED"))
	b.WriteString("\n\n")
	b.WriteString(g.question)
	if len(g.options) > 0 {
		b.WriteString(fmt.Sprintf("\nOptions: %s", strings.Join(g.options, ", ")))
	}
	b.WriteString("\n\n")
	b.WriteString(g.input.View())
	return GateStyle.Render(b.String())
}

// ABOUTME: Top-level Bubble Tea model for the execution monitor: status bar, node board, and event log.
// ABOUTME: Routes bus events and user keys; p pauses, r resumes, q aborts and quits.
package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/dipeo/engine"
)

// AppModel composes the monitor panels and owns the execution handle.
type AppModel struct {
	board     BoardModel
	log       LogPanelModel
	statusBar StatusBarModel
	gate      *Gate

	exec *engine.Execution
	sub  *engine.Subscription
	ctx  context.Context

	done   bool
	err    error
	width  int
	height int
}

// NewAppModel builds the monitor for a started execution. The gate may
// be nil when the diagram has no user_response nodes.
func NewAppModel(ctx context.Context, diagram *engine.ExecutableDiagram, exec *engine.Execution, sub *engine.Subscription, gate *Gate) AppModel {
	name := ""
	total := 0
	if diagram != nil {
		name = diagram.Name
		if name == "" {
			name = diagram.ID
		}
		total = diagram.NodeCount()
	}
	m := AppModel{
		board:     NewBoardModel(diagram),
		log:       NewLogPanelModel(200),
		statusBar: NewStatusBarModel(name, total),
		gate:      gate,
		exec:      exec,
		sub:       sub,
		ctx:       ctx,
	}
	m.statusBar.Start()
	return m
}

// Init starts the event pump, the result waiter, and the tick loop.
func (m AppModel) Init() tea.Cmd {
	cmds := []tea.Cmd{
		WaitForEventsCmd(m.sub),
		WaitForResultCmd(m.ctx, m.exec),
		TickCmd(tickInterval),
	}
	if m.gate != nil {
		cmds = append(cmds, WaitForAskCmd(m.gate))
	}
	return tea.Batch(cmds...)
}

const tickInterval = 100 * time.Millisecond

// Update routes messages to panels.
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case EventBatchMsg:
		for _, ev := range msg.Events {
			m.board.Apply(ev)
			m.log.Append(ev)
		}
		m.statusBar.SetCompleted(m.board.Completed())
		m.statusBar.SetStatus(string(m.exec.Status()))
		if m.done {
			return m, nil
		}
		return m, WaitForEventsCmd(m.sub)

	case ResultMsg:
		m.done = true
		m.err = msg.Err
		m.statusBar.SetStatus(string(msg.Status))
		return m, nil

	case TickMsg:
		m.board.Tick()
		if m.done {
			return m, nil
		}
		return m, TickCmd(tickInterval)

	case AskRequestMsg:
		if m.gate == nil {
			return m, nil
		}
		cmd := m.gate.Activate(msg.Question, msg.Options)
		return m, tea.Batch(cmd, WaitForAskCmd(m.gate))

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m AppModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.gate != nil && m.gate.Active() {
		return m, m.gate.Update(msg)
	}
	switch msg.String() {
	case "q", "ctrl+c":
		if !m.done {
			m.exec.Abort()
		}
		return m, tea.Quit
	case "p":
		m.exec.Pause()
		m.statusBar.SetStatus(string(m.exec.Status()))
	case "r":
		m.exec.Resume()
		m.statusBar.SetStatus(string(m.exec.Status()))
	}
	return m, nil
}

// View renders the monitor.
func (m AppModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.width < 40 || m.height < 10 {
		return fmt.Sprintf("Terminal too small (%dx%d). Minimum: 40x10.", m.width, m.height)
	}

	sections := []string{m.statusBar.View(), m.board.View(), m.log.View()}
	if m.gate != nil && m.gate.Active() {
		sections = append(sections, m.gate.View())
	}
	if m.done {
		footer := "Execution finished. Press q to quit."
		if m.err != nil {
			footer = LogErrorStyle.Render(fmt.Sprintf("Execution failed: %v. Press q to quit.", m.err))
		}
		sections = append(sections, footer)
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// Err returns the execution error observed by the monitor, if any.
func (m AppModel) Err() error { return m.err }

func (m *AppModel) layout() {
	m.statusBar.SetWidth(m.width)
	m.board.SetWidth(m.width)
	logHeight := m.height - 4 - m.board.Total()
	if logHeight < 5 {
		logHeight = 5
	}
	m.log.SetSize(m.width, logHeight)
}

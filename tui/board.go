// ABOUTME: Node board panel: one row per diagram node with status icon, exec count, and timing.
// ABOUTME: Rows follow the diagram's declaration order; running nodes get a spinner frame.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/2389-research/dipeo/engine"
)

// BoardModel tracks per-node display state for the monitor.
type BoardModel struct {
	order    []string
	types    map[string]engine.NodeType
	statuses map[string]engine.NodeStatus
	counts   map[string]int
	started  map[string]time.Time
	elapsed  map[string]time.Duration
	errs     map[string]string

	frame int
	width int
}

// NewBoardModel builds a board for the diagram's nodes, all pending.
func NewBoardModel(diagram *engine.ExecutableDiagram) BoardModel {
	b := BoardModel{
		types:    make(map[string]engine.NodeType),
		statuses: make(map[string]engine.NodeStatus),
		counts:   make(map[string]int),
		started:  make(map[string]time.Time),
		elapsed:  make(map[string]time.Duration),
		errs:     make(map[string]string),
	}
	if diagram != nil {
		for _, n := range diagram.Nodes() {
			b.order = append(b.order, n.ID)
			b.types[n.ID] = n.Type
			b.statuses[n.ID] = engine.StatusPending
		}
	}
	return b
}

// Apply folds one execution event into the board.
func (b *BoardModel) Apply(ev engine.Event) {
	if ev.NodeID == "" {
		return
	}
	switch ev.Type {
	case engine.EventNodeStarted:
		b.statuses[ev.NodeID] = engine.StatusRunning
		b.counts[ev.NodeID]++
		b.started[ev.NodeID] = ev.Timestamp
	case engine.EventNodeCompleted:
		b.statuses[ev.NodeID] = engine.StatusCompleted
		b.markEnded(ev)
	case engine.EventNodeFailed:
		b.statuses[ev.NodeID] = engine.StatusFailed
		b.markEnded(ev)
		if msg, ok := ev.Payload["error"].(string); ok {
			b.errs[ev.NodeID] = msg
		}
	case engine.EventNodeSkipped:
		b.statuses[ev.NodeID] = engine.StatusSkipped
	case engine.EventNodeMaxIter:
		b.statuses[ev.NodeID] = engine.StatusMaxIterReached
	}
}

func (b *BoardModel) markEnded(ev engine.Event) {
	if start, ok := b.started[ev.NodeID]; ok {
		b.elapsed[ev.NodeID] = ev.Timestamp.Sub(start)
	}
}

// Tick advances the spinner frame.
func (b *BoardModel) Tick() { b.frame = (b.frame + 1) % len(SpinnerFrames) }

// SetWidth sets the render width.
func (b *BoardModel) SetWidth(w int) { b.width = w }

// Status returns the tracked status for a node.
func (b *BoardModel) Status(nodeID string) engine.NodeStatus {
	if st, ok := b.statuses[nodeID]; ok {
		return st
	}
	return engine.StatusPending
}

// Completed counts nodes in a terminal-success state.
func (b *BoardModel) Completed() int {
	n := 0
	for _, st := range b.statuses {
		if st == engine.StatusCompleted || st == engine.StatusMaxIterReached {
			n++
		}
	}
	return n
}

// Total returns the number of nodes on the board.
func (b *BoardModel) Total() int { return len(b.order) }

// View renders the board rows.
func (b *BoardModel) View() string {
	var lines []string
	lines = append(lines, TitleStyle.Render("NODES"))
	for _, id := range b.order {
		st := b.Status(id)
		icon := StatusIcon(st)
		if st == engine.StatusRunning {
			icon = fmt.Sprintf("[%s]", SpinnerFrames[b.frame])
		}
		row := fmt.Sprintf("%s %-20s %-12s", icon, truncateTo(id, 20), b.types[id])
		if c := b.counts[id]; c > 1 {
			row += fmt.Sprintf(" x%d", c)
		}
		if d, ok := b.elapsed[id]; ok && st != engine.StatusRunning {
			row += fmt.Sprintf(" %s", d.Truncate(time.Millisecond))
		}
		if msg := b.errs[id]; msg != "" {
			row += " " + truncateTo(msg, 40)
		}
		lines = append(lines, StyleForStatus(st).Render(row))
	}
	content := strings.Join(lines, "\n")
	if b.width > 4 {
		return BorderStyle.Width(b.width - 2).Render(content)
	}
	return content
}

func truncateTo(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

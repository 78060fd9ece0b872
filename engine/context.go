// ABOUTME: Execution context: per-node state, stored envelopes, variables, and execution counts.
// ABOUTME: The scheduler is the sole writer; handlers see a read-only view and stage writes via envelope metadata.
package engine

import (
	"fmt"
	"sync"
	"time"
)

// NodeStatus is a node's lifecycle state within one execution.
type NodeStatus string

const (
	StatusPending        NodeStatus = "pending"
	StatusRunning        NodeStatus = "running"
	StatusCompleted      NodeStatus = "completed"
	StatusFailed         NodeStatus = "failed"
	StatusSkipped        NodeStatus = "skipped"
	StatusMaxIterReached NodeStatus = "maxiter_reached"
	StatusPaused         NodeStatus = "paused"
)

// ExecStatus is the whole execution's lifecycle state.
type ExecStatus string

const (
	ExecStarted   ExecStatus = "started"
	ExecRunning   ExecStatus = "running"
	ExecPaused    ExecStatus = "paused"
	ExecCompleted ExecStatus = "completed"
	ExecFailed    ExecStatus = "failed"
	ExecAborted   ExecStatus = "aborted"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecStatus) Terminal() bool {
	return s == ExecCompleted || s == ExecFailed || s == ExecAborted
}

// NodeState is a snapshot of one node's runtime state.
type NodeState struct {
	NodeID     string     `json:"node_id"`
	Status     NodeStatus `json:"status"`
	ExecCount  int        `json:"exec_count"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at,omitempty"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
}

type outputKey struct {
	nodeID string
	handle string
}

// ExecutionContext holds all mutable state for one execution. All
// mutation goes through the scheduler; everything here is guarded by a
// single mutex and snapshot methods return copies.
type ExecutionContext struct {
	ExecutionID string
	Diagram     *ExecutableDiagram

	mu        sync.RWMutex
	status    ExecStatus
	states    map[string]*NodeState
	outputs   map[outputKey]*Envelope
	variables map[string]any
	branches  map[string]string // condition node id -> taken branch
	startedAt time.Time
	endedAt   time.Time
	execErr   error
}

// NewExecutionContext creates a context with every node pending and the
// given initial variables installed.
func NewExecutionContext(executionID string, diagram *ExecutableDiagram, initialVars map[string]any) *ExecutionContext {
	states := make(map[string]*NodeState, diagram.NodeCount())
	for _, n := range diagram.Nodes() {
		states[n.ID] = &NodeState{NodeID: n.ID, Status: StatusPending}
	}
	vars := make(map[string]any, len(initialVars))
	for k, v := range initialVars {
		vars[k] = v
	}
	return &ExecutionContext{
		ExecutionID: executionID,
		Diagram:     diagram,
		status:      ExecStarted,
		states:      states,
		outputs:     make(map[outputKey]*Envelope),
		variables:   vars,
		branches:    make(map[string]string),
		startedAt:   time.Now().UTC(),
	}
}

// Status returns the execution-level status.
func (c *ExecutionContext) Status() ExecStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// setStatus transitions the execution status. Terminal states are
// sticky; transitions out of them are ignored.
func (c *ExecutionContext) setStatus(s ExecStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Terminal() {
		return
	}
	c.status = s
	if s.Terminal() {
		c.endedAt = time.Now().UTC()
	}
}

func (c *ExecutionContext) setError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.execErr == nil {
		c.execErr = err
	}
}

// Err returns the first error recorded for the execution.
func (c *ExecutionContext) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.execErr
}

// Duration returns elapsed wall time for the execution so far, or the
// total once it ended.
func (c *ExecutionContext) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.endedAt.IsZero() {
		return c.endedAt.Sub(c.startedAt)
	}
	return time.Since(c.startedAt)
}

// NodeState returns a copy of the node's state. Unknown ids report a
// pending state so callers need no nil checks.
func (c *ExecutionContext) NodeState(nodeID string) NodeState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if st, ok := c.states[nodeID]; ok {
		return *st
	}
	return NodeState{NodeID: nodeID, Status: StatusPending}
}

// NodeStates returns a copy of every node's state keyed by node id.
func (c *ExecutionContext) NodeStates() map[string]NodeState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]NodeState, len(c.states))
	for id, st := range c.states {
		out[id] = *st
	}
	return out
}

// ExecCount returns how many times the node has completed.
func (c *ExecutionContext) ExecCount(nodeID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if st, ok := c.states[nodeID]; ok {
		return st.ExecCount
	}
	return 0
}

// markRunning transitions a node to running, bumps its execution count,
// and returns the new count. The count moves on pending->running so a
// handler can see which iteration it is executing.
func (c *ExecutionContext) markRunning(nodeID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.states[nodeID]
	st.Status = StatusRunning
	st.ExecCount++
	st.StartedAt = time.Now().UTC()
	st.Error = ""
	return st.ExecCount
}

// markCompleted transitions a node to completed and stores its output
// envelope under the given handle.
func (c *ExecutionContext) markCompleted(nodeID, handle string, env *Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.states[nodeID]
	st.Status = StatusCompleted
	st.FinishedAt = time.Now().UTC()
	if env != nil {
		c.outputs[outputKey{nodeID: nodeID, handle: handle}] = env
	}
}

// markFailed transitions a node to failed and records the error.
func (c *ExecutionContext) markFailed(nodeID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.states[nodeID]
	st.Status = StatusFailed
	st.FinishedAt = time.Now().UTC()
	if err != nil {
		st.Error = err.Error()
	}
}

// markSkipped transitions a node to skipped and stores the null
// envelope it propagates.
func (c *ExecutionContext) markSkipped(nodeID string, env *Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.states[nodeID]
	st.Status = StatusSkipped
	st.FinishedAt = time.Now().UTC()
	if env != nil {
		c.outputs[outputKey{nodeID: nodeID, handle: DefaultOutput}] = env
	}
}

// markMaxIter transitions a node to maxiter_reached. The node keeps its
// last stored output.
func (c *ExecutionContext) markMaxIter(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.states[nodeID]
	st.Status = StatusMaxIterReached
	st.FinishedAt = time.Now().UTC()
}

// rearm resets a completed or skipped node back to pending so a loop
// can run it again. Execution counts survive the reset.
func (c *ExecutionContext) rearm(nodeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[nodeID]
	if !ok {
		return false
	}
	switch st.Status {
	case StatusCompleted, StatusSkipped:
		st.Status = StatusPending
		return true
	}
	return false
}

// Output returns the latest envelope stored for the node's handle, or
// nil when the node has not produced on it.
func (c *ExecutionContext) Output(nodeID, handle string) *Envelope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.outputs[outputKey{nodeID: nodeID, handle: handle}]
}

// markBranchTaken records the branch a condition node chose on its
// latest execution.
func (c *ExecutionContext) markBranchTaken(condNodeID, branch string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.branches[condNodeID] = branch
}

// BranchTaken returns the branch recorded for a condition node, or ""
// when it has not decided yet.
func (c *ExecutionContext) BranchTaken(condNodeID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.branches[condNodeID]
}

// BranchDecisions returns a copy of every recorded branch decision.
func (c *ExecutionContext) BranchDecisions() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.branches))
	for k, v := range c.branches {
		out[k] = v
	}
	return out
}

// Variable returns a named execution variable.
func (c *ExecutionContext) Variable(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[name]
	return v, ok
}

// Variables returns a copy of all execution variables.
func (c *ExecutionContext) Variables() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// setVariables applies staged variable writes from a completed node's
// envelope metadata. Last write wins.
func (c *ExecutionContext) setVariables(vars map[string]any) {
	if len(vars) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range vars {
		c.variables[k] = v
	}
}

// Summary renders a one-line progress summary for logs.
func (c *ExecutionContext) Summary() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var done, failed, skipped int
	for _, st := range c.states {
		switch st.Status {
		case StatusCompleted, StatusMaxIterReached:
			done++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return fmt.Sprintf("execution=%s status=%s completed=%d failed=%d skipped=%d total=%d",
		c.ExecutionID, c.status, done, failed, skipped, len(c.states))
}

// ContextView is the read-only face of the execution context handed to
// handlers. Handlers stage writes through envelope metadata; they never
// mutate the context directly.
type ContextView struct {
	ctx *ExecutionContext
}

// View returns a read-only view of the context.
func (c *ExecutionContext) View() *ContextView { return &ContextView{ctx: c} }

// ExecutionID returns the execution identifier.
func (v *ContextView) ExecutionID() string { return v.ctx.ExecutionID }

// Diagram returns the executable diagram being run.
func (v *ContextView) Diagram() *ExecutableDiagram { return v.ctx.Diagram }

// NodeState returns a copy of the node's state.
func (v *ContextView) NodeState(nodeID string) NodeState { return v.ctx.NodeState(nodeID) }

// ExecCount returns how many times the node has completed.
func (v *ContextView) ExecCount(nodeID string) int { return v.ctx.ExecCount(nodeID) }

// Output returns the latest envelope on the node's handle.
func (v *ContextView) Output(nodeID, handle string) *Envelope { return v.ctx.Output(nodeID, handle) }

// BranchTaken returns the branch recorded for a condition node.
func (v *ContextView) BranchTaken(condNodeID string) string { return v.ctx.BranchTaken(condNodeID) }

// Variable returns a named execution variable.
func (v *ContextView) Variable(name string) (any, bool) { return v.ctx.Variable(name) }

// Variables returns a copy of all execution variables.
func (v *ContextView) Variables() map[string]any { return v.ctx.Variables() }

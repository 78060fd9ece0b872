// ABOUTME: Checkpoint serialization for persisting execution state snapshots to disk.
// ABOUTME: Supports JSON save/load so finished or paused executions can be inspected and resumed.
package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Checkpoint is a serializable snapshot of one execution's state.
type Checkpoint struct {
	Timestamp       time.Time            `json:"timestamp"`
	ExecutionID     string               `json:"execution_id"`
	DiagramID       string               `json:"diagram_id"`
	Status          ExecStatus           `json:"status"`
	NodeStates      map[string]NodeState `json:"node_states"`
	Variables       map[string]any       `json:"variables"`
	BranchDecisions map[string]string    `json:"branch_decisions"`
	Outputs         map[string]*Envelope `json:"outputs"` // "node:handle" keys
}

// NewCheckpoint snapshots the execution context.
func NewCheckpoint(ec *ExecutionContext) *Checkpoint {
	outputs := make(map[string]*Envelope)
	for _, node := range ec.Diagram.Nodes() {
		handles := []string{DefaultOutput, BranchTrue, BranchFalse}
		for _, handle := range handles {
			if env := ec.Output(node.ID, handle); env != nil {
				outputs[node.ID+":"+handle] = env
			}
		}
	}
	return &Checkpoint{
		Timestamp:       time.Now().UTC(),
		ExecutionID:     ec.ExecutionID,
		DiagramID:       ec.Diagram.ID,
		Status:          ec.Status(),
		NodeStates:      ec.NodeStates(),
		Variables:       ec.Variables(),
		BranchDecisions: ec.BranchDecisions(),
		Outputs:         outputs,
	}
}

// Save serializes the checkpoint to JSON and writes it to the given path.
func (cp *Checkpoint) Save(path string) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint deserializes a checkpoint from JSON at the given path.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

// ListCheckpoints loads every checkpoint file in a directory, newest
// first. Files that fail to decode are skipped rather than aborting the
// listing, since a checkpoint dir often mixes runs from many versions.
func ListCheckpoints(dir string) ([]*Checkpoint, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint dir: %w", err)
	}
	var cps []*Checkpoint
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		cp, err := LoadCheckpoint(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		cps = append(cps, cp)
	}
	sort.Slice(cps, func(i, j int) bool { return cps[i].Timestamp.After(cps[j].Timestamp) })
	return cps, nil
}

// Restore builds a fresh execution context pre-seeded with the
// checkpoint's node states, outputs, variables, and branch decisions.
// Nodes recorded as running are reset to pending so they re-dispatch.
func (cp *Checkpoint) Restore(diagram *ExecutableDiagram) (*ExecutionContext, error) {
	if diagram == nil {
		return nil, fmt.Errorf("nil diagram")
	}
	if cp.DiagramID != "" && diagram.ID != cp.DiagramID {
		return nil, fmt.Errorf("checkpoint is for diagram %s, got %s", cp.DiagramID, diagram.ID)
	}

	ec := NewExecutionContext(cp.ExecutionID, diagram, cp.Variables)
	ec.mu.Lock()
	for id, st := range cp.NodeStates {
		copied := st
		if copied.Status == StatusRunning || copied.Status == StatusPaused {
			copied.Status = StatusPending
		}
		ec.states[id] = &copied
	}
	for key, env := range cp.Outputs {
		nodeID, handle := splitOutputKey(key)
		if nodeID != "" {
			ec.outputs[outputKey{nodeID: nodeID, handle: handle}] = env
		}
	}
	for cond, branch := range cp.BranchDecisions {
		ec.branches[cond] = branch
	}
	ec.mu.Unlock()
	return ec, nil
}

func splitOutputKey(key string) (nodeID, handle string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return key, DefaultOutput
}

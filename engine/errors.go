// ABOUTME: Error taxonomy for compilation and input resolution, each carrying enough context to locate the fault.
// ABOUTME: All types support errors.As so callers can branch on the failure class.
package engine

import (
	"fmt"
	"strings"
)

// CompileError reports a semantic problem found while compiling a
// declarative diagram. Diagnostics holds one message per violation.
type CompileError struct {
	Diagnostics []Diagnostic
}

func (e *CompileError) Error() string {
	if len(e.Diagnostics) == 0 {
		return "compile failed"
	}
	msgs := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		msgs = append(msgs, d.String())
	}
	return fmt.Sprintf("compile failed with %d error(s): %s", len(e.Diagnostics), strings.Join(msgs, "; "))
}

// InputResolutionError reports a failure while assembling a node's
// inputs from its incoming edges.
type InputResolutionError struct {
	NodeID string
	Edge   string // canonical edge key, empty when the failure is node-level
	Stage  string // pipeline stage name
	Err    error
}

func (e *InputResolutionError) Error() string {
	if e.Edge != "" {
		return fmt.Sprintf("resolve inputs for node %s (edge %s, stage %s): %v", e.NodeID, e.Edge, e.Stage, e.Err)
	}
	return fmt.Sprintf("resolve inputs for node %s (stage %s): %v", e.NodeID, e.Stage, e.Err)
}

func (e *InputResolutionError) Unwrap() error { return e.Err }

// TransformationError reports a transform rule that could not be
// applied to an edge's value.
type TransformationError struct {
	Edge string
	Rule TransformRule
	Err  error
}

func (e *TransformationError) Error() string {
	return fmt.Sprintf("transform %s on edge %s: %v", e.Rule, e.Edge, e.Err)
}

func (e *TransformationError) Unwrap() error { return e.Err }

// SpreadCollisionError reports two spread edges (or a spread edge and a
// packed input) writing the same key into one node's input map.
type SpreadCollisionError struct {
	NodeID string
	Key    string
	Edges  []string // the edge keys that collided
}

func (e *SpreadCollisionError) Error() string {
	return fmt.Sprintf("spread collision on node %s key %q between edges %s",
		e.NodeID, e.Key, strings.Join(e.Edges, " and "))
}

// DependencyNotReadyError reports a node dispatched before a dependency
// produced output. The scheduler treats this as an internal invariant
// violation, not a user error.
type DependencyNotReadyError struct {
	NodeID     string
	Dependency string
}

func (e *DependencyNotReadyError) Error() string {
	return fmt.Sprintf("node %s dispatched before dependency %s produced output", e.NodeID, e.Dependency)
}

// NodeExecutionError wraps a handler failure with the node identity so
// event payloads and summaries can attribute it.
type NodeExecutionError struct {
	NodeID   string
	NodeType NodeType
	Err      error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s (%s) failed: %v", e.NodeID, e.NodeType, e.Err)
}

func (e *NodeExecutionError) Unwrap() error { return e.Err }

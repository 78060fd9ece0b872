// ABOUTME: Diagram validation rules that check graph structure and node configuration before compilation.
// ABOUTME: Provides a pluggable LintRule interface, built-in rules, Validate, and ValidateOrError functions.
package engine

import (
	"fmt"

	"github.com/2389-research/dipeo/conversation"
	"github.com/2389-research/dipeo/diagram"
)

// Severity represents diagnostic severity level.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

// String returns a human-readable name for the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	case SeverityInfo:
		return "INFO"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Diagnostic represents a validation finding.
type Diagnostic struct {
	Rule     string
	Severity Severity
	Message  string
	NodeID   string     // optional
	Edge     *[2]string // optional (source, target)
	Fix      string     // optional suggested fix
}

// String renders the diagnostic for error messages and CLI output.
func (d Diagnostic) String() string {
	loc := ""
	if d.NodeID != "" {
		loc = fmt.Sprintf(" node=%s", d.NodeID)
	} else if d.Edge != nil {
		loc = fmt.Sprintf(" edge=%s->%s", d.Edge[0], d.Edge[1])
	}
	return fmt.Sprintf("[%s] %s:%s %s", d.Severity, d.Rule, loc, d.Message)
}

// LintRule is the interface for validation rules.
type LintRule interface {
	Name() string
	Apply(d *diagram.Diagram) []Diagnostic
}

// builtinRules returns all built-in lint rules.
func builtinRules() []LintRule {
	return []LintRule{
		&uniqueNodeIDRule{},
		&startNodeRule{},
		&endNodeRule{},
		&typeKnownRule{},
		&arrowEndpointsRule{},
		&reachabilityRule{},
		&conditionBranchesRule{},
		&personExistsRule{},
		&memoryPolicyRule{},
		&packingValidRule{},
		&cycleRule{},
	}
}

// Validate runs all built-in lint rules plus any extra rules on the diagram.
func Validate(d *diagram.Diagram, extraRules ...LintRule) []Diagnostic {
	var diags []Diagnostic

	rules := builtinRules()
	rules = append(rules, extraRules...)

	for _, rule := range rules {
		diags = append(diags, rule.Apply(d)...)
	}

	return diags
}

// ValidateOrError runs validation and returns an error if any ERROR-severity diagnostics exist.
func ValidateOrError(d *diagram.Diagram, extraRules ...LintRule) ([]Diagnostic, error) {
	diags := Validate(d, extraRules...)

	var errs []Diagnostic
	for _, dg := range diags {
		if dg.Severity == SeverityError {
			errs = append(errs, dg)
		}
	}

	if len(errs) > 0 {
		return diags, &CompileError{Diagnostics: errs}
	}

	return diags, nil
}

// --- Built-in lint rules ---

// uniqueNodeIDRule checks that no node id appears twice.
type uniqueNodeIDRule struct{}

func (r *uniqueNodeIDRule) Name() string { return "unique_node_id" }

func (r *uniqueNodeIDRule) Apply(d *diagram.Diagram) []Diagnostic {
	seen := make(map[string]bool)
	var diags []Diagnostic
	for _, n := range d.Nodes {
		if seen[n.ID] {
			diags = append(diags, Diagnostic{
				Rule:     r.Name(),
				Severity: SeverityError,
				Message:  fmt.Sprintf("node id %q declared more than once", n.ID),
				NodeID:   n.ID,
				Fix:      "rename one of the duplicate nodes",
			})
		}
		seen[n.ID] = true
	}
	return diags
}

// startNodeRule checks that exactly one start node exists.
type startNodeRule struct{}

func (r *startNodeRule) Name() string { return "start_node" }

func (r *startNodeRule) Apply(d *diagram.Diagram) []Diagnostic {
	var starts []string
	for _, n := range d.Nodes {
		if NodeType(n.Type) == NodeStart {
			starts = append(starts, n.ID)
		}
	}

	switch len(starts) {
	case 0:
		return []Diagnostic{{
			Rule:     r.Name(),
			Severity: SeverityError,
			Message:  "diagram has no start node",
			Fix:      "add a node with type=start",
		}}
	case 1:
		return nil
	default:
		return []Diagnostic{{
			Rule:     r.Name(),
			Severity: SeverityError,
			Message:  fmt.Sprintf("diagram has %d start nodes, expected exactly 1: %v", len(starts), starts),
			Fix:      "keep a single type=start node",
		}}
	}
}

// endNodeRule warns when a diagram has no end node. Executions still
// terminate via the stall classifier, but results are harder to read.
type endNodeRule struct{}

func (r *endNodeRule) Name() string { return "end_node" }

func (r *endNodeRule) Apply(d *diagram.Diagram) []Diagnostic {
	for _, n := range d.Nodes {
		if NodeType(n.Type) == NodeEnd {
			return nil
		}
	}
	return []Diagnostic{{
		Rule:     r.Name(),
		Severity: SeverityWarning,
		Message:  "diagram has no end node",
		Fix:      "add a node with type=end to mark the terminal output",
	}}
}

// typeKnownRule checks that every node declares a recognized type.
type typeKnownRule struct{}

func (r *typeKnownRule) Name() string { return "type_known" }

func (r *typeKnownRule) Apply(d *diagram.Diagram) []Diagnostic {
	var diags []Diagnostic
	for _, n := range d.Nodes {
		if !KnownNodeTypes[NodeType(n.Type)] {
			diags = append(diags, Diagnostic{
				Rule:     r.Name(),
				Severity: SeverityError,
				Message:  fmt.Sprintf("node %q has unknown type %q", n.ID, n.Type),
				NodeID:   n.ID,
				Fix:      "use one of the recognized node types",
			})
		}
	}
	return diags
}

// arrowEndpointsRule checks that every arrow references existing nodes.
type arrowEndpointsRule struct{}

func (r *arrowEndpointsRule) Name() string { return "arrow_endpoints" }

func (r *arrowEndpointsRule) Apply(d *diagram.Diagram) []Diagnostic {
	var diags []Diagnostic
	for _, a := range d.Arrows {
		src, _ := diagram.ParseHandleRef(a.Source)
		dst, _ := diagram.ParseHandleRef(a.Target)
		if d.FindNode(src.NodeID) == nil {
			edge := [2]string{a.Source, a.Target}
			diags = append(diags, Diagnostic{
				Rule:     r.Name(),
				Severity: SeverityError,
				Message:  fmt.Sprintf("arrow source node %q does not exist", src.NodeID),
				Edge:     &edge,
				Fix:      fmt.Sprintf("add node %q or fix the arrow source", src.NodeID),
			})
		}
		if d.FindNode(dst.NodeID) == nil {
			edge := [2]string{a.Source, a.Target}
			diags = append(diags, Diagnostic{
				Rule:     r.Name(),
				Severity: SeverityError,
				Message:  fmt.Sprintf("arrow target node %q does not exist", dst.NodeID),
				Edge:     &edge,
				Fix:      fmt.Sprintf("add node %q or fix the arrow target", dst.NodeID),
			})
		}
	}
	return diags
}

// reachabilityRule checks that all nodes are reachable from the start node via BFS.
type reachabilityRule struct{}

func (r *reachabilityRule) Name() string { return "reachability" }

func (r *reachabilityRule) Apply(d *diagram.Diagram) []Diagnostic {
	var startID string
	for _, n := range d.Nodes {
		if NodeType(n.Type) == NodeStart {
			startID = n.ID
			break
		}
	}
	if startID == "" {
		// Can't check reachability without a start node; start_node rule handles this.
		return nil
	}

	next := make(map[string][]string)
	for _, a := range d.Arrows {
		src, _ := diagram.ParseHandleRef(a.Source)
		dst, _ := diagram.ParseHandleRef(a.Target)
		next[src.NodeID] = append(next[src.NodeID], dst.NodeID)
	}

	visited := map[string]bool{startID: true}
	queue := []string{startID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, to := range next[current] {
			if !visited[to] {
				visited[to] = true
				queue = append(queue, to)
			}
		}
	}

	var diags []Diagnostic
	for _, n := range d.Nodes {
		if !visited[n.ID] {
			diags = append(diags, Diagnostic{
				Rule:     r.Name(),
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("node %q is not reachable from start node %q", n.ID, startID),
				NodeID:   n.ID,
				Fix:      fmt.Sprintf("add an arrow path from start to %q", n.ID),
			})
		}
	}

	return diags
}

// conditionBranchesRule checks that condition nodes route both branches.
// A missing branch is legal (the branch is simply never taken) but
// usually a mistake, so it warns.
type conditionBranchesRule struct{}

func (r *conditionBranchesRule) Name() string { return "condition_branches" }

func (r *conditionBranchesRule) Apply(d *diagram.Diagram) []Diagnostic {
	outputs := make(map[string]map[string]bool)
	for _, a := range d.Arrows {
		src, _ := diagram.ParseHandleRef(a.Source)
		if outputs[src.NodeID] == nil {
			outputs[src.NodeID] = make(map[string]bool)
		}
		outputs[src.NodeID][src.Handle] = true
	}

	var diags []Diagnostic
	for _, n := range d.Nodes {
		if NodeType(n.Type) != NodeCondition {
			continue
		}
		for _, branch := range []string{BranchTrue, BranchFalse} {
			if !outputs[n.ID][branch] {
				diags = append(diags, Diagnostic{
					Rule:     r.Name(),
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("condition node %q has no arrow on output %q", n.ID, branch),
					NodeID:   n.ID,
					Fix:      fmt.Sprintf("connect %s:%s to a downstream node", n.ID, branch),
				})
			}
		}
	}
	return diags
}

// personExistsRule checks that person_job nodes reference declared persons.
type personExistsRule struct{}

func (r *personExistsRule) Name() string { return "person_exists" }

func (r *personExistsRule) Apply(d *diagram.Diagram) []Diagnostic {
	var diags []Diagnostic
	for _, n := range d.Nodes {
		if NodeType(n.Type) != NodePersonJob {
			continue
		}
		personID, _ := n.Props["person"].(string)
		if personID == "" {
			diags = append(diags, Diagnostic{
				Rule:     r.Name(),
				Severity: SeverityError,
				Message:  fmt.Sprintf("person_job node %q does not name a person", n.ID),
				NodeID:   n.ID,
				Fix:      "set props.person to a declared person id",
			})
			continue
		}
		if d.FindPerson(personID) == nil {
			diags = append(diags, Diagnostic{
				Rule:     r.Name(),
				Severity: SeverityError,
				Message:  fmt.Sprintf("person_job node %q references undeclared person %q", n.ID, personID),
				NodeID:   n.ID,
				Fix:      fmt.Sprintf("declare person %q or fix the reference", personID),
			})
		}
	}
	return diags
}

// memoryPolicyRule checks that declared memory policies are recognized.
type memoryPolicyRule struct{}

func (r *memoryPolicyRule) Name() string { return "memory_policy" }

func (r *memoryPolicyRule) Apply(d *diagram.Diagram) []Diagnostic {
	var diags []Diagnostic
	for _, n := range d.Nodes {
		if NodeType(n.Type) != NodePersonJob {
			continue
		}
		policy, _ := n.Props["memory_policy"].(string)
		if policy == "" {
			continue
		}
		if !conversation.ValidPolicy(conversation.MemoryPolicy(policy)) {
			diags = append(diags, Diagnostic{
				Rule:     r.Name(),
				Severity: SeverityError,
				Message:  fmt.Sprintf("node %q has unknown memory policy %q", n.ID, policy),
				NodeID:   n.ID,
				Fix:      "use no_forget, on_every_turn, or upon_request",
			})
		}
	}
	return diags
}

// cycleRule reports cycles at INFO severity. Loops through condition
// nodes are the normal way to iterate, so a cycle is information for the
// reader, never a defect on its own.
type cycleRule struct{}

func (r *cycleRule) Name() string { return "cycle" }

func (r *cycleRule) Apply(d *diagram.Diagram) []Diagnostic {
	next := make(map[string][]string)
	for _, a := range d.Arrows {
		src, _ := diagram.ParseHandleRef(a.Source)
		dst, _ := diagram.ParseHandleRef(a.Target)
		next[src.NodeID] = append(next[src.NodeID], dst.NodeID)
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int)
	var diags []Diagnostic

	var visit func(id string)
	visit = func(id string) {
		state[id] = inStack
		for _, to := range next[id] {
			switch state[to] {
			case unvisited:
				visit(to)
			case inStack:
				diags = append(diags, Diagnostic{
					Rule:     r.Name(),
					Severity: SeverityInfo,
					Message:  fmt.Sprintf("cycle detected through edge %s->%s", id, to),
					NodeID:   to,
				})
			}
		}
		state[id] = done
	}
	for _, n := range d.Nodes {
		if state[n.ID] == unvisited {
			visit(n.ID)
		}
	}
	return diags
}

// packingValidRule checks arrow packing values.
type packingValidRule struct{}

func (r *packingValidRule) Name() string { return "packing_valid" }

func (r *packingValidRule) Apply(d *diagram.Diagram) []Diagnostic {
	var diags []Diagnostic
	for _, a := range d.Arrows {
		switch Packing(a.Packing) {
		case PackingPack, PackingSpread, "":
		default:
			edge := [2]string{a.Source, a.Target}
			diags = append(diags, Diagnostic{
				Rule:     r.Name(),
				Severity: SeverityError,
				Message:  fmt.Sprintf("arrow %s->%s has unknown packing %q", a.Source, a.Target, a.Packing),
				Edge:     &edge,
				Fix:      "use pack or spread",
			})
		}
	}
	return diags
}

// ABOUTME: Tests for diagram validation rules and the compiler's node/arrow translation.
// ABOUTME: Builds diagrams in-memory and checks diagnostics, config decoding, and edge indexes.
package engine

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/2389-research/dipeo/diagram"
)

func linearDiagram() *diagram.Diagram {
	return &diagram.Diagram{
		ID: "linear",
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "work", Type: "code_job", Props: map[string]any{
				"language": "bash", "code": "echo hi",
			}},
			{ID: "finish", Type: "end"},
		},
		Arrows: []diagram.Arrow{
			{Source: "start", Target: "work"},
			{Source: "work", Target: "finish"},
		},
	}
}

func TestCompileLinearDiagram(t *testing.T) {
	compiled, diags, err := Compile(linearDiagram())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	for _, d := range diags {
		if d.Severity == SeverityError {
			t.Errorf("unexpected error diagnostic: %s", d)
		}
	}
	if compiled.NodeCount() != 3 {
		t.Errorf("node count = %d", compiled.NodeCount())
	}
	if compiled.StartNode() == nil || compiled.StartNode().ID != "start" {
		t.Error("start node not identified")
	}
	if len(compiled.IncomingEdges("work")) != 1 || len(compiled.OutgoingEdges("work")) != 1 {
		t.Error("edge indexes wrong for work")
	}
	work := compiled.Node("work")
	if work == nil || work.CodeJob == nil {
		t.Fatal("code_job config not decoded")
	}
	if work.CodeJob.Language != "bash" || work.CodeJob.Source != "echo hi" {
		t.Errorf("code_job config = %+v", work.CodeJob)
	}
	if work.CodeJob.Timeout != 60*time.Second {
		t.Errorf("default timeout = %v", work.CodeJob.Timeout)
	}
}

func TestCompileRejectsMissingStart(t *testing.T) {
	d := &diagram.Diagram{
		Nodes:  []diagram.Node{{ID: "finish", Type: "end"}},
		Arrows: nil,
	}
	_, diags, err := Compile(d)
	if err == nil {
		t.Fatal("expected compile error")
	}
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("error type = %T", err)
	}
	if !hasRule(diags, "start_node", SeverityError) {
		t.Errorf("diagnostics = %v", diags)
	}
}

func TestCompileRejectsDuplicateNodeIDs(t *testing.T) {
	d := linearDiagram()
	d.Nodes = append(d.Nodes, diagram.Node{ID: "work", Type: "end"})
	_, diags, err := Compile(d)
	if err == nil {
		t.Fatal("expected compile error")
	}
	if !hasRule(diags, "unique_node_id", SeverityError) {
		t.Errorf("diagnostics = %v", diags)
	}
}

func TestCompileRejectsDanglingArrow(t *testing.T) {
	d := linearDiagram()
	d.Arrows = append(d.Arrows, diagram.Arrow{Source: "work", Target: "ghost"})
	_, diags, err := Compile(d)
	if err == nil {
		t.Fatal("expected compile error")
	}
	if !hasRule(diags, "arrow_endpoints", SeverityError) {
		t.Errorf("diagnostics = %v", diags)
	}
}

func TestCompileRejectsUnknownNodeType(t *testing.T) {
	d := linearDiagram()
	d.Nodes[1].Type = "quantum_job"
	if _, diags, err := Compile(d); err == nil {
		t.Fatal("expected compile error")
	} else if !hasRule(diags, "type_known", SeverityError) {
		t.Errorf("diagnostics = %v", diags)
	}
}

func TestUnreachableNodeWarns(t *testing.T) {
	d := linearDiagram()
	d.Nodes = append(d.Nodes, diagram.Node{ID: "island", Type: "end"})
	compiled, diags, err := Compile(d)
	if err != nil {
		t.Fatalf("warnings should not fail compilation: %v", err)
	}
	if compiled == nil {
		t.Fatal("nil compiled diagram")
	}
	if !hasRule(diags, "reachability", SeverityWarning) {
		t.Errorf("diagnostics = %v", diags)
	}
}

func TestConditionBranchWarnings(t *testing.T) {
	d := &diagram.Diagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "gate", Type: "condition", Props: map[string]any{"expression": "x > 1"}},
			{ID: "finish", Type: "end"},
		},
		Arrows: []diagram.Arrow{
			{Source: "start", Target: "gate"},
			{Source: "gate:condtrue", Target: "finish"},
		},
	}
	_, diags, err := Compile(d)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	found := false
	for _, dg := range diags {
		if dg.Rule == "condition_branches" && strings.Contains(dg.Message, "condfalse") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing condfalse warning, diagnostics = %v", diags)
	}
}

func TestPersonJobRequiresDeclaredPerson(t *testing.T) {
	d := &diagram.Diagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "ask", Type: "person_job", Props: map[string]any{"person": "nobody"}},
			{ID: "finish", Type: "end"},
		},
		Arrows: []diagram.Arrow{
			{Source: "start", Target: "ask"},
			{Source: "ask", Target: "finish"},
		},
	}
	if _, diags, err := Compile(d); err == nil {
		t.Fatal("expected compile error")
	} else if !hasRule(diags, "person_exists", SeverityError) {
		t.Errorf("diagnostics = %v", diags)
	}

	d.Persons = []diagram.Person{{ID: "nobody", Model: "gpt-4o-mini"}}
	compiled, _, err := Compile(d)
	if err != nil {
		t.Fatalf("compile with declared person: %v", err)
	}
	if compiled.Person("nobody") == nil {
		t.Error("person not carried into executable diagram")
	}
}

func TestMemoryPolicyValidation(t *testing.T) {
	d := &diagram.Diagram{
		Persons: []diagram.Person{{ID: "p", Model: "m"}},
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "ask", Type: "person_job", Props: map[string]any{
				"person": "p", "memory_policy": "photographic",
			}},
		},
		Arrows: []diagram.Arrow{{Source: "start", Target: "ask"}},
	}
	if _, diags, err := Compile(d); err == nil {
		t.Fatal("expected compile error")
	} else if !hasRule(diags, "memory_policy", SeverityError) {
		t.Errorf("diagnostics = %v", diags)
	}
}

func TestInvalidPackingRejected(t *testing.T) {
	d := linearDiagram()
	d.Arrows[0].Packing = "shuffle"
	if _, diags, err := Compile(d); err == nil {
		t.Fatal("expected compile error")
	} else if !hasRule(diags, "packing_valid", SeverityError) {
		t.Errorf("diagnostics = %v", diags)
	}
}

func TestCompileDefaultsPackingToPack(t *testing.T) {
	compiled, _, err := Compile(linearDiagram())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range compiled.Edges() {
		if e.Packing != PackingPack {
			t.Errorf("edge %s->%s packing = %q", e.Source, e.Target, e.Packing)
		}
	}
}

func TestCompileParsesHandleRefs(t *testing.T) {
	d := &diagram.Diagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "gate", Type: "condition", Props: map[string]any{"expression": "true"}},
			{ID: "a", Type: "end"},
			{ID: "b", Type: "end"},
		},
		Arrows: []diagram.Arrow{
			{Source: "start", Target: "gate"},
			{Source: "gate:condtrue", Target: "a", Label: "yes"},
			{Source: "gate:condfalse", Target: "b"},
		},
	}
	compiled, _, err := Compile(d)
	if err != nil {
		t.Fatal(err)
	}
	out := compiled.OutgoingEdges("gate")
	if len(out) != 2 {
		t.Fatalf("gate outgoing edges = %d", len(out))
	}
	handles := map[string]bool{}
	for _, e := range out {
		handles[e.SourceOutput] = true
		if e.SourceOutput == BranchTrue && e.Metadata[MetaLabel] != "yes" {
			t.Errorf("label metadata = %v", e.Metadata)
		}
	}
	if !handles[BranchTrue] || !handles[BranchFalse] {
		t.Errorf("handles = %v", handles)
	}
}

func TestCompileRejectsBadConditionConfig(t *testing.T) {
	d := &diagram.Diagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "gate", Type: "condition", Props: map[string]any{"evaluator": "coin_flip"}},
		},
		Arrows: []diagram.Arrow{{Source: "start", Target: "gate"}},
	}
	if _, _, err := Compile(d); err == nil {
		t.Fatal("expected error for unknown evaluator")
	}

	d.Nodes[1].Props = map[string]any{"evaluator": "custom_expression"}
	if _, _, err := Compile(d); err == nil {
		t.Fatal("expected error for missing expression")
	}
}

func TestPropsDuration(t *testing.T) {
	p := props(map[string]any{
		"str":   "45s",
		"int":   10,
		"float": 1.5,
		"junk":  "not-a-duration",
	})
	if got := p.duration("str", 0); got != 45*time.Second {
		t.Errorf("string duration = %v", got)
	}
	if got := p.duration("int", 0); got != 10*time.Second {
		t.Errorf("int duration = %v", got)
	}
	if got := p.duration("float", 0); got != 1500*time.Millisecond {
		t.Errorf("float duration = %v", got)
	}
	if got := p.duration("junk", 7*time.Second); got != 7*time.Second {
		t.Errorf("fallback duration = %v", got)
	}
	if got := p.duration("absent", 3*time.Second); got != 3*time.Second {
		t.Errorf("absent duration = %v", got)
	}
}

func TestCompileIsDeterministicWithoutDiagramID(t *testing.T) {
	d := linearDiagram()
	d.ID = ""
	d.Name = "linear flow"

	first, _, err := Compile(d)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	second, _, err := Compile(d)
	if err != nil {
		t.Fatalf("recompile: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("compiled ids differ: %q vs %q", first.ID, second.ID)
	}
	if first.ID != "linear flow" {
		t.Errorf("compiled id = %q", first.ID)
	}
}

func TestCompileMarksLoopMembers(t *testing.T) {
	d := linearDiagram()
	d.Arrows = append(d.Arrows, diagram.Arrow{Source: "work", Target: "start"})
	compiled, _, err := Compile(d)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	for _, id := range []string{"start", "work"} {
		if !compiled.Node(id).InLoop {
			t.Errorf("node %s not marked as loop member", id)
		}
	}
	if compiled.Node("finish").InLoop {
		t.Error("finish is not on the cycle")
	}
}

func TestMissingEndNodeWarns(t *testing.T) {
	d := linearDiagram()
	d.Nodes = d.Nodes[:2] // drop the end node
	d.Arrows = d.Arrows[:1]
	_, diags, err := Compile(d)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !hasRule(diags, "end_node", SeverityWarning) {
		t.Errorf("diagnostics = %v", diags)
	}
}

func TestCycleReportedAsInfo(t *testing.T) {
	d := linearDiagram()
	d.Arrows = append(d.Arrows, diagram.Arrow{Source: "work", Target: "work"})
	_, diags, err := Compile(d)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !hasRule(diags, "cycle", SeverityInfo) {
		t.Errorf("diagnostics = %v", diags)
	}
	for _, dg := range diags {
		if dg.Severity == SeverityError {
			t.Errorf("cycle must not be an error: %s", dg)
		}
	}
}

func hasRule(diags []Diagnostic, rule string, sev Severity) bool {
	for _, d := range diags {
		if d.Rule == rule && d.Severity == sev {
			return true
		}
	}
	return false
}

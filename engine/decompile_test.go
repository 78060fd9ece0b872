// ABOUTME: Tests the compile/decompile round trip on a diagram exercising several node types.
// ABOUTME: Asserts node ids, edge endpoints, and typed configs survive a second compilation.
package engine

import (
	"reflect"
	"testing"

	"github.com/2389-research/dipeo/diagram"
)

func TestCompileDecompileRoundTrip(t *testing.T) {
	src := &diagram.Diagram{
		ID:   "rt",
		Name: "round trip",
		Persons: []diagram.Person{
			{ID: "writer", Model: "gpt-4o", APIKeyID: "openai-main", SystemPrompt: "be brief"},
		},
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "draft", Type: "person_job", Props: map[string]any{
				"person": "writer", "default_prompt": "write", "max_iteration": 2,
			}},
			{ID: "gate", Type: "condition", Props: map[string]any{
				"evaluator": "max_iterations", "expose_index_as": "i",
			}},
			{ID: "run", Type: "code_job", Props: map[string]any{
				"language": "bash", "code": "echo ok", "timeout": "90s",
			}},
			{ID: "finish", Type: "end", Props: map[string]any{"save_to_file": "out.txt"}},
		},
		Arrows: []diagram.Arrow{
			{Source: "start", Target: "draft", Metadata: map[string]string{"is_first_execution": "true"}},
			{Source: "gate:condfalse", Target: "draft"},
			{Source: "gate:condtrue", Target: "run", Label: "done"},
			{Source: "draft", Target: "gate"},
			{Source: "run", Target: "finish", Packing: "spread"},
		},
	}

	compiled := mustCompile(t, src)
	decompiled := Decompile(compiled)

	recompiled, _, err := Compile(decompiled)
	if err != nil {
		t.Fatalf("recompile: %v", err)
	}

	if !reflect.DeepEqual(compiled.NodeIDs(), recompiled.NodeIDs()) {
		t.Errorf("node ids %v != %v", compiled.NodeIDs(), recompiled.NodeIDs())
	}
	for _, id := range compiled.NodeIDs() {
		a, b := compiled.Node(id), recompiled.Node(id)
		if a.Type != b.Type {
			t.Errorf("node %s type %s != %s", id, a.Type, b.Type)
		}
	}

	if draft := recompiled.Node("draft").PersonJob; !reflect.DeepEqual(draft, compiled.Node("draft").PersonJob) {
		t.Errorf("person_job config = %+v", draft)
	}
	if gate := recompiled.Node("gate").Condition; !reflect.DeepEqual(gate, compiled.Node("gate").Condition) {
		t.Errorf("condition config = %+v", gate)
	}
	if run := recompiled.Node("run").CodeJob; !reflect.DeepEqual(run, compiled.Node("run").CodeJob) {
		t.Errorf("code_job config = %+v", run)
	}
	if finish := recompiled.Node("finish").End; finish.SaveToFile != "out.txt" {
		t.Errorf("end config = %+v", finish)
	}

	if len(recompiled.Edges()) != len(compiled.Edges()) {
		t.Fatalf("edge count %d != %d", len(recompiled.Edges()), len(compiled.Edges()))
	}
	for i, want := range compiled.Edges() {
		got := recompiled.Edges()[i]
		if got.Key() != want.Key() {
			t.Errorf("edge %d key %s != %s", i, got.Key(), want.Key())
		}
		if got.Packing != want.Packing {
			t.Errorf("edge %s packing %s != %s", got.Key(), got.Packing, want.Packing)
		}
		if got.IsFirstExecution() != want.IsFirstExecution() {
			t.Errorf("edge %s first-execution flag lost", got.Key())
		}
		if got.Metadata[MetaLabel] != want.Metadata[MetaLabel] {
			t.Errorf("edge %s label %q != %q", got.Key(), got.Metadata[MetaLabel], want.Metadata[MetaLabel])
		}
	}

	if p := recompiled.Person("writer"); p == nil || p.Model != "gpt-4o" || p.SystemPrompt != "be brief" {
		t.Errorf("person = %+v", p)
	}
}

func TestCompileRejectsEmptyDiagram(t *testing.T) {
	_, _, err := Compile(&diagram.Diagram{ID: "empty"})
	if err == nil || err.Error() != "diagram has no nodes" {
		t.Errorf("err = %v", err)
	}
}

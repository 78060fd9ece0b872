// ABOUTME: Tests for the five-stage input-resolution pipeline: collect, filter, providers, transform, defaults.
// ABOUTME: Exercises pack vs spread merging, collision detection, stale-value filters, and required inputs.
package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/2389-research/dipeo/diagram"
)

// resolverFixture compiles a diagram and returns a context with the
// start node completed so downstream nodes have something to read.
func resolverFixture(t *testing.T, d *diagram.Diagram) (*ExecutableDiagram, *ExecutionContext) {
	t.Helper()
	compiled, _, err := Compile(d)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return compiled, NewExecutionContext("exec-test", compiled, nil)
}

func TestResolvePackDelivery(t *testing.T) {
	compiled, ctx := resolverFixture(t, &diagram.Diagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "sink", Type: "code_job", Props: map[string]any{"code": "true", "language": "bash"}},
		},
		Arrows: []diagram.Arrow{
			{Source: "start", Target: "sink:payload"},
		},
	})
	ctx.markRunning("start")
	ctx.markCompleted("start", DefaultOutput, NewTextEnvelope("hello", "start"))
	ctx.markRunning("sink")

	resolved, err := ResolveInputs(compiled.Node("sink"), ctx, &Services{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Values["payload"] != "hello" {
		t.Errorf("values = %v", resolved.Values)
	}
	if resolved.Envelopes["payload"] == nil {
		t.Error("envelope view missing payload")
	}
}

func TestResolvePackDefaultsKeyToDefault(t *testing.T) {
	compiled, ctx := resolverFixture(t, &diagram.Diagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "sink", Type: "end"},
		},
		Arrows: []diagram.Arrow{{Source: "start", Target: "sink"}},
	})
	ctx.markRunning("start")
	ctx.markCompleted("start", DefaultOutput, NewTextEnvelope("x", "start"))
	ctx.markRunning("sink")

	resolved, err := ResolveInputs(compiled.Node("sink"), ctx, &Services{})
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Values[DefaultOutput] != "x" {
		t.Errorf("values = %v", resolved.Values)
	}
}

func TestResolveSpreadMergesObjectKeys(t *testing.T) {
	compiled, ctx := resolverFixture(t, &diagram.Diagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "sink", Type: "end"},
		},
		Arrows: []diagram.Arrow{
			{Source: "start", Target: "sink", Packing: "spread"},
		},
	})
	ctx.markRunning("start")
	ctx.markCompleted("start", DefaultOutput,
		NewObjectEnvelope(map[string]any{"a": 1, "b": "two"}, "start"))
	ctx.markRunning("sink")

	resolved, err := ResolveInputs(compiled.Node("sink"), ctx, &Services{})
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Values["a"] != 1 || resolved.Values["b"] != "two" {
		t.Errorf("values = %v", resolved.Values)
	}
}

func TestResolveSpreadRejectsNonObject(t *testing.T) {
	compiled, ctx := resolverFixture(t, &diagram.Diagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "sink", Type: "end"},
		},
		Arrows: []diagram.Arrow{
			{Source: "start", Target: "sink", Packing: "spread"},
		},
	})
	ctx.markRunning("start")
	ctx.markCompleted("start", DefaultOutput, NewTextEnvelope("not an object", "start"))
	ctx.markRunning("sink")

	_, err := ResolveInputs(compiled.Node("sink"), ctx, &Services{})
	var ire *InputResolutionError
	if !errors.As(err, &ire) {
		t.Fatalf("error = %v", err)
	}
	if ire.Stage != "transform" {
		t.Errorf("stage = %q", ire.Stage)
	}
}

func TestResolveSpreadCollisionNamesBothEdges(t *testing.T) {
	compiled, ctx := resolverFixture(t, &diagram.Diagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "left", Type: "code_job", Props: map[string]any{"code": "true", "language": "bash"}},
			{ID: "right", Type: "code_job", Props: map[string]any{"code": "true", "language": "bash"}},
			{ID: "sink", Type: "end"},
		},
		Arrows: []diagram.Arrow{
			{Source: "start", Target: "left"},
			{Source: "start", Target: "right"},
			{Source: "left", Target: "sink", Packing: "spread"},
			{Source: "right", Target: "sink", Packing: "spread"},
		},
	})
	ctx.markRunning("left")
	ctx.markCompleted("left", DefaultOutput, NewObjectEnvelope(map[string]any{"k": 1}, "left"))
	ctx.markRunning("right")
	ctx.markCompleted("right", DefaultOutput, NewObjectEnvelope(map[string]any{"k": 2}, "right"))
	ctx.markRunning("sink")

	_, err := ResolveInputs(compiled.Node("sink"), ctx, &Services{})
	var sce *SpreadCollisionError
	if !errors.As(err, &sce) {
		t.Fatalf("error = %v", err)
	}
	if sce.Key != "k" || len(sce.Edges) != 2 {
		t.Errorf("collision = %+v", sce)
	}
	msg := sce.Error()
	if !strings.Contains(msg, "left") || !strings.Contains(msg, "right") {
		t.Errorf("message does not name both edges: %s", msg)
	}
}

func TestResolveInFlightDependencyFails(t *testing.T) {
	compiled, ctx := resolverFixture(t, &diagram.Diagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "sink", Type: "end"},
		},
		Arrows: []diagram.Arrow{{Source: "start", Target: "sink"}},
	})
	// Start is mid-run with nothing stored: the consumer was dispatched
	// too early.
	ctx.markRunning("start")
	ctx.markRunning("sink")

	_, err := ResolveInputs(compiled.Node("sink"), ctx, &Services{})
	var dnr *DependencyNotReadyError
	if !errors.As(err, &dnr) {
		t.Fatalf("error = %v", err)
	}
	if dnr.NodeID != "sink" || dnr.Dependency != "start" {
		t.Errorf("error = %+v", dnr)
	}
}

func TestResolveRequiredInputMissing(t *testing.T) {
	compiled, ctx := resolverFixture(t, &diagram.Diagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "sink", Type: "end", Props: map[string]any{
				"required_inputs": []any{"payload"},
			}},
		},
		Arrows: []diagram.Arrow{{Source: "start", Target: "sink"}},
	})
	// Start never produced, so the edge contributes nothing.
	ctx.markRunning("sink")

	_, err := ResolveInputs(compiled.Node("sink"), ctx, &Services{})
	var ire *InputResolutionError
	if !errors.As(err, &ire) {
		t.Fatalf("error = %v", err)
	}
	if ire.Stage != "defaults" {
		t.Errorf("stage = %q", ire.Stage)
	}
}

func TestResolveDefaultsSatisfyRequired(t *testing.T) {
	compiled, ctx := resolverFixture(t, &diagram.Diagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "sink", Type: "end", Props: map[string]any{
				"required_inputs": []any{"payload"},
				"defaults":        map[string]any{"payload": "fallback"},
			}},
		},
		Arrows: []diagram.Arrow{{Source: "start", Target: "sink"}},
	})
	ctx.markRunning("sink")

	resolved, err := ResolveInputs(compiled.Node("sink"), ctx, &Services{})
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Values["payload"] != "fallback" {
		t.Errorf("values = %v", resolved.Values)
	}
}

func TestResolveDefaultsDoNotOverrideEdges(t *testing.T) {
	compiled, ctx := resolverFixture(t, &diagram.Diagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "sink", Type: "end", Props: map[string]any{
				"defaults": map[string]any{"payload": "fallback"},
			}},
		},
		Arrows: []diagram.Arrow{{Source: "start", Target: "sink:payload"}},
	})
	ctx.markRunning("start")
	ctx.markCompleted("start", DefaultOutput, NewTextEnvelope("real", "start"))
	ctx.markRunning("sink")

	resolved, err := ResolveInputs(compiled.Node("sink"), ctx, &Services{})
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Values["payload"] != "real" {
		t.Errorf("values = %v", resolved.Values)
	}
}

func TestResolveFirstExecutionFilter(t *testing.T) {
	compiled, ctx := resolverFixture(t, &diagram.Diagram{
		Persons: []diagram.Person{{ID: "p", Model: "m"}},
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "ask", Type: "person_job", Props: map[string]any{"person": "p"}},
		},
		Arrows: []diagram.Arrow{
			{Source: "start", Target: "ask:seed",
				Metadata: map[string]string{MetaIsFirstExecution: "true"}},
		},
	})
	ctx.markRunning("start")
	ctx.markCompleted("start", DefaultOutput, NewTextEnvelope("seed value", "start"))

	// First run sees the seed.
	ctx.markRunning("ask")
	resolved, err := ResolveInputs(compiled.Node("ask"), ctx, &Services{})
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Values["seed"] != "seed value" {
		t.Errorf("first run values = %v", resolved.Values)
	}
	ctx.markCompleted("ask", DefaultOutput, NewTextEnvelope("out", "ask"))

	// Second run does not.
	ctx.rearm("ask")
	ctx.markRunning("ask")
	resolved, err = ResolveInputs(compiled.Node("ask"), ctx, &Services{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := resolved.Values["seed"]; ok {
		t.Errorf("second run values = %v", resolved.Values)
	}
}

func TestResolveIterationFilter(t *testing.T) {
	compiled, ctx := resolverFixture(t, &diagram.Diagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "sink", Type: "end"},
		},
		Arrows: []diagram.Arrow{{Source: "start", Target: "sink"}},
	})
	ctx.markRunning("start")
	ctx.markCompleted("start", DefaultOutput,
		NewTextEnvelope("stale", "start").WithMeta(MetaIteration, 2))
	ctx.markRunning("sink") // iteration 1

	resolved, err := ResolveInputs(compiled.Node("sink"), ctx, &Services{})
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved.Values) != 0 {
		t.Errorf("stale value delivered: %v", resolved.Values)
	}
}

func TestResolveBranchFilter(t *testing.T) {
	compiled, ctx := resolverFixture(t, &diagram.Diagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "gate", Type: "condition", Props: map[string]any{"expression": "true"}},
			{ID: "sink", Type: "end"},
		},
		Arrows: []diagram.Arrow{
			{Source: "start", Target: "gate"},
			{Source: "gate:condfalse", Target: "sink"},
		},
	})
	ctx.markRunning("gate")
	ctx.markCompleted("gate", BranchFalse,
		NewObjectEnvelope(map[string]any{"v": 1}, "gate").WithMeta(MetaBranch, BranchFalse))
	ctx.markBranchTaken("gate", BranchTrue)
	ctx.markRunning("sink")

	resolved, err := ResolveInputs(compiled.Node("sink"), ctx, &Services{})
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved.Values) != 0 {
		t.Errorf("untaken-branch value delivered: %v", resolved.Values)
	}
}

func TestResolveVariablesProvider(t *testing.T) {
	compiled, _ := resolverFixture(t, &diagram.Diagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "sink", Type: "end", Props: map[string]any{
				"providers": []any{ProviderVariables},
			}},
		},
		Arrows: []diagram.Arrow{{Source: "start", Target: "sink"}},
	})
	ctx := NewExecutionContext("exec-test", compiled, map[string]any{"user": "kim"})
	ctx.markRunning("sink")

	resolved, err := ResolveInputs(compiled.Node("sink"), ctx, &Services{})
	if err != nil {
		t.Fatal(err)
	}
	vars, ok := resolved.Values[InputVariables].(map[string]any)
	if !ok || vars["user"] != "kim" {
		t.Errorf("variables input = %v", resolved.Values[InputVariables])
	}
}

func TestResolveUnknownProvider(t *testing.T) {
	compiled, ctx := resolverFixture(t, &diagram.Diagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "sink", Type: "end", Props: map[string]any{
				"providers": []any{"astrology"},
			}},
		},
		Arrows: []diagram.Arrow{{Source: "start", Target: "sink"}},
	})
	ctx.markRunning("sink")

	_, err := ResolveInputs(compiled.Node("sink"), ctx, &Services{})
	var ire *InputResolutionError
	if !errors.As(err, &ire) {
		t.Fatalf("error = %v", err)
	}
	if ire.Stage != "providers" {
		t.Errorf("stage = %q", ire.Stage)
	}
}

func TestResolveTransformRules(t *testing.T) {
	compiled, ctx := resolverFixture(t, &diagram.Diagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "text_sink", Type: "end"},
			{ID: "json_sink", Type: "end"},
		},
		Arrows: []diagram.Arrow{
			{Source: "start", Target: "text_sink:out", Transforms: []string{"json_to_text"}},
			{Source: "start", Target: "json_sink:out", Transforms: []string{"text_to_json"}},
		},
	})
	ctx.markRunning("start")
	ctx.markCompleted("start", DefaultOutput,
		NewObjectEnvelope(map[string]any{"n": 1}, "start"))

	ctx.markRunning("text_sink")
	resolved, err := ResolveInputs(compiled.Node("text_sink"), ctx, &Services{})
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Values["out"] != `{"n":1}` {
		t.Errorf("json_to_text = %v", resolved.Values["out"])
	}

	// text_to_json on a non-string body fails with edge context.
	ctx.markRunning("json_sink")
	_, err = ResolveInputs(compiled.Node("json_sink"), ctx, &Services{})
	var te *TransformationError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v", err)
	}
	if te.Rule != TransformTextToJSON {
		t.Errorf("rule = %q", te.Rule)
	}
}

func TestResolveTextToJSON(t *testing.T) {
	compiled, ctx := resolverFixture(t, &diagram.Diagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "sink", Type: "end"},
		},
		Arrows: []diagram.Arrow{
			{Source: "start", Target: "sink:out", Transforms: []string{"text_to_json"}},
		},
	})
	ctx.markRunning("start")
	ctx.markCompleted("start", DefaultOutput, NewTextEnvelope(`{"ok":true}`, "start"))
	ctx.markRunning("sink")

	resolved, err := ResolveInputs(compiled.Node("sink"), ctx, &Services{})
	if err != nil {
		t.Fatal(err)
	}
	obj, ok := resolved.Values["out"].(map[string]any)
	if !ok || obj["ok"] != true {
		t.Errorf("out = %v", resolved.Values["out"])
	}
}

// ABOUTME: Tests for condition expression evaluation and environment assembly.
// ABOUTME: Covers boolean results, type errors, caching, and default-object key lifting.
package engine

import (
	"testing"
)

func TestEvalConditionBasics(t *testing.T) {
	cases := []struct {
		expr string
		env  map[string]any
		want bool
	}{
		{"x > 3", map[string]any{"x": 5}, true},
		{"x > 3", map[string]any{"x": 2}, false},
		{"name == 'kim' && count < 10", map[string]any{"name": "kim", "count": 4}, true},
		{"len(items) == 2", map[string]any{"items": []any{1, 2}}, true},
		{"'b' in tags", map[string]any{"tags": []any{"a", "b"}}, true},
		{"missing == nil", map[string]any{}, true},
	}
	for _, tc := range cases {
		got, err := EvalCondition(tc.expr, tc.env)
		if err != nil {
			t.Errorf("%s: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEvalConditionErrors(t *testing.T) {
	if _, err := EvalCondition("", nil); err == nil {
		t.Error("empty expression should fail")
	}
	if _, err := EvalCondition("x +", nil); err == nil {
		t.Error("syntax error should fail")
	}
	if _, err := EvalCondition("1 + 1", nil); err == nil {
		t.Error("non-boolean result should fail")
	}
}

func TestEvalConditionCachesPrograms(t *testing.T) {
	const expression = "cached_probe > 0"
	if _, err := EvalCondition(expression, map[string]any{"cached_probe": 1}); err != nil {
		t.Fatal(err)
	}
	if _, ok := conditionCache.get(expression); !ok {
		t.Error("program not cached after first evaluation")
	}
	// Second run hits the cache and still evaluates per-env.
	got, err := EvalCondition(expression, map[string]any{"cached_probe": -1})
	if err != nil {
		t.Fatal(err)
	}
	if got {
		t.Error("cached program ignored the new environment")
	}
}

func TestConditionEnvLayering(t *testing.T) {
	vars := map[string]any{"count": 1, "user": "kim"}
	inputs := map[string]any{
		"count":       2, // edge data shadows the variable
		DefaultOutput: map[string]any{"score": 9, "count": 3},
	}
	env := conditionEnv(inputs, vars)

	if env["user"] != "kim" {
		t.Errorf("user = %v", env["user"])
	}
	// Default-object keys are the outermost layer.
	if env["count"] != 3 {
		t.Errorf("count = %v", env["count"])
	}
	if env["score"] != 9 {
		t.Errorf("score = %v", env["score"])
	}
	if _, ok := env["inputs"]; !ok {
		t.Error("inputs escape hatch missing")
	}
	if _, ok := env["vars"]; !ok {
		t.Error("vars escape hatch missing")
	}
}

func TestConditionEnvNonObjectDefault(t *testing.T) {
	env := conditionEnv(map[string]any{DefaultOutput: "plain text"}, nil)
	if env[DefaultOutput] != "plain text" {
		t.Errorf("default = %v", env[DefaultOutput])
	}
}

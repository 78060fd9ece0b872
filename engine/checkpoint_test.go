// ABOUTME: Tests for checkpoint snapshots: save/load round trips and context restoration.
// ABOUTME: Verifies running nodes reset to pending and diagram identity is enforced on restore.
package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/2389-research/dipeo/diagram"
)

func checkpointFixture(t *testing.T) (*ExecutableDiagram, *ExecutionContext) {
	t.Helper()
	compiled := mustCompile(t, &diagram.Diagram{
		ID: "cp-diagram",
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "gate", Type: "condition", Props: map[string]any{"expression": "true"}},
			{ID: "work", Type: "code_job", Props: map[string]any{"language": "bash", "code": "true"}},
			{ID: "finish", Type: "end"},
		},
		Arrows: []diagram.Arrow{
			{Source: "start", Target: "gate"},
			{Source: "gate:condtrue", Target: "work"},
			{Source: "work", Target: "finish"},
		},
	})
	ec := NewExecutionContext("cp-exec", compiled, map[string]any{"attempt": 1})
	ec.markRunning("start")
	ec.markCompleted("start", DefaultOutput, NewObjectEnvelope(map[string]any{"seed": true}, "start"))
	ec.markRunning("gate")
	ec.markCompleted("gate", BranchTrue,
		NewObjectEnvelope(nil, "gate").WithMeta(MetaBranch, BranchTrue))
	ec.markBranchTaken("gate", BranchTrue)
	ec.markRunning("work") // still in flight when the snapshot is taken
	return compiled, ec
}

func TestCheckpointSaveLoadRoundTrip(t *testing.T) {
	_, ec := checkpointFixture(t)
	cp := NewCheckpoint(ec)
	path := filepath.Join(t.TempDir(), "run.checkpoint.json")

	if err := cp.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.ExecutionID != "cp-exec" || loaded.DiagramID != "cp-diagram" {
		t.Errorf("identity = %s / %s", loaded.ExecutionID, loaded.DiagramID)
	}
	if loaded.NodeStates["start"].Status != StatusCompleted {
		t.Errorf("start state = %+v", loaded.NodeStates["start"])
	}
	if loaded.BranchDecisions["gate"] != BranchTrue {
		t.Errorf("branches = %v", loaded.BranchDecisions)
	}
	if loaded.Variables["attempt"] != float64(1) {
		t.Errorf("variables = %v", loaded.Variables)
	}
	env := loaded.Outputs["gate:"+BranchTrue]
	if env == nil {
		t.Fatalf("outputs = %v", loaded.Outputs)
	}
	if env.MetaString(MetaBranch) != BranchTrue {
		t.Errorf("restored envelope meta = %v", env.Meta(MetaBranch))
	}
}

func TestCheckpointRestore(t *testing.T) {
	compiled, ec := checkpointFixture(t)
	cp := NewCheckpoint(ec)

	restored, err := cp.Restore(compiled)
	if err != nil {
		t.Fatal(err)
	}
	if restored.ExecutionID != "cp-exec" {
		t.Errorf("execution id = %s", restored.ExecutionID)
	}
	// The in-flight node re-dispatches; finished nodes keep their state.
	if st := restored.NodeState("work"); st.Status != StatusPending || st.ExecCount != 1 {
		t.Errorf("work state = %+v", st)
	}
	if st := restored.NodeState("start"); st.Status != StatusCompleted {
		t.Errorf("start state = %+v", st)
	}
	if restored.BranchTaken("gate") != BranchTrue {
		t.Errorf("branch = %q", restored.BranchTaken("gate"))
	}
	if restored.Output("start", DefaultOutput) == nil {
		t.Error("start output not restored")
	}
	if v, _ := restored.Variable("attempt"); v != 1 {
		t.Errorf("attempt = %v", v)
	}
}

func TestListCheckpoints(t *testing.T) {
	_, ec := checkpointFixture(t)
	dir := t.TempDir()

	first := NewCheckpoint(ec)
	first.Timestamp = first.Timestamp.Add(-time.Hour)
	if err := first.Save(filepath.Join(dir, "old.json")); err != nil {
		t.Fatal(err)
	}
	second := NewCheckpoint(ec)
	if err := second.Save(filepath.Join(dir, "new.json")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "junk.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore"), 0o644); err != nil {
		t.Fatal(err)
	}

	cps, err := ListCheckpoints(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 2 {
		t.Fatalf("listed %d checkpoints", len(cps))
	}
	if !cps[0].Timestamp.After(cps[1].Timestamp) {
		t.Error("checkpoints not newest first")
	}
}

func TestCheckpointRestoreRejectsOtherDiagram(t *testing.T) {
	compiled, ec := checkpointFixture(t)
	cp := NewCheckpoint(ec)

	other := mustCompile(t, &diagram.Diagram{
		ID: "unrelated",
		Nodes: []diagram.Node{
			{ID: "start", Type: "start"},
			{ID: "finish", Type: "end"},
		},
		Arrows: []diagram.Arrow{{Source: "start", Target: "finish"}},
	})
	if _, err := cp.Restore(other); err == nil {
		t.Fatal("expected diagram mismatch error")
	}
	_ = compiled
}

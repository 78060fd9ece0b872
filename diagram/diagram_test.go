// ABOUTME: Tests for the declarative diagram model: handle refs, parsing, and format conversion.
// ABOUTME: Round-trips YAML and JSON and checks normalization of arrow ids and packing.
package diagram

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseHandleRef(t *testing.T) {
	cases := []struct {
		ref    string
		node   string
		handle string
	}{
		{"node1", "node1", "default"},
		{"node1:condtrue", "node1", "condtrue"},
		{" node1 : out ", "node1", "out"},
		{"node1:", "node1", "default"},
	}
	for _, tc := range cases {
		got, err := ParseHandleRef(tc.ref)
		if err != nil {
			t.Errorf("%q: %v", tc.ref, err)
			continue
		}
		if got.NodeID != tc.node || got.Handle != tc.handle {
			t.Errorf("%q = %+v", tc.ref, got)
		}
	}

	for _, bad := range []string{"", "  ", ":handle"} {
		if _, err := ParseHandleRef(bad); err == nil {
			t.Errorf("%q should fail", bad)
		}
	}
}

func TestHandleRefString(t *testing.T) {
	if got := (HandleRef{NodeID: "a", Handle: "default"}).String(); got != "a" {
		t.Errorf("default handle renders %q", got)
	}
	if got := (HandleRef{NodeID: "a", Handle: "condtrue"}).String(); got != "a:condtrue" {
		t.Errorf("named handle renders %q", got)
	}
}

const yamlFixture = `
id: review-loop
name: Review Loop
persons:
  - id: reviewer
    model: gpt-4o-mini
    system_prompt: You review drafts.
nodes:
  - id: start
    type: start
  - id: review
    type: person_job
    props:
      person: reviewer
      max_iteration: 3
  - id: finish
    type: end
arrows:
  - source: start
    target: review
  - source: review
    target: finish
    packing: spread
`

func TestParseYAML(t *testing.T) {
	d, err := Parse([]byte(yamlFixture), FormatYAML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.ID != "review-loop" || len(d.Nodes) != 3 || len(d.Arrows) != 2 {
		t.Errorf("diagram = %+v", d)
	}
	if d.FindNode("review") == nil || d.FindNode("ghost") != nil {
		t.Error("FindNode misbehaves")
	}
	if d.FindPerson("reviewer") == nil {
		t.Error("person not parsed")
	}
	props := d.FindNode("review").Props
	if props["person"] != "reviewer" || props["max_iteration"] != 3 {
		t.Errorf("props = %v", props)
	}
	// Normalization fills ids and packing.
	if d.Arrows[0].ID == "" || d.Arrows[0].Packing != "pack" {
		t.Errorf("arrow 0 = %+v", d.Arrows[0])
	}
	if d.Arrows[1].Packing != "spread" {
		t.Errorf("arrow 1 = %+v", d.Arrows[1])
	}
}

func TestConvertYAMLToJSONAndBack(t *testing.T) {
	jsonData, err := Convert([]byte(yamlFixture), FormatYAML, FormatJSON)
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	if !strings.Contains(string(jsonData), `"review-loop"`) {
		t.Errorf("json output = %s", jsonData)
	}

	yamlData, err := Convert(jsonData, FormatJSON, FormatYAML)
	if err != nil {
		t.Fatalf("back to yaml: %v", err)
	}
	d, err := Parse(yamlData, FormatYAML)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if d.ID != "review-loop" || len(d.Nodes) != 3 {
		t.Errorf("round trip lost data: %+v", d)
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	if _, err := Parse([]byte("{nodes: ["), FormatYAML); err == nil {
		t.Error("malformed yaml accepted")
	}
	if _, err := Parse([]byte("not json"), FormatJSON); err == nil {
		t.Error("malformed json accepted")
	}
	if _, err := Parse(nil, Format("toml")); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestLoadAndSaveFile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "flow.yaml")
	if err := os.WriteFile(yamlPath, []byte(yamlFixture), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := LoadFile(yamlPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	jsonPath := filepath.Join(dir, "nested", "flow.json")
	if err := SaveFile(d, jsonPath); err != nil {
		t.Fatalf("save: %v", err)
	}
	reloaded, err := LoadFile(jsonPath)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.ID != d.ID || len(reloaded.Nodes) != len(d.Nodes) {
		t.Errorf("reloaded = %+v", reloaded)
	}
}

func TestFormatForPath(t *testing.T) {
	if FormatForPath("flow.json") != FormatJSON {
		t.Error("json extension")
	}
	if FormatForPath("flow.yaml") != FormatYAML || FormatForPath("flow.yml") != FormatYAML {
		t.Error("yaml extensions")
	}
	if FormatForPath("flow") != FormatYAML {
		t.Error("bare paths default to yaml")
	}
}

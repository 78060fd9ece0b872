// ABOUTME: JSON-schema validation for declarative diagram documents before compilation.
// ABOUTME: Catches structural mistakes (missing ids, wrong value kinds) with precise paths.
package diagram

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// diagramSchema is the structural contract for a declarative diagram.
// Semantic rules (start-node counts, dangling arrows) are the compiler's
// job; this schema only rejects documents that are not diagrams at all.
const diagramSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["nodes", "arrows"],
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string"},
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "label": {"type": "string"},
          "props": {"type": "object"}
        }
      }
    },
    "arrows": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source", "target"],
        "properties": {
          "id": {"type": "string"},
          "source": {"type": "string", "minLength": 1},
          "target": {"type": "string", "minLength": 1},
          "label": {"type": "string"},
          "packing": {"enum": ["pack", "spread"]},
          "transforms": {"type": "array", "items": {"type": "string"}},
          "metadata": {"type": "object"}
        }
      }
    },
    "persons": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "model"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "model": {"type": "string", "minLength": 1},
          "api_key_id": {"type": "string"},
          "system_prompt": {"type": "string"}
        }
      }
    },
    "metadata": {"type": "object"}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func compiledDiagramSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("diagram.schema.json", diagramSchema)
	})
	return compiledSchema, schemaErr
}

// ValidateDocument checks raw diagram JSON against the diagram schema.
// YAML callers should convert to JSON-compatible values first via Parse;
// this entry point exists for API surfaces that accept raw JSON bodies.
func ValidateDocument(data []byte) error {
	schema, err := compiledDiagramSchema()
	if err != nil {
		return fmt.Errorf("compile diagram schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("diagram is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("diagram schema violation: %w", err)
	}
	return nil
}

// ValidateDiagram checks an already-decoded diagram against the schema by
// round-tripping it through JSON. Useful before handing user-assembled
// diagrams to the compiler.
func ValidateDiagram(d *Diagram) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal diagram: %w", err)
	}
	return ValidateDocument(data)
}

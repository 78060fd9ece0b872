// ABOUTME: Declarative diagram model: nodes, arrows, persons, and metadata as authored by users.
// ABOUTME: This is the mutable input shape consumed by the engine compiler; it carries no runtime state.
package diagram

import (
	"fmt"
	"strings"
)

// Diagram is a user-authored workflow graph before compilation.
type Diagram struct {
	ID       string            `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string            `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes    []Node            `json:"nodes" yaml:"nodes"`
	Arrows   []Arrow           `json:"arrows" yaml:"arrows"`
	Persons  []Person          `json:"persons,omitempty" yaml:"persons,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Node is a declared workflow step. Props carries the type-specific
// configuration; the compiler is responsible for interpreting it.
type Node struct {
	ID    string         `json:"id" yaml:"id"`
	Type  string         `json:"type" yaml:"type"`
	Label string         `json:"label,omitempty" yaml:"label,omitempty"`
	Props map[string]any `json:"props,omitempty" yaml:"props,omitempty"`
}

// Arrow is a directed connection between two handles. Source and Target
// are handle references of the form "node-id:handle-label"; the handle
// label may be omitted, in which case the default handle is used.
type Arrow struct {
	ID         string            `json:"id,omitempty" yaml:"id,omitempty"`
	Source     string            `json:"source" yaml:"source"`
	Target     string            `json:"target" yaml:"target"`
	Label      string            `json:"label,omitempty" yaml:"label,omitempty"`
	Packing    string            `json:"packing,omitempty" yaml:"packing,omitempty"`
	Transforms []string          `json:"transforms,omitempty" yaml:"transforms,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Person is an LLM-agent configuration referenced by person_job nodes.
type Person struct {
	ID           string `json:"id" yaml:"id"`
	Model        string `json:"model" yaml:"model"`
	APIKeyID     string `json:"api_key_id,omitempty" yaml:"api_key_id,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
}

// FindNode returns the node with the given ID, or nil if not found.
func (d *Diagram) FindNode(id string) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

// FindPerson returns the person with the given ID, or nil if not found.
func (d *Diagram) FindPerson(id string) *Person {
	for i := range d.Persons {
		if d.Persons[i].ID == id {
			return &d.Persons[i]
		}
	}
	return nil
}

// HandleRef is a parsed "node-id:handle-label" reference.
type HandleRef struct {
	NodeID string
	Handle string
}

// ParseHandleRef splits a handle reference into its node ID and handle
// label. A bare node ID resolves to the default handle. Node IDs may not
// be empty.
func ParseHandleRef(ref string) (HandleRef, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return HandleRef{}, fmt.Errorf("empty handle reference")
	}
	idx := strings.LastIndex(ref, ":")
	if idx < 0 {
		return HandleRef{NodeID: ref, Handle: "default"}, nil
	}
	nodeID := strings.TrimSpace(ref[:idx])
	handle := strings.TrimSpace(ref[idx+1:])
	if nodeID == "" {
		return HandleRef{}, fmt.Errorf("handle reference %q has no node id", ref)
	}
	if handle == "" {
		handle = "default"
	}
	return HandleRef{NodeID: nodeID, Handle: handle}, nil
}

// String renders the reference back to its "node:handle" form, omitting
// the default handle.
func (h HandleRef) String() string {
	if h.Handle == "" || h.Handle == "default" {
		return h.NodeID
	}
	return h.NodeID + ":" + h.Handle
}

// ABOUTME: Graphviz DOT export for declarative diagrams, used by the convert command.
// ABOUTME: Output is deterministic: nodes in declaration order, attributes sorted by key.
package diagram

import (
	"fmt"
	"sort"
	"strings"
)

// nodeShapes maps node types to Graphviz shapes so rendered diagrams
// read at a glance: control nodes are ovals, work nodes boxes,
// conditions diamonds.
var nodeShapes = map[string]string{
	"start":         "Mcircle",
	"end":           "Msquare",
	"condition":     "diamond",
	"person_job":    "box",
	"code_job":      "box",
	"api_job":       "box",
	"db":            "cylinder",
	"hook":          "cds",
	"user_response": "parallelogram",
	"notion":        "note",
	"batch":         "box3d",
}

// MarshalDOT renders a diagram as Graphviz DOT source for visualization.
func MarshalDOT(d *Diagram) []byte {
	var b strings.Builder

	name := d.ID
	if name == "" {
		name = "diagram"
	}
	fmt.Fprintf(&b, "digraph %s {\n", quoteDOT(name))
	b.WriteString("  rankdir=TB\n")
	b.WriteString("  node [fontname=\"Helvetica\"]\n\n")

	for _, n := range d.Nodes {
		attrs := map[string]string{
			"label": nodeLabel(n),
		}
		if shape, ok := nodeShapes[n.Type]; ok {
			attrs["shape"] = shape
		}
		fmt.Fprintf(&b, "  %s [%s]\n", quoteDOT(n.ID), formatDOTAttrs(attrs))
	}

	if len(d.Nodes) > 0 && len(d.Arrows) > 0 {
		b.WriteString("\n")
	}

	for _, a := range d.Arrows {
		src, err := ParseHandleRef(a.Source)
		if err != nil {
			continue
		}
		dst, err := ParseHandleRef(a.Target)
		if err != nil {
			continue
		}
		attrs := map[string]string{}
		if label := edgeLabel(a, src, dst); label != "" {
			attrs["label"] = label
		}
		if a.Packing == "spread" {
			attrs["style"] = "dashed"
		}
		if len(attrs) > 0 {
			fmt.Fprintf(&b, "  %s -> %s [%s]\n", quoteDOT(src.NodeID), quoteDOT(dst.NodeID), formatDOTAttrs(attrs))
		} else {
			fmt.Fprintf(&b, "  %s -> %s\n", quoteDOT(src.NodeID), quoteDOT(dst.NodeID))
		}
	}

	b.WriteString("}\n")
	return []byte(b.String())
}

func nodeLabel(n Node) string {
	if n.Label != "" {
		return n.Label + "\\n(" + n.Type + ")"
	}
	return n.ID + "\\n(" + n.Type + ")"
}

// edgeLabel prefers the arrow's own label, then falls back to the
// handle names when either end is non-default.
func edgeLabel(a Arrow, src, dst HandleRef) string {
	if a.Label != "" {
		return a.Label
	}
	var parts []string
	if src.Handle != "default" {
		parts = append(parts, src.Handle)
	}
	if dst.Handle != "default" {
		parts = append(parts, "to "+dst.Handle)
	}
	return strings.Join(parts, " ")
}

func formatDOTAttrs(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+quoteDOT(attrs[k]))
	}
	return strings.Join(parts, ", ")
}

// quoteDOT wraps a value in quotes unless it is a bare DOT identifier.
func quoteDOT(s string) string {
	if s == "" {
		return `""`
	}
	bare := true
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				bare = false
			}
		default:
			bare = false
		}
	}
	if bare {
		return s
	}
	escaped := strings.ReplaceAll(s, `"`, `\"`)
	return `"` + escaped + `"`
}

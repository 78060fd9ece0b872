// ABOUTME: End node handler: collects incoming data and optionally persists it through the file service.
// ABOUTME: The output envelope carries the collected value so callers can read the execution result.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// EndHandler handles the terminal node.
type EndHandler struct{}

// Type returns the node type "end".
func (h *EndHandler) Type() NodeType { return NodeEnd }

func (h *EndHandler) RequiredServices() []string { return nil }

// Execute gathers the node's resolved inputs and, when save_to_file is
// configured, writes the default input through the file service.
func (h *EndHandler) Execute(ctx context.Context, node *ExecutableNode, view *ContextView, inputs *ResolvedInputs, services *Services) (*Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := node.End

	var result any
	if v, ok := inputs.Values[DefaultOutput]; ok {
		result = v
	} else if len(inputs.Values) > 0 {
		result = inputs.Values
	}

	if cfg.SaveToFile != "" {
		if services == nil || services.Files == nil {
			return nil, fmt.Errorf("end node %s: save_to_file set but no file service wired", node.ID)
		}
		data, err := renderResult(result)
		if err != nil {
			return nil, fmt.Errorf("end node %s: %w", node.ID, err)
		}
		if err := services.Files.Write(cfg.SaveToFile, data); err != nil {
			return nil, fmt.Errorf("end node %s: %w", node.ID, err)
		}
	}

	return NewObjectEnvelope(result, node.ID), nil
}

// renderResult writes strings verbatim and everything else as JSON.
func renderResult(v any) ([]byte, error) {
	if s, ok := v.(string); ok {
		return []byte(s), nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return data, nil
}

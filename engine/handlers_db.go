// ABOUTME: DB node handler: allowlisted file-backed data operations through the file service.
// ABOUTME: Supports prompt, read, write, and append; append coerces non-list files to single-element lists.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// dbOperations is the operation allowlist.
var dbOperations = map[string]bool{
	"prompt": true,
	"read":   true,
	"write":  true,
	"append": true,
}

// DBHandler handles file-backed data steps.
type DBHandler struct{}

// Type returns the node type "db".
func (h *DBHandler) Type() NodeType { return NodeDB }

func (h *DBHandler) RequiredServices() []string { return []string{ServiceFile} }

// Execute dispatches the configured operation. The file service owns
// path safety; the handler only validates the operation itself.
func (h *DBHandler) Execute(ctx context.Context, node *ExecutableNode, view *ContextView, inputs *ResolvedInputs, services *Services) (*Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := node.DB
	if !dbOperations[cfg.Operation] {
		return nil, fmt.Errorf("db %s: operation %q not allowed", node.ID, cfg.Operation)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("db %s: no path configured", node.ID)
	}

	switch cfg.Operation {
	case "prompt", "read":
		data, err := services.Files.Read(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("db %s: %w", node.ID, err)
		}
		// JSON files come back structured; everything else as text.
		trimmed := strings.TrimSpace(string(data))
		if strings.HasSuffix(cfg.Path, ".json") || strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			var decoded any
			if err := json.Unmarshal(data, &decoded); err == nil {
				return NewObjectEnvelope(decoded, node.ID), nil
			}
		}
		return NewTextEnvelope(string(data), node.ID), nil

	case "write":
		value := inputs.Values[DefaultOutput]
		data, err := renderResult(value)
		if err != nil {
			return nil, fmt.Errorf("db %s: %w", node.ID, err)
		}
		if err := services.Files.Write(cfg.Path, data); err != nil {
			return nil, fmt.Errorf("db %s: %w", node.ID, err)
		}
		return NewObjectEnvelope(map[string]any{"path": cfg.Path, "written": true}, node.ID), nil

	case "append":
		list, err := h.loadList(services, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("db %s: %w", node.ID, err)
		}
		list = append(list, inputs.Values[DefaultOutput])
		data, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("db %s: encode list: %w", node.ID, err)
		}
		if err := services.Files.Write(cfg.Path, data); err != nil {
			return nil, fmt.Errorf("db %s: %w", node.ID, err)
		}
		return NewObjectEnvelope(map[string]any{"path": cfg.Path, "length": len(list)}, node.ID), nil
	}

	return nil, fmt.Errorf("db %s: unreachable operation %q", node.ID, cfg.Operation)
}

// loadList reads the target file as a JSON list. Missing files start an
// empty list; non-list content becomes a single-element list.
func (h *DBHandler) loadList(services *Services, path string) ([]any, error) {
	data, err := services.Files.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		// Not JSON at all; keep the raw text as the first element.
		return []any{string(data)}, nil
	}
	if list, ok := decoded.([]any); ok {
		return list, nil
	}
	return []any{decoded}, nil
}

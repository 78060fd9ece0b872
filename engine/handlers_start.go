// ABOUTME: Start node handler: emits the configured custom data as the execution's first envelope.
// ABOUTME: In hook-trigger mode the inbound hook payload arrives via the hook_payload execution variable.
package engine

import (
	"context"
	"fmt"
)

// StartHandler handles the execution entry node.
type StartHandler struct{}

// Type returns the node type "start".
func (h *StartHandler) Type() NodeType { return NodeStart }

func (h *StartHandler) RequiredServices() []string { return nil }

// Execute emits the node's custom data merged with any hook payload.
// The scheduler guarantees the start node runs exactly once per
// execution, before everything else.
func (h *StartHandler) Execute(ctx context.Context, node *ExecutableNode, view *ContextView, inputs *ResolvedInputs, services *Services) (*Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := node.Start

	body := make(map[string]any, len(cfg.CustomData)+1)
	for k, v := range cfg.CustomData {
		body[k] = v
	}

	if cfg.TriggerMode == "hook" {
		// Hook-triggered executions are started by the control surface,
		// which stages the matched event payload as a variable.
		payload, ok := view.Variable("hook_payload")
		if !ok {
			return nil, fmt.Errorf("hook-trigger start node %s: no hook_payload variable staged", node.ID)
		}
		if event, ok := view.Variable("hook_event"); ok {
			if name, _ := event.(string); cfg.HookEvent != "" && name != cfg.HookEvent {
				return nil, fmt.Errorf("hook-trigger start node %s: got event %q, want %q", node.ID, name, cfg.HookEvent)
			}
		}
		body["hook_payload"] = payload
	}

	return NewObjectEnvelope(body, node.ID), nil
}

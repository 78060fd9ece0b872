// ABOUTME: User response handler: collects a human answer through the wired Interviewer.
// ABOUTME: Applies the configured timeout and validates the answer against declared options.
package engine

import (
	"context"
	"fmt"
	"strings"
)

// UserResponseHandler handles human-input steps.
type UserResponseHandler struct{}

// Type returns the node type "user_response".
func (h *UserResponseHandler) Type() NodeType { return NodeUserResponse }

func (h *UserResponseHandler) RequiredServices() []string {
	return []string{ServiceInterviewer, ServiceTemplate}
}

func (h *UserResponseHandler) Execute(ctx context.Context, node *ExecutableNode, view *ContextView, inputs *ResolvedInputs, services *Services) (*Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := node.UserResponse

	prompt, err := services.Templates.Render(cfg.Prompt, templateScope(inputs, view))
	if err != nil {
		return nil, fmt.Errorf("user_response %s: render prompt: %w", node.ID, err)
	}

	askCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		askCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	answer, err := services.Interviewer.Ask(askCtx, prompt, cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("user_response %s: %w", node.ID, err)
	}

	if len(cfg.Options) > 0 {
		matched := false
		for _, opt := range cfg.Options {
			if strings.EqualFold(strings.TrimSpace(answer), opt) {
				answer = opt
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("user_response %s: answer %q is not one of %v", node.ID, answer, cfg.Options)
		}
	}

	return NewTextEnvelope(answer, node.ID), nil
}

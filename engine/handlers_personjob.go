// ABOUTME: Person job handler: builds a prompt, applies the memory policy, and calls the LLM service.
// ABOUTME: Emits a raw_text envelope with token usage in metadata and records the turn in the conversation store.
package engine

import (
	"context"
	"fmt"

	"github.com/2389-research/dipeo/conversation"
	"github.com/2389-research/dipeo/llm"
)

// PersonJobHandler handles LLM-agent steps.
type PersonJobHandler struct{}

// Type returns the node type "person_job".
func (h *PersonJobHandler) Type() NodeType { return NodePersonJob }

func (h *PersonJobHandler) RequiredServices() []string {
	return []string{ServiceLLM, ServiceConversation, ServiceTemplate}
}

// Execute composes messages from system prompt, policy-filtered history,
// and the rendered user prompt, then calls the LLM. The first execution
// uses first_only_prompt when configured.
func (h *PersonJobHandler) Execute(ctx context.Context, node *ExecutableNode, view *ContextView, inputs *ResolvedInputs, services *Services) (*Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := node.PersonJob

	person := view.Diagram().Person(cfg.PersonID)
	if person == nil {
		return nil, fmt.Errorf("person_job %s: unknown person %q", node.ID, cfg.PersonID)
	}

	iteration := view.ExecCount(node.ID)
	promptTpl := cfg.DefaultPrompt
	if iteration <= 1 && cfg.FirstOnlyPrompt != "" {
		promptTpl = cfg.FirstOnlyPrompt
	}

	vars := templateScope(inputs, view)
	prompt, err := services.Templates.Render(promptTpl, vars)
	if err != nil {
		return nil, fmt.Errorf("person_job %s: render prompt: %w", node.ID, err)
	}

	system := cfg.SystemPrompt
	if system == "" {
		system = person.SystemPrompt
	}

	messages, err := h.composeMessages(cfg, inputs, services)
	if err != nil {
		return nil, fmt.Errorf("person_job %s: %w", node.ID, err)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})

	model := cfg.Model
	if model == "" {
		model = person.Model
	}
	apiKeyID := cfg.APIKeyID
	if apiKeyID == "" {
		apiKeyID = person.APIKeyID
	}
	apiKey := ""
	if apiKeyID != "" && services.APIKeys != nil {
		apiKey, err = services.APIKeys.Resolve(apiKeyID)
		if err != nil {
			return nil, fmt.Errorf("person_job %s: %w", node.ID, err)
		}
	}

	resp, err := services.LLM.Complete(ctx, llm.Request{
		Model:    model,
		APIKey:   apiKey,
		System:   system,
		Messages: messages,
		Tools:    cfg.Tools,
	})
	if err != nil {
		return nil, fmt.Errorf("person_job %s: llm call: %w", node.ID, err)
	}

	execID := view.ExecutionID()
	if err := services.Conversations.AddMessage(cfg.PersonID, conversation.RoleUser, prompt, execID); err != nil {
		return nil, fmt.Errorf("person_job %s: record user turn: %w", node.ID, err)
	}
	if err := services.Conversations.AddMessage(cfg.PersonID, conversation.RoleAssistant, resp.Text, execID); err != nil {
		return nil, fmt.Errorf("person_job %s: record assistant turn: %w", node.ID, err)
	}

	env := NewTextEnvelope(resp.Text, node.ID).
		WithMeta("token_usage", map[string]any{
			"prompt":     resp.Usage.PromptTokens,
			"completion": resp.Usage.CompletionTokens,
			"total":      resp.Usage.TotalTokens,
		}).
		WithMeta("model", resp.Model).
		WithMeta(MetaIteration, iteration)
	return env, nil
}

// composeMessages builds the prior-message window: an upstream
// conversation_state input wins over the stored history, and the memory
// policy shapes whichever source is used.
func (h *PersonJobHandler) composeMessages(cfg *PersonJobConfig, inputs *ResolvedInputs, services *Services) ([]llm.Message, error) {
	policy := conversation.MemoryPolicy(cfg.MemoryPolicy)

	var history []conversation.Message
	if state, ok := inputs.Values[InputConversation].(conversation.State); ok {
		history = conversation.ApplyPolicy(state.Messages, policy)
	} else if env, ok := inputs.Envelopes[DefaultOutput]; ok && env.ContentType() == ContentConversationState {
		state, err := env.AsConversation()
		if err != nil {
			return nil, err
		}
		history = conversation.ApplyPolicy(state.Messages, policy)
	} else {
		msgs, err := services.Conversations.GetMessages(cfg.PersonID, policy)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		history = msgs
	}

	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		out = append(out, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	return out, nil
}

// templateScope flattens resolved inputs and execution variables into
// one template value map. Inputs shadow variables; the full maps stay
// addressable under "inputs" and "vars".
func templateScope(inputs *ResolvedInputs, view *ContextView) map[string]any {
	vars := view.Variables()
	scope := make(map[string]any, len(vars)+len(inputs.Values)+2)
	for k, v := range vars {
		scope[k] = v
	}
	for k, v := range inputs.Values {
		scope[k] = v
	}
	scope["inputs"] = inputs.Values
	scope["vars"] = vars
	return scope
}

// ABOUTME: Condition node handler: runs the configured evaluator and tags the output with the taken branch.
// ABOUTME: Supports custom_expression, max_iterations, nodes_executed, and llm_decision evaluators.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/2389-research/dipeo/llm"
)

// ConditionHandler handles branching nodes.
type ConditionHandler struct{}

// Type returns the node type "condition".
func (h *ConditionHandler) Type() NodeType { return NodeCondition }

func (h *ConditionHandler) RequiredServices() []string { return nil }

// Execute evaluates the condition and returns an envelope tagged with
// the branch decision. The scheduler stores the output under the taken
// branch handle and records the decision.
func (h *ConditionHandler) Execute(ctx context.Context, node *ExecutableNode, view *ContextView, inputs *ResolvedInputs, services *Services) (*Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := node.Condition

	decision, err := h.evaluate(ctx, cfg, node, view, inputs, services)
	if err != nil {
		return nil, fmt.Errorf("condition %s (%s): %w", node.ID, cfg.Evaluator, err)
	}

	branch := BranchFalse
	if decision {
		branch = BranchTrue
	}

	// Pass the default input through so the taken branch sees the data
	// that flowed into the condition.
	var body any
	if v, ok := inputs.Values[DefaultOutput]; ok {
		body = v
	} else if len(inputs.Values) > 0 {
		body = inputs.Values
	}

	env := NewObjectEnvelope(body, node.ID).WithMeta(MetaBranch, branch)
	if cfg.ExposeIndexAs != "" {
		env = env.WithMeta(MetaSetVariables, map[string]any{
			cfg.ExposeIndexAs: view.ExecCount(node.ID),
		})
	}
	return env, nil
}

func (h *ConditionHandler) evaluate(ctx context.Context, cfg *ConditionConfig, node *ExecutableNode, view *ContextView, inputs *ResolvedInputs, services *Services) (bool, error) {
	switch cfg.Evaluator {
	case EvalCustomExpression:
		return EvalCondition(cfg.Expression, conditionEnv(inputs.Values, view.Variables()))

	case EvalMaxIterations:
		// True iff every person_job that has run reached its cap.
		executed := 0
		for _, pj := range view.Diagram().PersonJobNodes() {
			st := view.NodeState(pj.ID)
			if st.ExecCount == 0 {
				continue
			}
			executed++
			if st.Status != StatusMaxIterReached {
				return false, nil
			}
		}
		return executed > 0, nil

	case EvalNodesExecuted:
		if len(cfg.NodeIDs) == 0 {
			return false, fmt.Errorf("nodes_executed evaluator has no node ids")
		}
		for _, id := range cfg.NodeIDs {
			if view.Diagram().Node(id) == nil {
				return false, fmt.Errorf("unknown node id %q", id)
			}
			if view.ExecCount(id) == 0 {
				return false, nil
			}
		}
		return true, nil

	case EvalLLMDecision:
		return h.llmDecision(ctx, cfg, node, view, services)

	default:
		return false, fmt.Errorf("unknown evaluator %q", cfg.Evaluator)
	}
}

// llmDecision asks the LLM service for a YES/NO answer. The response is
// accepted as structured JSON {"decision": bool} or a bare yes/no.
func (h *ConditionHandler) llmDecision(ctx context.Context, cfg *ConditionConfig, node *ExecutableNode, view *ContextView, services *Services) (bool, error) {
	if services == nil || services.LLM == nil {
		return false, fmt.Errorf("llm_decision requires an llm service")
	}
	person := view.Diagram().Person(cfg.PersonID)
	if person == nil {
		return false, fmt.Errorf("unknown person %q", cfg.PersonID)
	}

	apiKey := ""
	if person.APIKeyID != "" && services.APIKeys != nil {
		key, err := services.APIKeys.Resolve(person.APIKeyID)
		if err != nil {
			return false, err
		}
		apiKey = key
	}

	resp, err := services.LLM.Complete(ctx, llm.Request{
		Model:  person.Model,
		APIKey: apiKey,
		System: "Answer with a JSON object {\"decision\": true|false} and nothing else.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: cfg.Prompt},
		},
	})
	if err != nil {
		return false, err
	}

	var structured struct {
		Decision *bool `json:"decision"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &structured); err == nil && structured.Decision != nil {
		return *structured.Decision, nil
	}
	// Models wrap JSON in fences or emit trailing commas; repair before
	// giving up on the structured form.
	if repaired, err := jsonrepair.JSONRepair(resp.Text); err == nil {
		if err := json.Unmarshal([]byte(repaired), &structured); err == nil && structured.Decision != nil {
			return *structured.Decision, nil
		}
	}
	answer := strings.ToLower(strings.TrimSpace(resp.Text))
	switch {
	case strings.HasPrefix(answer, "yes") || strings.HasPrefix(answer, "true"):
		return true, nil
	case strings.HasPrefix(answer, "no") || strings.HasPrefix(answer, "false"):
		return false, nil
	}
	return false, fmt.Errorf("could not extract decision from response %q", resp.Text)
}

// ABOUTME: Compiler that turns a declarative diagram into an immutable ExecutableDiagram.
// ABOUTME: Validates semantics, decodes per-type node configs from props, and builds edge indexes.
package engine

import (
	"fmt"
	"time"

	"github.com/2389-research/dipeo/diagram"
)

// Compile validates and translates a declarative diagram into its
// executable form. Compilation is pure: the input is never modified and
// the output shares no mutable state with it.
func Compile(d *diagram.Diagram, extraRules ...LintRule) (*ExecutableDiagram, []Diagnostic, error) {
	if len(d.Nodes) == 0 {
		return nil, nil, fmt.Errorf("diagram has no nodes")
	}
	diags, err := ValidateOrError(d, extraRules...)
	if err != nil {
		return nil, diags, err
	}

	exec := &ExecutableDiagram{
		ID:       d.ID,
		Name:     d.Name,
		Metadata: copyStringMap(d.Metadata),
		nodes:    make(map[string]*ExecutableNode, len(d.Nodes)),
		inbound:  make(map[string][]*ExecutableEdge),
		outgoing: make(map[string][]*ExecutableEdge),
		persons:  make(map[string]*Person, len(d.Persons)),
	}
	// Fall back to the name rather than a generated id so compiling the
	// same diagram twice yields identical output.
	if exec.ID == "" {
		exec.ID = d.Name
	}

	for _, p := range d.Persons {
		exec.persons[p.ID] = &Person{
			ID:           p.ID,
			Model:        p.Model,
			APIKeyID:     p.APIKeyID,
			SystemPrompt: p.SystemPrompt,
		}
	}

	for _, n := range d.Nodes {
		node, err := compileNode(n)
		if err != nil {
			return nil, diags, fmt.Errorf("compile node %s: %w", n.ID, err)
		}
		exec.nodes[node.ID] = node
		exec.order = append(exec.order, node.ID)
	}

	for _, a := range d.Arrows {
		edge, err := compileArrow(a)
		if err != nil {
			return nil, diags, fmt.Errorf("compile arrow %s: %w", a.ID, err)
		}
		exec.edges = append(exec.edges, edge)
		exec.inbound[edge.Target] = append(exec.inbound[edge.Target], edge)
		exec.outgoing[edge.Source] = append(exec.outgoing[edge.Source], edge)
	}

	markLoopMembers(exec)

	return exec, diags, nil
}

// markLoopMembers flags every node that can reach itself through the
// edge set. The scheduler stamps iteration meta on their outputs so the
// resolver can drop values produced by a different loop pass.
func markLoopMembers(exec *ExecutableDiagram) {
	for _, id := range exec.order {
		if reachesNode(exec, id, id) {
			exec.nodes[id].InLoop = true
		}
	}
}

func reachesNode(exec *ExecutableDiagram, from, target string) bool {
	seen := make(map[string]bool)
	var queue []string
	for _, e := range exec.outgoing[from] {
		queue = append(queue, e.Target)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == target {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, e := range exec.outgoing[id] {
			queue = append(queue, e.Target)
		}
	}
	return false
}

func compileNode(n diagram.Node) (*ExecutableNode, error) {
	p := props(n.Props)
	node := &ExecutableNode{
		ID:             n.ID,
		Type:           NodeType(n.Type),
		Label:          n.Label,
		RequiredInputs: p.stringSlice("required_inputs"),
		Defaults:       p.anyMap("defaults"),
		Providers:      p.stringSlice("providers"),
	}

	switch node.Type {
	case NodeStart:
		node.Start = &StartConfig{
			CustomData:  p.anyMap("custom_data"),
			TriggerMode: p.stringOr("trigger_mode", "manual"),
			HookEvent:   p.str("hook_event"),
			HookFilters: p.stringMap("hook_filters"),
		}
	case NodeEnd:
		node.End = &EndConfig{SaveToFile: p.str("save_to_file")}
	case NodePersonJob:
		node.PersonJob = &PersonJobConfig{
			PersonID:        p.str("person"),
			Model:           p.str("model"),
			APIKeyID:        p.str("api_key_id"),
			SystemPrompt:    p.str("system_prompt"),
			DefaultPrompt:   p.str("default_prompt"),
			FirstOnlyPrompt: p.str("first_only_prompt"),
			MaxIteration:    p.intOr("max_iteration", 0),
			MemoryPolicy:    p.stringOr("memory_policy", "no_forget"),
			Tools:           p.stringSlice("tools"),
		}
		// 0 means "use the execution-level default cap".
		if node.PersonJob.MaxIteration < 0 {
			return nil, fmt.Errorf("max_iteration must be >= 0, got %d", node.PersonJob.MaxIteration)
		}
	case NodeCondition:
		cfg := &ConditionConfig{
			Evaluator:     ConditionEvaluator(p.stringOr("evaluator", string(EvalCustomExpression))),
			Expression:    p.str("expression"),
			NodeIDs:       p.stringSlice("node_ids"),
			ExposeIndexAs: p.str("expose_index_as"),
			PersonID:      p.str("person"),
			Prompt:        p.str("prompt"),
		}
		switch cfg.Evaluator {
		case EvalCustomExpression, EvalMaxIterations, EvalNodesExecuted, EvalLLMDecision:
		default:
			return nil, fmt.Errorf("unknown condition evaluator %q", cfg.Evaluator)
		}
		if cfg.Evaluator == EvalCustomExpression && cfg.Expression == "" {
			return nil, fmt.Errorf("custom_expression condition requires an expression")
		}
		node.Condition = cfg
	case NodeCodeJob:
		node.CodeJob = &CodeJobConfig{
			Language: p.stringOr("language", "python"),
			Source:   p.str("code"),
			Timeout:  p.duration("timeout", 60*time.Second),
		}
		switch node.CodeJob.Language {
		case "python", "javascript", "bash":
		default:
			return nil, fmt.Errorf("unknown code_job language %q", node.CodeJob.Language)
		}
	case NodeAPIJob:
		cfg := &APIJobConfig{
			Method:      p.stringOr("method", "GET"),
			URL:         p.str("url"),
			Headers:     p.stringMap("headers"),
			Params:      p.stringMap("params"),
			Body:        n.Props["body"],
			Timeout:     p.duration("timeout", 30*time.Second),
			AllowErrors: p.boolean("allow_errors"),
			MaxRetries:  p.intOr("max_retries", 0),
		}
		if auth := p.anyMap("auth"); auth != nil {
			ap := props(auth)
			cfg.Auth = &APIAuth{
				Kind:   ap.str("kind"),
				Token:  ap.str("token"),
				User:   ap.str("user"),
				Pass:   ap.str("pass"),
				Header: ap.stringOr("header", "X-Api-Key"),
			}
		}
		if cfg.URL == "" {
			return nil, fmt.Errorf("api_job requires a url")
		}
		node.APIJob = cfg
	case NodeDB:
		node.DB = &DBConfig{
			Operation: p.stringOr("operation", "read"),
			Path:      p.str("path"),
		}
		switch node.DB.Operation {
		case "prompt", "read", "write", "append":
		default:
			return nil, fmt.Errorf("unknown db operation %q", node.DB.Operation)
		}
	case NodeHook:
		node.Hook = &HookConfig{
			Kind:    p.stringOr("kind", "shell"),
			Command: p.str("command"),
			URL:     p.str("url"),
			Timeout: p.duration("timeout", 30*time.Second),
		}
	case NodeUserResponse:
		node.UserResponse = &UserResponseConfig{
			Prompt:  p.str("prompt"),
			Options: p.stringSlice("options"),
			Timeout: p.duration("timeout", 0),
		}
	case NodeNotion:
		node.Notion = &NotionConfig{
			Operation: p.stringOr("operation", "read_page"),
			PageID:    p.str("page_id"),
			APIKeyID:  p.str("api_key_id"),
		}
	case NodeBatch:
		node.Batch = &BatchConfig{
			ItemsKey:    p.stringOr("items_key", DefaultOutput),
			Template:    p.str("template"),
			MaxParallel: p.intOr("max_parallel", 4),
		}
	default:
		return nil, fmt.Errorf("unknown node type %q", node.Type)
	}

	return node, nil
}

func compileArrow(a diagram.Arrow) (*ExecutableEdge, error) {
	src, err := diagram.ParseHandleRef(a.Source)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	dst, err := diagram.ParseHandleRef(a.Target)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}

	edge := &ExecutableEdge{
		ID:           a.ID,
		Source:       src.NodeID,
		SourceOutput: src.Handle,
		Target:       dst.NodeID,
		TargetInput:  dst.Handle,
		Packing:      Packing(a.Packing),
		Metadata:     copyStringMap(a.Metadata),
	}
	if edge.Packing == "" {
		edge.Packing = PackingPack
	}
	if edge.Metadata == nil {
		edge.Metadata = map[string]string{}
	}
	if a.Label != "" {
		edge.Metadata[MetaLabel] = a.Label
	}
	for _, t := range a.Transforms {
		rule := TransformRule(t)
		switch rule {
		case TransformJSONToText, TransformTextToJSON, TransformBranchOnCondition:
			edge.TransformRules = append(edge.TransformRules, rule)
		default:
			return nil, fmt.Errorf("unknown transform rule %q", t)
		}
	}
	return edge, nil
}

// props wraps a node's raw property map with typed accessors. YAML and
// JSON decoding both land here, so numbers may arrive as int, int64, or
// float64.
type props map[string]any

func (p props) str(key string) string {
	s, _ := p[key].(string)
	return s
}

func (p props) stringOr(key, def string) string {
	if s := p.str(key); s != "" {
		return s
	}
	return def
}

func (p props) boolean(key string) bool {
	b, _ := p[key].(bool)
	return b
}

func (p props) intOr(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func (p props) duration(key string, def time.Duration) time.Duration {
	switch v := p[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return def
}

func (p props) stringSlice(key string) []string {
	raw, ok := p[key].([]any)
	if !ok {
		if typed, ok := p[key].([]string); ok {
			out := make([]string, len(typed))
			copy(out, typed)
			return out
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (p props) anyMap(key string) map[string]any {
	m, ok := p[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (p props) stringMap(key string) map[string]string {
	m := p.anyMap(key)
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

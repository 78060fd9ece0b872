// ABOUTME: Decompiler that turns an ExecutableDiagram back into its declarative form.
// ABOUTME: Preserves node ids, edge endpoints, and node configuration so compile/decompile round-trips.
package engine

import (
	"github.com/2389-research/dipeo/diagram"
)

// Decompile reconstructs a declarative diagram from a compiled one.
// Compiler-applied defaults are written out explicitly, so recompiling
// the result yields the same executable configuration.
func Decompile(ed *ExecutableDiagram) *diagram.Diagram {
	d := &diagram.Diagram{
		ID:       ed.ID,
		Name:     ed.Name,
		Metadata: copyStringMap(ed.Metadata),
	}

	for id, p := range ed.persons {
		d.Persons = append(d.Persons, diagram.Person{
			ID:           id,
			Model:        p.Model,
			APIKeyID:     p.APIKeyID,
			SystemPrompt: p.SystemPrompt,
		})
	}

	for _, node := range ed.Nodes() {
		d.Nodes = append(d.Nodes, diagram.Node{
			ID:    node.ID,
			Type:  string(node.Type),
			Label: node.Label,
			Props: decompileProps(node),
		})
	}

	for _, edge := range ed.Edges() {
		a := diagram.Arrow{
			ID:      edge.ID,
			Source:  handleRef(edge.Source, edge.SourceOutput),
			Target:  handleRef(edge.Target, edge.TargetInput),
			Packing: string(edge.Packing),
		}
		for _, rule := range edge.TransformRules {
			a.Transforms = append(a.Transforms, string(rule))
		}
		for k, v := range edge.Metadata {
			if k == MetaLabel {
				a.Label = v
				continue
			}
			if a.Metadata == nil {
				a.Metadata = map[string]string{}
			}
			a.Metadata[k] = v
		}
		d.Arrows = append(d.Arrows, a)
	}

	return d
}

func handleRef(nodeID, handle string) string {
	if handle == "" || handle == DefaultOutput {
		return nodeID
	}
	return nodeID + ":" + handle
}

// decompileProps writes a node's typed config back into the raw
// property map the compiler reads. Zero values are omitted except where
// the compiler would fill a different default.
func decompileProps(node *ExecutableNode) map[string]any {
	p := map[string]any{}
	put := func(key string, val any) {
		switch v := val.(type) {
		case string:
			if v != "" {
				p[key] = v
			}
		case int:
			if v != 0 {
				p[key] = v
			}
		case bool:
			if v {
				p[key] = v
			}
		case []string:
			if len(v) > 0 {
				p[key] = v
			}
		case map[string]any:
			if len(v) > 0 {
				p[key] = v
			}
		case map[string]string:
			if len(v) > 0 {
				m := make(map[string]any, len(v))
				for k, s := range v {
					m[k] = s
				}
				p[key] = m
			}
		default:
			if val != nil {
				p[key] = val
			}
		}
	}

	put("required_inputs", node.RequiredInputs)
	put("defaults", node.Defaults)
	put("providers", node.Providers)

	switch {
	case node.Start != nil:
		put("custom_data", node.Start.CustomData)
		put("trigger_mode", node.Start.TriggerMode)
		put("hook_event", node.Start.HookEvent)
		put("hook_filters", node.Start.HookFilters)
	case node.End != nil:
		put("save_to_file", node.End.SaveToFile)
	case node.PersonJob != nil:
		cfg := node.PersonJob
		put("person", cfg.PersonID)
		put("model", cfg.Model)
		put("api_key_id", cfg.APIKeyID)
		put("system_prompt", cfg.SystemPrompt)
		put("default_prompt", cfg.DefaultPrompt)
		put("first_only_prompt", cfg.FirstOnlyPrompt)
		put("max_iteration", cfg.MaxIteration)
		put("memory_policy", cfg.MemoryPolicy)
		put("tools", cfg.Tools)
	case node.Condition != nil:
		cfg := node.Condition
		put("evaluator", string(cfg.Evaluator))
		put("expression", cfg.Expression)
		put("node_ids", cfg.NodeIDs)
		put("expose_index_as", cfg.ExposeIndexAs)
		put("person", cfg.PersonID)
		put("prompt", cfg.Prompt)
	case node.CodeJob != nil:
		cfg := node.CodeJob
		put("language", cfg.Language)
		put("code", cfg.Source)
		put("timeout", cfg.Timeout.String())
	case node.APIJob != nil:
		cfg := node.APIJob
		put("method", cfg.Method)
		put("url", cfg.URL)
		put("headers", cfg.Headers)
		put("params", cfg.Params)
		put("timeout", cfg.Timeout.String())
		put("allow_errors", cfg.AllowErrors)
		put("max_retries", cfg.MaxRetries)
		if cfg.Body != nil {
			p["body"] = cfg.Body
		}
		if cfg.Auth != nil {
			auth := map[string]any{}
			if cfg.Auth.Kind != "" {
				auth["kind"] = cfg.Auth.Kind
			}
			if cfg.Auth.Token != "" {
				auth["token"] = cfg.Auth.Token
			}
			if cfg.Auth.User != "" {
				auth["user"] = cfg.Auth.User
			}
			if cfg.Auth.Pass != "" {
				auth["pass"] = cfg.Auth.Pass
			}
			if cfg.Auth.Header != "" {
				auth["header"] = cfg.Auth.Header
			}
			p["auth"] = auth
		}
	case node.DB != nil:
		put("operation", node.DB.Operation)
		put("path", node.DB.Path)
	case node.Hook != nil:
		cfg := node.Hook
		put("kind", cfg.Kind)
		put("command", cfg.Command)
		put("url", cfg.URL)
		put("timeout", cfg.Timeout.String())
	case node.UserResponse != nil:
		cfg := node.UserResponse
		put("prompt", cfg.Prompt)
		put("options", cfg.Options)
		if cfg.Timeout > 0 {
			put("timeout", cfg.Timeout.String())
		}
	case node.Notion != nil:
		cfg := node.Notion
		put("operation", cfg.Operation)
		put("page_id", cfg.PageID)
		put("api_key_id", cfg.APIKeyID)
	case node.Batch != nil:
		cfg := node.Batch
		put("items_key", cfg.ItemsKey)
		put("template", cfg.Template)
		put("max_parallel", cfg.MaxParallel)
	}

	if len(p) == 0 {
		return nil
	}
	return p
}

// ABOUTME: Input-resolution pipeline: collect incoming edges, filter, apply providers, transform, default.
// ABOUTME: Produces the inputs map a handler consumes plus an envelope view keyed by target input.
package engine

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/2389-research/dipeo/conversation"
)

// Provider names recognized in a node's providers list.
const (
	ProviderConversation = "conversation"
	ProviderVariables    = "variables"
)

// Provider-injected input keys. Underscore prefix keeps them apart from
// edge-fed inputs.
const (
	InputConversation = "_conversation"
	InputVariables    = "_variables"
)

// ResolvedInputs is the pipeline's output for one node scheduling.
type ResolvedInputs struct {
	Values    map[string]any
	Envelopes map[string]*Envelope // target input -> source envelope
	Warnings  []string
}

// edgeValue pairs an edge with the envelope fetched for it. Absent
// envelopes never make it into the working set.
type edgeValue struct {
	edge *ExecutableEdge
	env  *Envelope
}

// pipeline carries shared state across the resolution stages.
type pipeline struct {
	node     *ExecutableNode
	ctx      *ExecutionContext
	services *Services
	edges    []edgeValue
	result   *ResolvedInputs
	// writtenBy records which edge produced each accumulator key, so
	// spread collisions can name both sides.
	writtenBy map[string]string
}

// ResolveInputs runs the five-stage pipeline for a node about to
// execute. The node must already be in running state so its execution
// count reflects the current iteration.
func ResolveInputs(node *ExecutableNode, ctx *ExecutionContext, services *Services) (*ResolvedInputs, error) {
	p := &pipeline{
		node:     node,
		ctx:      ctx,
		services: services,
		result: &ResolvedInputs{
			Values:    make(map[string]any),
			Envelopes: make(map[string]*Envelope),
		},
		writtenBy: make(map[string]string),
	}

	if err := p.collectIncoming(); err != nil {
		return nil, err
	}
	p.filter()
	if err := p.applyProviders(); err != nil {
		return nil, &InputResolutionError{NodeID: node.ID, Stage: "providers", Err: err}
	}
	if err := p.transform(); err != nil {
		return nil, err
	}
	if err := p.applyDefaults(); err != nil {
		return nil, err
	}
	return p.result, nil
}

// collectIncoming fetches the source output envelope for every incoming
// edge. Sources that have not produced on the addressed handle yield no
// entry; later stages only see present values. A source caught mid-run
// with nothing stored means the caller dispatched too early.
func (p *pipeline) collectIncoming() error {
	for _, edge := range p.ctx.Diagram.IncomingEdges(p.node.ID) {
		env := p.ctx.Output(edge.Source, edge.SourceOutput)
		if env == nil {
			if p.ctx.NodeState(edge.Source).Status == StatusRunning {
				return &DependencyNotReadyError{NodeID: p.node.ID, Dependency: edge.Source}
			}
			continue
		}
		p.edges = append(p.edges, edgeValue{edge: edge, env: env})
	}
	return nil
}

// filter drops edges per the node-type strategy, the iteration filter,
// and the branch filter.
func (p *pipeline) filter() {
	iteration := p.ctx.ExecCount(p.node.ID)
	kept := p.edges[:0]
	for _, ev := range p.edges {
		// First-execution edges feed a person_job only on its first run.
		if ev.edge.IsFirstExecution() && iteration > 1 {
			continue
		}
		// Iteration filter: a value tagged for another iteration of this
		// node is stale.
		if tagged, ok := metaInt(ev.env, MetaIteration); ok && tagged != iteration {
			continue
		}
		// Branch filter: a value tagged with a branch the controlling
		// condition did not take is dead.
		if branch := ev.env.MetaString(MetaBranch); branch != "" {
			if taken := p.ctx.BranchTaken(ev.env.ProducedBy()); taken != "" && taken != branch {
				continue
			}
		}
		kept = append(kept, ev)
	}
	p.edges = kept
}

// applyProviders injects the node's opted-in special inputs. Providers
// are explicit; nothing is injected a node did not ask for.
func (p *pipeline) applyProviders() error {
	for _, name := range p.node.Providers {
		switch name {
		case ProviderConversation:
			if p.services == nil || p.services.Conversations == nil {
				return fmt.Errorf("provider %s requires a conversation service", name)
			}
			personID := ""
			if p.node.PersonJob != nil {
				personID = p.node.PersonJob.PersonID
			}
			msgs, err := p.services.Conversations.GetMessages(personID, conversation.MemoryNoForget)
			if err != nil {
				return fmt.Errorf("provider %s: %w", name, err)
			}
			p.result.Values[InputConversation] = conversation.State{PersonID: personID, Messages: msgs}
			p.writtenBy[InputConversation] = "provider:" + name
		case ProviderVariables:
			p.result.Values[InputVariables] = p.ctx.Variables()
			p.writtenBy[InputVariables] = "provider:" + name
		default:
			return fmt.Errorf("unknown provider %q", name)
		}
	}
	return nil
}

// transform applies edge transform rules and combines values into the
// accumulator per packing.
func (p *pipeline) transform() error {
	for _, ev := range p.edges {
		value := ev.env.RawBody()
		for _, rule := range ev.edge.TransformRules {
			var err error
			value, err = applyTransform(rule, value, ev.env)
			if err != nil {
				return &TransformationError{Edge: ev.edge.Key(), Rule: rule, Err: err}
			}
		}

		switch ev.edge.Packing {
		case PackingSpread:
			obj, ok := value.(map[string]any)
			if !ok {
				return &InputResolutionError{
					NodeID: p.node.ID,
					Edge:   ev.edge.Key(),
					Stage:  "transform",
					Err:    fmt.Errorf("spread value is %T, not an object", value),
				}
			}
			keys := sortedKeys(obj)
			for _, k := range keys {
				if prev, exists := p.writtenBy[k]; exists {
					return &SpreadCollisionError{
						NodeID: p.node.ID,
						Key:    k,
						Edges:  []string{prev, ev.edge.Key()},
					}
				}
			}
			for _, k := range keys {
				p.result.Values[k] = obj[k]
				p.writtenBy[k] = ev.edge.Key()
				p.result.Envelopes[k] = ev.env
			}
		default: // pack: later edges with the same target input overwrite
			key := ev.edge.TargetInput
			if key == "" {
				key = DefaultOutput
			}
			p.result.Values[key] = value
			p.writtenBy[key] = ev.edge.Key()
			p.result.Envelopes[key] = ev.env
		}
	}
	return nil
}

// applyDefaults fills declared defaults for absent keys and fails on
// required inputs that remain unset.
func (p *pipeline) applyDefaults() error {
	for key, def := range p.node.Defaults {
		if _, ok := p.result.Values[key]; !ok {
			p.result.Values[key] = def
		}
	}
	for _, required := range p.node.RequiredInputs {
		if _, ok := p.result.Values[required]; !ok {
			return &InputResolutionError{
				NodeID: p.node.ID,
				Stage:  "defaults",
				Err:    fmt.Errorf("required input %q has no incoming value and no default", required),
			}
		}
	}
	return nil
}

func applyTransform(rule TransformRule, value any, env *Envelope) (any, error) {
	switch rule {
	case TransformJSONToText:
		if s, ok := value.(string); ok {
			return s, nil
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode %T as text: %w", value, err)
		}
		return string(data), nil
	case TransformTextToJSON:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("text_to_json needs a string, got %T", value)
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("parse text as json: %w", err)
		}
		return out, nil
	case TransformBranchOnCondition:
		// The branch filter already gated delivery; expose the decision
		// itself as the value when the source was a condition.
		if branch := env.MetaString(MetaBranch); branch != "" {
			return branch == BranchTrue, nil
		}
		return value, nil
	default:
		return nil, fmt.Errorf("unknown transform rule %q", rule)
	}
}

func metaInt(env *Envelope, key string) (int, bool) {
	switch v := env.Meta(key).(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Deterministic collision reporting.
	sort.Strings(keys)
	return keys
}

// ABOUTME: Batch node handler: fans a template over a list of items with bounded parallelism.
// ABOUTME: Results keep item order; any item failure fails the whole node with the item index.
package engine

import (
	"context"
	"fmt"
	"sync"
)

// BatchHandler handles fan-over-items steps.
type BatchHandler struct{}

// Type returns the node type "batch".
func (h *BatchHandler) Type() NodeType { return NodeBatch }

func (h *BatchHandler) RequiredServices() []string { return []string{ServiceTemplate} }

// Execute renders the template once per item. Items run concurrently up
// to max_parallel; the result list preserves input order.
func (h *BatchHandler) Execute(ctx context.Context, node *ExecutableNode, view *ContextView, inputs *ResolvedInputs, services *Services) (*Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := node.Batch

	raw, ok := inputs.Values[cfg.ItemsKey]
	if !ok {
		return nil, fmt.Errorf("batch %s: no input on key %q", node.ID, cfg.ItemsKey)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("batch %s: input %q is %T, not a list", node.ID, cfg.ItemsKey, raw)
	}
	if cfg.Template == "" {
		return nil, fmt.Errorf("batch %s: no template configured", node.ID)
	}

	maxParallel := cfg.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}

	results := make([]any, len(items))
	errs := make([]error, len(items))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	baseScope := templateScope(inputs, view)
	for i, item := range items {
		wg.Add(1)
		go func(i int, item any) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				errs[i] = ctx.Err()
				return
			}
			scope := make(map[string]any, len(baseScope)+2)
			for k, v := range baseScope {
				scope[k] = v
			}
			scope["item"] = item
			scope["index"] = i
			rendered, err := services.Templates.Render(cfg.Template, scope)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = rendered
		}(i, item)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("batch %s: item %d: %w", node.ID, i, err)
		}
	}

	return NewObjectEnvelope(results, node.ID).WithMeta("batch_size", len(items)), nil
}

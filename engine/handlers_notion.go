// ABOUTME: Notion node handler: reads pages, creates pages, and appends blocks via the Notion service.
// ABOUTME: String inputs are treated as markdown and converted to blocks before writing.
package engine

import (
	"context"
	"fmt"
)

// NotionHandler handles Notion page steps.
type NotionHandler struct{}

// Type returns the node type "notion".
func (h *NotionHandler) Type() NodeType { return NodeNotion }

func (h *NotionHandler) RequiredServices() []string {
	return []string{ServiceNotion, ServiceAPIKey}
}

func (h *NotionHandler) Execute(ctx context.Context, node *ExecutableNode, view *ContextView, inputs *ResolvedInputs, services *Services) (*Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := node.Notion
	if cfg.PageID == "" {
		return nil, fmt.Errorf("notion %s: no page_id configured", node.ID)
	}

	apiKey, err := services.APIKeys.Resolve(cfg.APIKeyID)
	if err != nil {
		return nil, fmt.Errorf("notion %s: %w", node.ID, err)
	}

	switch cfg.Operation {
	case "read_page":
		content, err := services.Notion.ReadPage(ctx, apiKey, cfg.PageID)
		if err != nil {
			return nil, fmt.Errorf("notion %s: %w", node.ID, err)
		}
		return NewTextEnvelope(content, node.ID), nil

	case "create_page":
		title, blocks := h.inputContent(node, inputs)
		pageID, err := services.Notion.CreatePage(ctx, apiKey, cfg.PageID, title, blocks)
		if err != nil {
			return nil, fmt.Errorf("notion %s: %w", node.ID, err)
		}
		return NewObjectEnvelope(map[string]any{"page_id": pageID}, node.ID), nil

	case "append_blocks":
		_, blocks := h.inputContent(node, inputs)
		if err := services.Notion.AppendBlocks(ctx, apiKey, cfg.PageID, blocks); err != nil {
			return nil, fmt.Errorf("notion %s: %w", node.ID, err)
		}
		return NewObjectEnvelope(map[string]any{"page_id": cfg.PageID, "appended": len(blocks)}, node.ID), nil

	default:
		return nil, fmt.Errorf("notion %s: unknown operation %q", node.ID, cfg.Operation)
	}
}

// inputContent derives a page title and block list from the default
// input. Markdown strings go through the block converter.
func (h *NotionHandler) inputContent(node *ExecutableNode, inputs *ResolvedInputs) (string, []map[string]any) {
	title := node.Label
	if title == "" {
		title = node.ID
	}
	if t, ok := inputs.Values["title"].(string); ok && t != "" {
		title = t
	}

	switch v := inputs.Values[DefaultOutput].(type) {
	case string:
		return title, MarkdownToBlocks(v)
	case []map[string]any:
		return title, v
	default:
		data, err := renderResult(v)
		if err != nil {
			return title, nil
		}
		return title, []map[string]any{richTextBlock("paragraph", string(data))}
	}
}

// ABOUTME: Notion API client implementing the NotionService port, plus markdown-to-block conversion.
// ABOUTME: Markdown is parsed with goldmark; headings, paragraphs, list items, and code fences map to blocks.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const (
	notionAPIBase    = "https://api.notion.com/v1"
	notionAPIVersion = "2022-06-28"
)

// HTTPNotionService talks to the Notion REST API.
type HTTPNotionService struct {
	// BaseURL overrides the API endpoint, used in tests.
	BaseURL string
	Client  *http.Client
}

// NewNotionService creates a client with a 30s timeout.
func NewNotionService() *HTTPNotionService {
	return &HTTPNotionService{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (s *HTTPNotionService) base() string {
	if s.BaseURL != "" {
		return s.BaseURL
	}
	return notionAPIBase
}

func (s *HTTPNotionService) do(ctx context.Context, apiKey, method, path string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode notion request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.base()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build notion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Notion-Version", notionAPIVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notion request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read notion response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("notion status %d: %s", resp.StatusCode, truncate(string(data), 500))
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode notion response: %w", err)
	}
	return decoded, nil
}

// ReadPage fetches a page's block children and flattens them to text.
func (s *HTTPNotionService) ReadPage(ctx context.Context, apiKey, pageID string) (string, error) {
	decoded, err := s.do(ctx, apiKey, http.MethodGet, "/blocks/"+pageID+"/children?page_size=100", nil)
	if err != nil {
		return "", err
	}
	results, _ := decoded["results"].([]any)
	var sb strings.Builder
	for _, r := range results {
		block, _ := r.(map[string]any)
		if block == nil {
			continue
		}
		if line := blockPlainText(block); line != "" {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

// CreatePage creates a child page under a parent with the given blocks
// and returns the new page id.
func (s *HTTPNotionService) CreatePage(ctx context.Context, apiKey, parentID, title string, blocks []map[string]any) (string, error) {
	payload := map[string]any{
		"parent": map[string]any{"page_id": parentID},
		"properties": map[string]any{
			"title": map[string]any{
				"title": []map[string]any{
					{"text": map[string]any{"content": title}},
				},
			},
		},
		"children": blocks,
	}
	decoded, err := s.do(ctx, apiKey, http.MethodPost, "/pages", payload)
	if err != nil {
		return "", err
	}
	id, _ := decoded["id"].(string)
	return id, nil
}

// AppendBlocks appends blocks to an existing page.
func (s *HTTPNotionService) AppendBlocks(ctx context.Context, apiKey, pageID string, blocks []map[string]any) error {
	_, err := s.do(ctx, apiKey, http.MethodPatch, "/blocks/"+pageID+"/children", map[string]any{
		"children": blocks,
	})
	return err
}

// blockPlainText pulls the rich-text plain_text out of a block of any
// supported type.
func blockPlainText(block map[string]any) string {
	typ, _ := block["type"].(string)
	content, _ := block[typ].(map[string]any)
	if content == nil {
		return ""
	}
	rich, _ := content["rich_text"].([]any)
	var sb strings.Builder
	for _, r := range rich {
		item, _ := r.(map[string]any)
		if item == nil {
			continue
		}
		if plain, ok := item["plain_text"].(string); ok {
			sb.WriteString(plain)
		}
	}
	return sb.String()
}

// MarkdownToBlocks converts markdown into Notion block objects.
// Headings, paragraphs, list items, and fenced code map directly;
// anything else degrades to a paragraph.
func MarkdownToBlocks(markdown string) []map[string]any {
	src := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var blocks []map[string]any
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			level := node.Level
			if level > 3 {
				level = 3
			}
			blocks = append(blocks, richTextBlock(fmt.Sprintf("heading_%d", level), collectText(node, src)))
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock:
			var sb strings.Builder
			for i := 0; i < node.Lines().Len(); i++ {
				seg := node.Lines().At(i)
				sb.Write(seg.Value(src))
			}
			block := richTextBlock("code", strings.TrimRight(sb.String(), "\n"))
			block["code"].(map[string]any)["language"] = codeLanguage(node, src)
			blocks = append(blocks, block)
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			blocks = append(blocks, richTextBlock("bulleted_list_item", collectText(node, src)))
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph:
			if _, inList := node.Parent().(*ast.ListItem); inList {
				return ast.WalkContinue, nil
			}
			blocks = append(blocks, richTextBlock("paragraph", collectText(node, src)))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return blocks
}

func richTextBlock(typ, content string) map[string]any {
	return map[string]any{
		"object": "block",
		"type":   typ,
		typ: map[string]any{
			"rich_text": []map[string]any{
				{"type": "text", "text": map[string]any{"content": content}},
			},
		},
	}
}

func codeLanguage(node *ast.FencedCodeBlock, src []byte) string {
	if node.Info == nil {
		return "plain text"
	}
	lang := strings.TrimSpace(string(node.Info.Segment.Value(src)))
	if lang == "" {
		return "plain text"
	}
	return lang
}

// collectText concatenates the text segments under a node.
func collectText(n ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := child.(*ast.Text); ok {
			sb.Write(t.Segment.Value(src))
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}

// ABOUTME: API job handler that issues outbound HTTP requests with auth, timeout, and optional retry.
// ABOUTME: Non-2xx responses fail the node unless allow_errors is set; JSON bodies decode into the output.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxAPIResponseBytes caps how much of a response body is read.
const maxAPIResponseBytes = 10 * 1024 * 1024

// APIJobHandler handles outbound HTTP steps.
type APIJobHandler struct {
	// Client overrides the default HTTP client, used in tests.
	Client *http.Client
}

// Type returns the node type "api_job".
func (h *APIJobHandler) Type() NodeType { return NodeAPIJob }

func (h *APIJobHandler) RequiredServices() []string { return []string{ServiceTemplate} }

// Execute renders the URL and body templates, applies auth, and issues
// the request under the node's retry policy.
func (h *APIJobHandler) Execute(ctx context.Context, node *ExecutableNode, view *ContextView, inputs *ResolvedInputs, services *Services) (*Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := node.APIJob
	scope := templateScope(inputs, view)

	rawURL, err := services.Templates.Render(cfg.URL, scope)
	if err != nil {
		return nil, fmt.Errorf("api_job %s: render url: %w", node.ID, err)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("api_job %s: bad url %q: %w", node.ID, rawURL, err)
	}
	if len(cfg.Params) > 0 {
		q := parsed.Query()
		for k, v := range cfg.Params {
			rendered, err := services.Templates.Render(v, scope)
			if err != nil {
				return nil, fmt.Errorf("api_job %s: render param %s: %w", node.ID, k, err)
			}
			q.Set(k, rendered)
		}
		parsed.RawQuery = q.Encode()
	}

	bodyBytes, contentType, err := h.buildBody(cfg, inputs, scope, services)
	if err != nil {
		return nil, fmt.Errorf("api_job %s: %w", node.ID, err)
	}

	client := h.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	var result *Envelope
	policy := PolicyForAttempts(cfg.MaxRetries)
	err = retryWithPolicy(ctx, policy, func() error {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, strings.ToUpper(cfg.Method), parsed.String(), bodyReader)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		for k, v := range cfg.Headers {
			rendered, err := services.Templates.Render(v, scope)
			if err != nil {
				return fmt.Errorf("render header %s: %w", k, err)
			}
			req.Header.Set(k, rendered)
		}
		if err := applyAuth(req, cfg.Auth, services); err != nil {
			return err
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if (resp.StatusCode < 200 || resp.StatusCode > 299) && !cfg.AllowErrors {
			return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 500))
		}

		result = buildAPIResult(node.ID, resp.StatusCode, resp.Header.Get("Content-Type"), data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("api_job %s: %w", node.ID, err)
	}
	return result, nil
}

// buildBody prefers the configured body, falling back to the default
// input value for POST-like methods.
func (h *APIJobHandler) buildBody(cfg *APIJobConfig, inputs *ResolvedInputs, scope map[string]any, services *Services) ([]byte, string, error) {
	body := cfg.Body
	if body == nil {
		switch strings.ToUpper(cfg.Method) {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			body = inputs.Values[DefaultOutput]
		}
	}
	if body == nil {
		return nil, "", nil
	}
	if s, ok := body.(string); ok {
		rendered, err := services.Templates.Render(s, scope)
		if err != nil {
			return nil, "", fmt.Errorf("render body: %w", err)
		}
		return []byte(rendered), "text/plain", nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("encode body: %w", err)
	}
	return data, "application/json", nil
}

func applyAuth(req *http.Request, auth *APIAuth, services *Services) error {
	if auth == nil {
		return nil
	}
	token := auth.Token
	// Tokens may reference an api_key id instead of a literal secret.
	if token != "" && services != nil && services.APIKeys != nil {
		if resolved, err := services.APIKeys.Resolve(token); err == nil {
			token = resolved
		}
	}
	switch auth.Kind {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+token)
	case "basic":
		req.SetBasicAuth(auth.User, auth.Pass)
	case "api_key":
		header := auth.Header
		if header == "" {
			header = "X-Api-Key"
		}
		req.Header.Set(header, token)
	case "":
	default:
		return fmt.Errorf("unknown auth kind %q", auth.Kind)
	}
	return nil
}

// buildAPIResult wraps the response as an object envelope with status,
// headers-derived content type, and decoded body when it is JSON.
func buildAPIResult(nodeID string, status int, contentType string, data []byte) *Envelope {
	var body any = string(data)
	if strings.Contains(contentType, "json") {
		var decoded any
		if err := json.Unmarshal(data, &decoded); err == nil {
			body = decoded
		}
	}
	return NewObjectEnvelope(map[string]any{
		"status": status,
		"body":   body,
	}, nodeID)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

// ABOUTME: Hook node handler: fires external side effects via a shell command or an outbound webhook.
// ABOUTME: Shell hooks receive the inputs as JSON on DIPEO_INPUTS; webhooks POST the inputs as JSON.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// HookHandler handles external side-effect steps.
type HookHandler struct {
	// Client overrides the default HTTP client for webhook hooks.
	Client *http.Client
}

// Type returns the node type "hook".
func (h *HookHandler) Type() NodeType { return NodeHook }

func (h *HookHandler) RequiredServices() []string { return []string{ServiceTemplate} }

func (h *HookHandler) Execute(ctx context.Context, node *ExecutableNode, view *ContextView, inputs *ResolvedInputs, services *Services) (*Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := node.Hook
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	switch cfg.Kind {
	case "shell":
		return h.runShell(ctx, node, cfg, inputs, services, view, timeout)
	case "webhook":
		return h.runWebhook(ctx, node, cfg, inputs, timeout)
	default:
		return nil, fmt.Errorf("hook %s: unknown kind %q", node.ID, cfg.Kind)
	}
}

func (h *HookHandler) runShell(ctx context.Context, node *ExecutableNode, cfg *HookConfig, inputs *ResolvedInputs, services *Services, view *ContextView, timeout time.Duration) (*Envelope, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("hook %s: no command configured", node.ID)
	}
	command, err := services.Templates.Render(cfg.Command, templateScope(inputs, view))
	if err != nil {
		return nil, fmt.Errorf("hook %s: render command: %w", node.ID, err)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	inputsJSON, err := json.Marshal(inputs.Values)
	if err != nil {
		return nil, fmt.Errorf("hook %s: encode inputs: %w", node.ID, err)
	}
	cmd.Env = append(os.Environ(), "DIPEO_INPUTS="+string(inputsJSON))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("hook %s: timed out after %s", node.ID, timeout)
		}
		return nil, fmt.Errorf("hook %s: command failed: %v: %s", node.ID, err, strings.TrimSpace(stderr.String()))
	}

	return NewTextEnvelope(strings.TrimRight(stdout.String(), "\n"), node.ID), nil
}

func (h *HookHandler) runWebhook(ctx context.Context, node *ExecutableNode, cfg *HookConfig, inputs *ResolvedInputs, timeout time.Duration) (*Envelope, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("hook %s: no url configured", node.ID)
	}

	payload, err := json.Marshal(inputs.Values)
	if err != nil {
		return nil, fmt.Errorf("hook %s: encode payload: %w", node.ID, err)
	}

	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("hook %s: build request: %w", node.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hook %s: webhook failed: %w", node.ID, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("hook %s: webhook status %d: %s", node.ID, resp.StatusCode, truncate(string(body), 500))
	}

	return NewObjectEnvelope(map[string]any{
		"status": resp.StatusCode,
		"body":   string(body),
	}, node.ID), nil
}

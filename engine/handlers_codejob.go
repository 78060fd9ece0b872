// ABOUTME: Code job handler that executes inline python, javascript, or bash within a timeout.
// ABOUTME: Inputs arrive as JSON in the DIPEO_INPUTS env var; stdout (or a result variable) becomes the output.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// defaultCodeTimeout is used when no timeout is configured on the node.
const defaultCodeTimeout = 60 * time.Second

// pythonRunner wraps user source so a top-level `result` variable is
// printed when stdout is otherwise unused.
const pythonRunner = `import json, os, sys
inputs = json.loads(os.environ.get("DIPEO_INPUTS", "{}"))
_scope = {"inputs": inputs}
exec(sys.argv[1], _scope)
if "result" in _scope:
    _r = _scope["result"]
    sys.stdout.write(_r if isinstance(_r, str) else json.dumps(_r))
`

// jsRunner mirrors pythonRunner for node.
const jsRunner = `const inputs = JSON.parse(process.env.DIPEO_INPUTS || "{}");
let result;
eval(process.argv[1]);
if (result !== undefined) {
  process.stdout.write(typeof result === "string" ? result : JSON.stringify(result));
}
`

// CodeJobHandler handles inline code steps.
type CodeJobHandler struct{}

// Type returns the node type "code_job".
func (h *CodeJobHandler) Type() NodeType { return NodeCodeJob }

func (h *CodeJobHandler) RequiredServices() []string { return []string{ServiceTemplate} }

// Execute substitutes template variables into the source and runs it in
// the configured language. Missing template variables fail before any
// process starts.
func (h *CodeJobHandler) Execute(ctx context.Context, node *ExecutableNode, view *ContextView, inputs *ResolvedInputs, services *Services) (*Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := node.CodeJob
	if cfg.Source == "" {
		return nil, fmt.Errorf("code_job %s: empty source", node.ID)
	}

	source, err := services.Templates.Render(cfg.Source, templateScope(inputs, view))
	if err != nil {
		return nil, &TransformationError{
			Edge: node.ID,
			Rule: "template",
			Err:  err,
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCodeTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	switch cfg.Language {
	case "python":
		cmd = exec.CommandContext(cmdCtx, "python3", "-c", pythonRunner, source)
	case "javascript":
		cmd = exec.CommandContext(cmdCtx, "node", "-e", jsRunner, source)
	case "bash":
		cmd = exec.CommandContext(cmdCtx, "bash", "-c", source)
	default:
		return nil, fmt.Errorf("code_job %s: unknown language %q", node.ID, cfg.Language)
	}

	// Process group so a timeout kills the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	inputsJSON, err := json.Marshal(inputs.Values)
	if err != nil {
		return nil, fmt.Errorf("code_job %s: encode inputs: %w", node.ID, err)
	}
	cmd.Env = append(os.Environ(), "DIPEO_INPUTS="+string(inputsJSON))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("code_job %s: timed out after %s", node.ID, timeout)
		}
		return nil, fmt.Errorf("code_job %s: %s failed: %v: %s", node.ID, cfg.Language, err, strings.TrimSpace(stderr.String()))
	}

	out := strings.TrimRight(stdout.String(), "\n")

	// Structured stdout becomes an object envelope; anything else stays text.
	trimmed := strings.TrimSpace(out)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return NewObjectEnvelope(decoded, node.ID), nil
		}
	}
	return NewTextEnvelope(out, node.ID), nil
}

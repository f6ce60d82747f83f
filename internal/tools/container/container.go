// Package container implements the sandbox-facing tools. They are only
// registered when the session has a sandbox bound to it; a project with no
// container simply never sees them.
//
// Like the file tools, everything the reasoning engine gets back is an
// observation string. A stopped container is not an exception, it is a fact
// the engine should act on.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jkaninda/karakana/internal/lifecycle"
	"github.com/jkaninda/karakana/internal/runtime"
	"github.com/jkaninda/karakana/internal/tools"
)

// defaultWait is how long wait_and_retry pauses when the engine asks for
// a generic wait.
const defaultWait = 5 * time.Second

// ---- ExecTool ----

// ExecTool runs a shell command inside the bound sandbox.
type ExecTool struct {
	exec    *runtime.Executor
	sandbox string
	logger  *slog.Logger
}

// NewExecTool creates an execute_container_command tool bound to one sandbox.
func NewExecTool(exec *runtime.Executor, sandbox string, logger *slog.Logger) *ExecTool {
	return &ExecTool{exec: exec, sandbox: sandbox, logger: logger}
}

func (t *ExecTool) Name() string { return "execute_container_command" }
func (t *ExecTool) Description() string {
	return "Run a shell command inside the project's container. Use this for installing packages " +
		"(pnpm add), building (pnpm build) and running tests. Do not use it for git or for reading " +
		"and editing project files; those happen outside the container with the file tools. The " +
		"command runs in the container's app directory and may take several minutes."
}
func (t *ExecTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "description": "The shell command to run inside the container"},
			"timeout": map[string]any{"type": "string", "description": "Duration string (e.g. '2m'), overrides the 5m default"},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Validate(params map[string]any) error {
	if _, err := tools.RequireString(params, "command"); err != nil {
		return err
	}
	if timeout, ok := params["timeout"].(string); ok && timeout != "" {
		if _, err := time.ParseDuration(timeout); err != nil {
			return fmt.Errorf("invalid timeout %q: %w", timeout, err)
		}
	}
	return nil
}

func (t *ExecTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	command, err := tools.RequireString(params, "command")
	if err != nil {
		return tools.Fail("%v", err), nil
	}

	var timeout time.Duration
	if v, ok := params["timeout"].(string); ok && v != "" {
		timeout, err = time.ParseDuration(v)
		if err != nil {
			return tools.Fail("Invalid timeout %q: %v", v, err), nil
		}
	}

	t.logger.InfoContext(ctx, "execute_container_command executing",
		slog.String("sandbox", t.sandbox),
		slog.String("command", command),
	)

	res, err := t.exec.RunInContainer(ctx, t.sandbox, command, timeout)
	if err != nil {
		return tools.Fail("Command could not be executed: %v", err), nil
	}

	output := res.Output()
	if res.Hint != "" {
		output += "\nHint: " + res.Hint
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(output, tools.MaxOutputBytes),
		Success: res.Success,
		Metadata: map[string]any{
			"exit_code": res.ExitCode,
			"sandbox":   t.sandbox,
		},
	}, nil
}

// ---- ManageTool ----

// ManageTool exposes status, restart and list operations on the bound
// sandbox.
type ManageTool struct {
	exec    *runtime.Executor
	manager *lifecycle.Manager
	sandbox string
	logger  *slog.Logger
}

// NewManageTool creates a manage_container tool bound to one sandbox.
func NewManageTool(exec *runtime.Executor, manager *lifecycle.Manager, sandbox string, logger *slog.Logger) *ManageTool {
	return &ManageTool{exec: exec, manager: manager, sandbox: sandbox, logger: logger}
}

func (t *ManageTool) Name() string { return "manage_container" }
func (t *ManageTool) Description() string {
	return "Inspect or control the project's container. 'status' reports whether it is running, " +
		"'restart' stops and starts it, 'list' shows all managed containers."
}
func (t *ManageTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"status", "restart", "list"},
				"description": "Action to perform",
			},
		},
		"required": []string{"action"},
	}
}

func (t *ManageTool) Validate(params map[string]any) error {
	op, err := tools.RequireString(params, "action")
	if err != nil {
		return err
	}
	switch op {
	case "status", "restart", "list":
		return nil
	default:
		return fmt.Errorf("action must be status, restart or list, got %q", op)
	}
}

func (t *ManageTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	op, err := tools.RequireString(params, "action")
	if err != nil {
		return tools.Fail("%v", err), nil
	}

	t.logger.InfoContext(ctx, "manage_container executing",
		slog.String("action", op),
		slog.String("sandbox", t.sandbox),
	)

	switch op {
	case "status":
		st := t.exec.Status(ctx, t.sandbox)
		if st.Err != "" {
			return tools.Fail("Cannot check container status: %s", st.Err), nil
		}
		return &tools.Result{Output: st.Summary(t.sandbox), Success: true}, nil

	case "restart":
		res, err := t.manager.Restart(ctx, t.sandbox)
		if err != nil {
			return tools.Fail("Restart failed: %v", err), nil
		}
		return &tools.Result{
			Output:  fmt.Sprintf("Container %s restarted.\n%s", t.sandbox, res.Status.Summary(t.sandbox)),
			Success: true,
		}, nil

	case "list":
		return t.list(ctx)

	default:
		return tools.Fail("Unknown action %q.", op), nil
	}
}

func (t *ManageTool) list(ctx context.Context) (*tools.Result, error) {
	raw, err := t.exec.Listing(ctx)
	if err != nil {
		return tools.Fail("Cannot list containers: %v", err), nil
	}
	out := strings.TrimSpace(raw)
	if out == "" {
		out = "No managed containers."
	}
	return &tools.Result{Output: tools.TruncateOutput(out, tools.MaxOutputBytes), Success: true}, nil
}

// ---- WaitTool ----

// WaitTool gives the engine an explicit way to wait for a container to
// settle, instead of hammering a service that is still booting.
type WaitTool struct {
	logger *slog.Logger
	sleep  func(time.Duration)
}

// NewWaitTool creates a wait_and_retry tool.
func NewWaitTool(logger *slog.Logger) *WaitTool {
	return &WaitTool{logger: logger, sleep: time.Sleep}
}

// WithSleeper replaces the sleep, for tests.
func (t *WaitTool) WithSleeper(sleep func(time.Duration)) *WaitTool {
	t.sleep = sleep
	return t
}

func (t *WaitTool) Name() string { return "wait_and_retry" }
func (t *WaitTool) Description() string {
	return "Wait a few seconds before retrying. Use this after restarting the container or when " +
		"a dev server is still starting up."
}
func (t *WaitTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"seconds": map[string]any{"type": "integer", "description": "Seconds to wait, between 1 and 30. Defaults to 5."},
		},
	}
}

func (t *WaitTool) Validate(params map[string]any) error {
	if v, ok := params["seconds"]; ok {
		secs, ok := v.(float64) // JSON numbers decode to float64
		if !ok {
			return fmt.Errorf("parameter seconds must be a number, got %T", v)
		}
		if secs < 1 || secs > 30 {
			return fmt.Errorf("seconds must be between 1 and 30, got %v", secs)
		}
	}
	return nil
}

func (t *WaitTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	wait := defaultWait
	if v, ok := params["seconds"].(float64); ok && v >= 1 && v <= 30 {
		wait = time.Duration(v) * time.Second
	}

	t.logger.InfoContext(ctx, "wait_and_retry executing", slog.Duration("wait", wait))
	t.sleep(wait)

	return &tools.Result{
		Output:  fmt.Sprintf("Waited %s. Retry the previous operation now.", wait),
		Success: true,
	}, nil
}

// Package shell implements run_command, host-side shell execution scoped to
// the project directory. Container commands belong to the container tools;
// this one exists for quick host operations like grep or ls over the
// project tree.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/karakana/internal/runtime"
	"github.com/jkaninda/karakana/internal/tools"
)

// Tool executes shell commands on the host within the project directory.
type Tool struct {
	exec       *runtime.Executor
	workingDir string
	logger     *slog.Logger
}

// NewTool creates a run_command tool bound to the given project directory.
func NewTool(exec *runtime.Executor, workingDir string, logger *slog.Logger) *Tool {
	return &Tool{exec: exec, workingDir: workingDir, logger: logger}
}

func (t *Tool) Name() string { return "run_command" }
func (t *Tool) Description() string {
	return "Run a shell command on the host with the project directory as working directory. " +
		"For package installs, builds or tests inside the sandbox, use execute_container_command instead."
}
func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "description": "The shell command to execute"},
			"timeout": map[string]any{"type": "string", "description": "Duration string (e.g. '10s', '1m'), overrides the 30s default"},
		},
		"required": []string{"command"},
	}
}

// Validate checks that required params are present and well-formed.
func (t *Tool) Validate(params map[string]any) error {
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

// Execute runs the command on the host.
func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
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

	t.logger.InfoContext(ctx, "run_command executing", slog.String("command", command))

	res, err := t.exec.RunHost(ctx, command, t.workingDir, timeout)
	if err != nil {
		return tools.Fail("Command could not be executed: %v", err), nil
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(res.Output(), tools.MaxOutputBytes),
		Success: res.Success,
		Metadata: map[string]any{
			"exit_code": res.ExitCode,
		},
	}, nil
}

package agent

import (
	"fmt"
	"log/slog"

	"github.com/jkaninda/karakana/internal/lifecycle"
	"github.com/jkaninda/karakana/internal/runtime"
	"github.com/jkaninda/karakana/internal/tools"
	"github.com/jkaninda/karakana/internal/tools/container"
	"github.com/jkaninda/karakana/internal/tools/file"
	"github.com/jkaninda/karakana/internal/tools/shell"
)

// ToolsetConfig describes one session's capabilities.
type ToolsetConfig struct {
	// ProjectDir confines every file tool. Must exist.
	ProjectDir string
	// Sandbox is the bound container name. Empty means the session has
	// no sandbox and the container tools are not registered.
	Sandbox string
	// File carries file tool limits; zero value applies defaults.
	File file.Config

	Executor  *runtime.Executor
	Lifecycle *lifecycle.Manager
	Logger    *slog.Logger
}

// BuildToolset assembles the tool registry for a session. File and host
// command tools are always present; container tools only when a sandbox
// is bound, so the provider never sees capabilities it cannot use.
func BuildToolset(cfg ToolsetConfig) (*tools.Registry, error) {
	scope, err := tools.NewScope(cfg.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("project scope: %w", err)
	}

	reg := tools.NewRegistry()
	reg.Register(file.NewReadTool(scope, cfg.File, cfg.Logger))
	reg.Register(file.NewWriteTool(scope, cfg.File, cfg.Logger))
	reg.Register(file.NewListTool(scope, cfg.Logger))
	reg.Register(shell.NewTool(cfg.Executor, cfg.ProjectDir, cfg.Logger))

	if cfg.Sandbox != "" {
		reg.Register(container.NewExecTool(cfg.Executor, cfg.Sandbox, cfg.Logger))
		reg.Register(container.NewManageTool(cfg.Executor, cfg.Lifecycle, cfg.Sandbox, cfg.Logger))
		reg.Register(container.NewWaitTool(cfg.Logger))
	}
	return reg, nil
}

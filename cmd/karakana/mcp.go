package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jkaninda/karakana/internal/agent"
	"github.com/jkaninda/karakana/internal/config"
	"github.com/jkaninda/karakana/internal/gateway/mcpsrv"
	"github.com/jkaninda/karakana/internal/tools/file"
	goutils "github.com/jkaninda/go-utils"
)

var (
	mcpConfigPath string
	mcpProjectRef string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve a project's tool set over MCP stdio",
	Long: `Serve the project's file and sandbox tools over the Model Context
Protocol on stdin/stdout, so external agents (IDEs, desktop clients)
can drive the project sandbox directly. All logs go to stderr.`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	mcpCmd.Flags().StringVar(&mcpProjectRef, "project", "", "project ID or name (required)")
	_ = mcpCmd.MarkFlagRequired("project")
}

func runMCP(cmd *cobra.Command, _ []string) error {
	logger := newLogger(slog.LevelWarn)

	cfg, err := config.LoadOrDefault(goutils.Env("KARAKANA_CONFIG", mcpConfigPath))
	if err != nil {
		return err
	}

	// No LLM provider: the connected MCP client brings its own model.
	sc, err := initShared(cfg, logger, false)
	if err != nil {
		return err
	}
	defer sc.Cleanup()
	ctx := cmd.Context()

	project, err := resolveProject(ctx, sc.Store, mcpProjectRef)
	if err != nil {
		return fmt.Errorf("resolving project %q: %w", mcpProjectRef, err)
	}

	projectDir := sc.Workspace.ProjectDir(project.Name)
	if err := os.MkdirAll(projectDir, 0750); err != nil {
		return fmt.Errorf("preparing project directory: %w", err)
	}
	if project.Sandbox != "" {
		if _, err := sc.Lifecycle.EnsureRunning(ctx, project.Sandbox); err != nil {
			logger.Warn("sandbox not running; container tools will report failures",
				slog.String("sandbox", project.Sandbox),
				slog.String("error", err.Error()),
			)
		}
	}

	registry, err := agent.BuildToolset(agent.ToolsetConfig{
		ProjectDir: projectDir,
		Sandbox:    project.Sandbox,
		File:       file.Config{MaxFileSizeBytes: cfg.Tools.File.MaxFileSizeBytes},
		Executor:   sc.Executor,
		Lifecycle:  sc.Lifecycle,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("building toolset: %w", err)
	}

	return mcpsrv.New(registry, version, logger).ServeStdio()
}

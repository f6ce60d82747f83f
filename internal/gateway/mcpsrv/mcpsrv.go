// Package mcpsrv exposes a project's toolset over the Model Context
// Protocol so external IDE agents can drive a sandbox through the same
// tools a WebSocket session uses. Transport is stdio; one server
// instance serves one project.
package mcpsrv

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/karakana/internal/tools"
)

const serverName = "karakana"

// Server bridges a tool registry onto an MCP stdio server.
type Server struct {
	registry *tools.Registry
	version  string
	logger   *slog.Logger
}

// New creates an MCP server over the given registry.
func New(registry *tools.Registry, version string, logger *slog.Logger) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{
		registry: registry,
		version:  version,
		logger:   logger,
	}
}

// ServeStdio runs the MCP server on stdin/stdout until the client
// disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.build())
}

func (s *Server) build() *server.MCPServer {
	srv := server.NewMCPServer(serverName, s.version,
		server.WithToolCapabilities(false),
	)
	for _, t := range s.registry.All() {
		schema, err := json.Marshal(t.InputSchema())
		if err != nil {
			s.logger.Warn("skipping tool with unencodable schema",
				slog.String("tool", t.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		srv.AddTool(mcp.NewToolWithRawSchema(t.Name(), t.Description(), schema), s.handlerFor(t))
	}
	return srv
}

// handlerFor adapts one tool into an MCP tool handler. Failures of any
// kind come back as MCP error results, never as protocol errors, so
// the client agent sees them as observations.
func (s *Server) handlerFor(t tools.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		if err := t.Validate(args); err != nil {
			return mcp.NewToolResultError("invalid input: " + err.Error()), nil
		}

		s.logger.Info("mcp tool executing", slog.String("tool", t.Name()))

		res, err := t.Execute(ctx, args)
		if err != nil {
			s.logger.ErrorContext(ctx, "mcp tool failed",
				slog.String("tool", t.Name()),
				slog.String("error", err.Error()),
			)
			return mcp.NewToolResultError(err.Error()), nil
		}

		output := tools.TruncateOutput(res.Output, tools.MaxOutputBytes)
		if !res.Success {
			return mcp.NewToolResultError(output), nil
		}
		return mcp.NewToolResultText(output), nil
	}
}

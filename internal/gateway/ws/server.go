// Package ws implements the WebSocket session server. Each connection
// is bound to one project: the client sends chat messages and receives
// streamed tool activity plus the final assistant response for every
// turn. Messages within a session are processed strictly in order.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/jkaninda/karakana/internal/agent"
	"github.com/jkaninda/karakana/internal/domain"
	"github.com/jkaninda/karakana/internal/lifecycle"
	"github.com/jkaninda/karakana/internal/llm"
	"github.com/jkaninda/karakana/internal/observability"
	"github.com/jkaninda/karakana/internal/protocol"
	"github.com/jkaninda/karakana/internal/runtime"
	"github.com/jkaninda/karakana/internal/storage"
	"github.com/jkaninda/karakana/internal/tools/file"
	"github.com/jkaninda/karakana/internal/workspace"
)

const subprotocol = "karakana-session-v1"

// DefaultSystemPrompt frames the assistant for project sessions.
const DefaultSystemPrompt = `You are a coding assistant working inside an isolated project sandbox.
Use the available tools to read, write, and list files in the project
directory and to run commands. Container tools operate inside the
project's sandbox. Prefer small, verifiable steps and report what you
changed.`

// Config holds session server settings.
type Config struct {
	// SystemPrompt overrides DefaultSystemPrompt when set.
	SystemPrompt string

	// MaxHistoryMessages bounds how much conversation is replayed into
	// a new session. Zero means the storage default.
	MaxHistoryMessages int
}

// Server upgrades HTTP connections to per-project WebSocket sessions.
type Server struct {
	store     storage.Store
	provider  llm.Provider
	lifecycle *lifecycle.Manager
	executor  *runtime.Executor
	workspace *workspace.Workspace
	fileCfg   file.Config
	metrics   *observability.MetricsCollector
	cfg       Config
	logger    *slog.Logger
}

// NewServer creates a session server. metrics may be nil.
func NewServer(
	store storage.Store,
	provider llm.Provider,
	lm *lifecycle.Manager,
	exec *runtime.Executor,
	ws *workspace.Workspace,
	fileCfg file.Config,
	cfg Config,
	logger *slog.Logger,
) *Server {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &Server{
		store:     store,
		provider:  provider,
		lifecycle: lm,
		executor:  exec,
		workspace: ws,
		fileCfg:   fileCfg,
		cfg:       cfg,
		logger:    logger,
	}
}

// WithMetrics attaches a metrics collector for session gauges.
func (s *Server) WithMetrics(m *observability.MetricsCollector) *Server {
	s.metrics = m
	return s
}

// Handler returns an http.Handler that upgrades connections. The
// project is identified by the "project" query parameter (ID or name)
// or by the trailing path segment before "/session".
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref := r.URL.Query().Get("project")
		if ref == "" {
			ref = projectRefFromPath(r.URL.Path)
		}
		s.HandleSession(w, r, ref)
	})
}

// HandleSession upgrades the request and runs the session loop until
// the client disconnects.
func (s *Server) HandleSession(w http.ResponseWriter, r *http.Request, projectRef string) {
	if projectRef == "" {
		http.Error(w, "project is required", http.StatusBadRequest)
		return
	}

	project, err := s.resolveProject(r.Context(), projectRef)
	if err != nil {
		if err == storage.ErrNotFound {
			http.Error(w, "project not found", http.StatusNotFound)
			return
		}
		s.logger.Error("resolving project", slog.String("project", projectRef), slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
		defer s.metrics.ActiveSessions.Dec()
	}

	s.runSession(r.Context(), conn, project)
}

func (s *Server) resolveProject(ctx context.Context, ref string) (*domain.Project, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return s.store.Projects().Get(ctx, id)
	}
	return s.store.Projects().GetByName(ctx, ref)
}

func (s *Server) runSession(ctx context.Context, conn *websocket.Conn, project *domain.Project) {
	defer conn.Close(websocket.StatusNormalClosure, "session closed")

	sess, err := s.newSession(ctx, conn, project)
	if err != nil {
		s.logger.Error("session setup failed",
			slog.String("project", project.Name),
			slog.String("error", err.Error()),
		)
		s.writeError(ctx, conn, project.ID.String(), "session_setup_failed", err.Error())
		return
	}

	s.logger.Info("session started",
		slog.String("project", project.Name),
		slog.String("sandbox", project.Sandbox),
		slog.Int("history_messages", sess.seededMessages),
	)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.logger.Info("session closed", slog.String("project", project.Name))
			} else if ctx.Err() == nil {
				s.logger.Warn("session read error",
					slog.String("project", project.Name),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.writeError(ctx, conn, project.ID.String(), "invalid_message", "message is not a valid envelope")
			continue
		}

		switch env.Type {
		case protocol.MsgChat:
			var chat protocol.ChatPayload
			if err := env.Decode(&chat); err != nil || chat.Message == "" {
				s.writeError(ctx, conn, project.ID.String(), "invalid_message", "chat payload requires a message")
				continue
			}
			sess.handleChat(ctx, chat.Message)

		default:
			s.writeError(ctx, conn, project.ID.String(), "unsupported_type",
				fmt.Sprintf("unsupported message type %q", env.Type))
		}
	}
}

// session is the per-connection state. A session is single-threaded:
// the read loop owns it, so tool calls and turns never interleave.
type session struct {
	server      *Server
	conn        *websocket.Conn
	project     *domain.Project
	coordinator *agent.Coordinator

	seededMessages int
}

func (s *Server) newSession(ctx context.Context, conn *websocket.Conn, project *domain.Project) (*session, error) {
	projectDir := s.workspace.ProjectDir(project.Name)
	if err := os.MkdirAll(projectDir, 0750); err != nil {
		return nil, fmt.Errorf("ensuring project directory: %w", err)
	}

	// A bound sandbox is started up front so the first tool call does
	// not pay the wake-up cost.
	if project.Sandbox != "" {
		if _, err := s.lifecycle.EnsureRunning(ctx, project.Sandbox); err != nil {
			s.logger.Warn("sandbox not running at session start",
				slog.String("project", project.Name),
				slog.String("sandbox", project.Sandbox),
				slog.String("error", err.Error()),
			)
		}
	}

	registry, err := agent.BuildToolset(agent.ToolsetConfig{
		ProjectDir: projectDir,
		Sandbox:    project.Sandbox,
		File:       s.fileCfg,
		Executor:   s.executor,
		Lifecycle:  s.lifecycle,
		Logger:     s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building toolset: %w", err)
	}
	if s.metrics != nil {
		registry = observability.InstrumentRegistry(registry, s.metrics, nil)
	}

	history, err := s.store.Messages().LoadHistory(ctx, project.ID, s.cfg.MaxHistoryMessages)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	sess := &session{
		server:         s,
		conn:           conn,
		project:        project,
		seededMessages: len(history),
	}
	sess.coordinator = agent.NewCoordinator(s.provider, registry, s.cfg.SystemPrompt, s.logger).
		WithHistory(history).
		WithObserver(sess)

	started, err := protocol.NewEnvelope(protocol.MsgSessionStarted, protocol.SessionStartedPayload{
		ProjectID: project.ID.String(),
		Sandbox:   project.Sandbox,
		Tools:     registry.List(),
	})
	if err != nil {
		return nil, err
	}
	started.ProjectID = project.ID.String()
	if err := writeEnvelope(ctx, conn, started); err != nil {
		return nil, fmt.Errorf("sending session_started: %w", err)
	}

	return sess, nil
}

func (sess *session) handleChat(ctx context.Context, message string) {
	s := sess.server
	start := time.Now()
	before := len(sess.coordinator.History())

	turn, err := sess.coordinator.Process(ctx, message)
	if err != nil {
		s.logger.Error("turn failed",
			slog.String("project", sess.project.Name),
			slog.String("error", err.Error()),
		)
		s.writeError(ctx, sess.conn, sess.project.ID.String(), "turn_failed", err.Error())
		return
	}

	sess.persistTurn(ctx, before, turn)

	env, err := protocol.NewEnvelope(protocol.MsgResponse, protocol.ResponsePayload{
		Message:      turn.Message,
		InputTokens:  turn.Usage.InputTokens,
		OutputTokens: turn.Usage.OutputTokens,
		ToolCalls:    len(turn.ToolResults),
		Duration:     time.Since(start).Round(time.Millisecond).String(),
	})
	if err != nil {
		s.logger.Error("encoding response", slog.String("error", err.Error()))
		return
	}
	env.ProjectID = sess.project.ID.String()
	if err := writeEnvelope(ctx, sess.conn, env); err != nil {
		s.logger.Warn("sending response",
			slog.String("project", sess.project.Name),
			slog.String("error", err.Error()),
		)
	}
}

// persistTurn stores the turn's new messages and token usage. Storage
// failures are logged but never surface to the client; the turn
// already happened.
func (sess *session) persistTurn(ctx context.Context, historyBefore int, turn *agent.Turn) {
	s := sess.server

	history := sess.coordinator.History()
	if historyBefore < len(history) {
		newMessages := history[historyBefore:]
		if err := s.store.Messages().AppendMessages(ctx, sess.project.ID, newMessages); err != nil {
			s.logger.Warn("persisting messages",
				slog.String("project", sess.project.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	if turn.Usage.InputTokens > 0 || turn.Usage.OutputTokens > 0 {
		usage := &domain.TokenUsage{
			ProjectID:    sess.project.ID,
			Provider:     s.provider.Name(),
			InputTokens:  turn.Usage.InputTokens,
			OutputTokens: turn.Usage.OutputTokens,
		}
		if err := s.store.Usage().Record(ctx, usage); err != nil {
			s.logger.Warn("recording token usage",
				slog.String("project", sess.project.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.store.Projects().Touch(ctx, sess.project.ID); err != nil {
		s.logger.Warn("touching project",
			slog.String("project", sess.project.Name),
			slog.String("error", err.Error()),
		)
	}
}

// ToolCall streams a tool invocation to the client as it starts.
func (sess *session) ToolCall(ctx context.Context, name string, input map[string]any) {
	raw, err := json.Marshal(input)
	if err != nil {
		raw = nil
	}
	env, err := protocol.NewEnvelope(protocol.MsgToolCall, protocol.ToolCallPayload{
		Tool:  name,
		Input: raw,
	})
	if err != nil {
		return
	}
	env.ProjectID = sess.project.ID.String()
	if err := writeEnvelope(ctx, sess.conn, env); err != nil {
		sess.server.logger.Debug("streaming tool_call", slog.String("error", err.Error()))
	}
}

// ToolResult streams a tool observation to the client once it finishes.
func (sess *session) ToolResult(ctx context.Context, name, output string, isError bool) {
	env, err := protocol.NewEnvelope(protocol.MsgToolResult, protocol.ToolResultPayload{
		Tool:    name,
		Output:  output,
		IsError: isError,
	})
	if err != nil {
		return
	}
	env.ProjectID = sess.project.ID.String()
	if err := writeEnvelope(ctx, sess.conn, env); err != nil {
		sess.server.logger.Debug("streaming tool_result", slog.String("error", err.Error()))
	}
}

var _ agent.Observer = (*session)(nil)

func (s *Server) writeError(ctx context.Context, conn *websocket.Conn, projectID, code, message string) {
	env, err := protocol.NewEnvelope(protocol.MsgError, protocol.ErrorPayload{
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	env.ProjectID = projectID
	if err := writeEnvelope(ctx, conn, env); err != nil {
		s.logger.Debug("sending error envelope", slog.String("error", err.Error()))
	}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// projectRefFromPath extracts the project reference from paths like
// /v1/projects/{ref}/session.
func projectRefFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if p == "projects" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	if len(parts) > 0 {
		last := parts[len(parts)-1]
		if last != "session" && last != "ws" {
			return last
		}
		if len(parts) > 1 {
			return parts[len(parts)-2]
		}
	}
	return ""
}

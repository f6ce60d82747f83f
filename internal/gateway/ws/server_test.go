package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/jkaninda/karakana/internal/domain"
	"github.com/jkaninda/karakana/internal/lifecycle"
	"github.com/jkaninda/karakana/internal/llm"
	"github.com/jkaninda/karakana/internal/protocol"
	"github.com/jkaninda/karakana/internal/runtime"
	"github.com/jkaninda/karakana/internal/storage"
	"github.com/jkaninda/karakana/internal/storage/sqlite"
	"github.com/jkaninda/karakana/internal/tools/file"
	"github.com/jkaninda/karakana/internal/workspace"
)

type scriptedProvider struct {
	responses []*llm.Response
	calls     int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	resp := p.responses[p.calls%len(p.responses)]
	p.calls++
	return resp, nil
}

type nopInvoker struct{}

func (nopInvoker) Invoke(ctx context.Context, timeout time.Duration, args ...string) (*runtime.Result, error) {
	return &runtime.Result{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fixture struct {
	server  *httptest.Server
	store   storage.Store
	ws      *workspace.Workspace
	project *domain.Project
}

func newFixture(t *testing.T, provider llm.Provider, sandbox string) *fixture {
	t.Helper()
	logger := discardLogger()

	store, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logger)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	wsp, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("creating workspace: %v", err)
	}

	exec := runtime.NewExecutor(nopInvoker{}, runtime.ExecutorConfig{}, logger)
	lm := lifecycle.NewManager(nopInvoker{}, exec, wsp, lifecycle.Config{}, logger)

	project := &domain.Project{
		ID:      domain.NewID(),
		Name:    "demo",
		Sandbox: sandbox,
		Status:  domain.StatusReady,
	}
	if err := store.Projects().Create(context.Background(), project); err != nil {
		t.Fatalf("creating project: %v", err)
	}

	srv := NewServer(store, provider, lm, exec, wsp, file.Config{}, Config{}, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{server: ts, store: store, ws: wsp, project: project}
}

func (f *fixture) dial(t *testing.T, ref string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?project=" + ref
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("reading envelope: %v", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	return &env
}

func sendChat(t *testing.T, conn *websocket.Conn, message string) {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.MsgChat, protocol.ChatPayload{Message: message})
	if err != nil {
		t.Fatalf("building chat envelope: %v", err)
	}
	data, _ := json.Marshal(env)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("writing chat: %v", err)
	}
}

func TestSession_StartedEnvelope(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{Blocks: []llm.ContentBlock{llm.TextBlock("hi")}, StopReason: "end_turn"},
	}}
	f := newFixture(t, provider, "")
	conn := f.dial(t, "demo")

	env := readEnvelope(t, conn)
	if env.Type != protocol.MsgSessionStarted {
		t.Fatalf("type = %q, want session_started", env.Type)
	}

	var started protocol.SessionStartedPayload
	if err := env.Decode(&started); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if started.ProjectID != f.project.ID.String() {
		t.Errorf("project_id = %q, want %q", started.ProjectID, f.project.ID)
	}
	want := []string{"read_file", "write_file", "list_files", "run_command"}
	if len(started.Tools) != len(want) {
		t.Fatalf("tools = %v, want %v", started.Tools, want)
	}
	for i, name := range want {
		if started.Tools[i] != name {
			t.Errorf("tools[%d] = %q, want %q", i, started.Tools[i], name)
		}
	}
}

func TestSession_ContainerToolsWhenSandboxBound(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{Blocks: []llm.ContentBlock{llm.TextBlock("hi")}, StopReason: "end_turn"},
	}}
	f := newFixture(t, provider, "sbx-demo")
	conn := f.dial(t, "demo")

	env := readEnvelope(t, conn)
	var started protocol.SessionStartedPayload
	if err := env.Decode(&started); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if started.Sandbox != "sbx-demo" {
		t.Errorf("sandbox = %q, want sbx-demo", started.Sandbox)
	}
	if len(started.Tools) <= 4 {
		t.Errorf("expected container tools to be registered, got %v", started.Tools)
	}
}

func TestSession_ChatTurn(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{
			Blocks:     []llm.ContentBlock{llm.TextBlock("all done")},
			Usage:      llm.Usage{InputTokens: 42, OutputTokens: 7},
			StopReason: "end_turn",
		},
	}}
	f := newFixture(t, provider, "")
	conn := f.dial(t, "demo")
	readEnvelope(t, conn) // session_started

	sendChat(t, conn, "do the thing")

	env := readEnvelope(t, conn)
	if env.Type != protocol.MsgResponse {
		t.Fatalf("type = %q, want response", env.Type)
	}
	var resp protocol.ResponsePayload
	if err := env.Decode(&resp); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if resp.Message != "all done" {
		t.Errorf("message = %q, want all done", resp.Message)
	}
	if resp.InputTokens != 42 || resp.OutputTokens != 7 {
		t.Errorf("tokens = %d/%d, want 42/7", resp.InputTokens, resp.OutputTokens)
	}
	if resp.ToolCalls != 0 {
		t.Errorf("tool_calls = %d, want 0", resp.ToolCalls)
	}
}

func TestSession_PersistsTurn(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{
			Blocks:     []llm.ContentBlock{llm.TextBlock("noted")},
			Usage:      llm.Usage{InputTokens: 10, OutputTokens: 5},
			StopReason: "end_turn",
		},
	}}
	f := newFixture(t, provider, "")
	conn := f.dial(t, "demo")
	readEnvelope(t, conn)

	sendChat(t, conn, "remember this")
	readEnvelope(t, conn) // response

	ctx := context.Background()
	history, err := f.store.Messages().LoadHistory(ctx, f.project.ID, 0)
	if err != nil {
		t.Fatalf("loading history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != llm.RoleUser || history[0].Text() != "remember this" {
		t.Errorf("first message = %+v", history[0])
	}
	if history[1].Role != llm.RoleAssistant || history[1].Text() != "noted" {
		t.Errorf("second message = %+v", history[1])
	}

	in, out, err := f.store.Usage().ProjectTotals(ctx, f.project.ID)
	if err != nil {
		t.Fatalf("usage totals: %v", err)
	}
	if in != 10 || out != 5 {
		t.Errorf("usage = %d/%d, want 10/5", in, out)
	}

	p, err := f.store.Projects().Get(ctx, f.project.ID)
	if err != nil {
		t.Fatalf("loading project: %v", err)
	}
	if p.LastActiveAt == nil {
		t.Error("expected LastActiveAt to be set after a turn")
	}
}

func TestSession_ToolActivityStreamed(t *testing.T) {
	toolUse := llm.ToolUseBlock("tu_1", "read_file", map[string]any{"path": "notes.txt"})
	provider := &scriptedProvider{responses: []*llm.Response{
		{Blocks: []llm.ContentBlock{toolUse}, StopReason: "tool_use"},
		{Blocks: []llm.ContentBlock{llm.TextBlock("the file says hello")}, StopReason: "end_turn"},
	}}
	f := newFixture(t, provider, "")

	// The tool reads a real file from the project directory.
	projectDir := f.ws.ProjectDir("demo")
	if err := os.MkdirAll(projectDir, 0750); err != nil {
		t.Fatalf("creating project dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(projectDir, "notes.txt"), []byte("hello"), 0640); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	conn := f.dial(t, "demo")
	readEnvelope(t, conn) // session_started

	sendChat(t, conn, "what does notes.txt say?")

	call := readEnvelope(t, conn)
	if call.Type != protocol.MsgToolCall {
		t.Fatalf("first envelope = %q, want tool_call", call.Type)
	}
	var callPayload protocol.ToolCallPayload
	if err := call.Decode(&callPayload); err != nil {
		t.Fatalf("decoding tool_call: %v", err)
	}
	if callPayload.Tool != "read_file" {
		t.Errorf("tool = %q, want read_file", callPayload.Tool)
	}

	result := readEnvelope(t, conn)
	if result.Type != protocol.MsgToolResult {
		t.Fatalf("second envelope = %q, want tool_result", result.Type)
	}
	var resultPayload protocol.ToolResultPayload
	if err := result.Decode(&resultPayload); err != nil {
		t.Fatalf("decoding tool_result: %v", err)
	}
	if resultPayload.IsError {
		t.Errorf("tool_result is_error = true, output %q", resultPayload.Output)
	}
	if !strings.Contains(resultPayload.Output, "hello") {
		t.Errorf("output = %q, want file contents", resultPayload.Output)
	}

	final := readEnvelope(t, conn)
	if final.Type != protocol.MsgResponse {
		t.Fatalf("third envelope = %q, want response", final.Type)
	}
	var resp protocol.ResponsePayload
	if err := final.Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ToolCalls != 1 {
		t.Errorf("tool_calls = %d, want 1", resp.ToolCalls)
	}
}

func TestSession_SeedsHistoryAcrossConnections(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{Blocks: []llm.ContentBlock{llm.TextBlock("first answer")}, StopReason: "end_turn"},
	}}
	f := newFixture(t, provider, "")

	conn := f.dial(t, "demo")
	readEnvelope(t, conn)
	sendChat(t, conn, "first question")
	readEnvelope(t, conn)
	conn.Close(websocket.StatusNormalClosure, "done")

	// A new connection replays the stored conversation.
	conn2 := f.dial(t, "demo")
	readEnvelope(t, conn2)
	sendChat(t, conn2, "second question")
	readEnvelope(t, conn2)

	history, err := f.store.Messages().LoadHistory(context.Background(), f.project.ID, 0)
	if err != nil {
		t.Fatalf("loading history: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
}

func TestSession_UnsupportedMessageType(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{Blocks: []llm.ContentBlock{llm.TextBlock("hi")}, StopReason: "end_turn"},
	}}
	f := newFixture(t, provider, "")
	conn := f.dial(t, "demo")
	readEnvelope(t, conn)

	env, _ := protocol.NewEnvelope(protocol.MessageType("bogus"), nil)
	data, _ := json.Marshal(env)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("writing: %v", err)
	}

	got := readEnvelope(t, conn)
	if got.Type != protocol.MsgError {
		t.Fatalf("type = %q, want error", got.Type)
	}
	var ep protocol.ErrorPayload
	if err := got.Decode(&ep); err != nil {
		t.Fatalf("decoding error payload: %v", err)
	}
	if ep.Code != "unsupported_type" {
		t.Errorf("code = %q, want unsupported_type", ep.Code)
	}
}

func TestSession_UnknownProject(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{Blocks: []llm.ContentBlock{llm.TextBlock("hi")}, StopReason: "end_turn"},
	}}
	f := newFixture(t, provider, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?project=no-such-project"
	_, _, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("expected dial to fail for unknown project")
	}
}

func TestProjectRefFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/v1/projects/demo/session", "demo"},
		{"/v1/projects/demo/ws", "demo"},
		{"/projects/0b7b9077/session", "0b7b9077"},
		{"/session", ""},
		{"/demo", "demo"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := projectRefFromPath(tt.path); got != tt.want {
			t.Errorf("projectRefFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/jkaninda/karakana/internal/llm"
	"github.com/jkaninda/karakana/internal/tools"
)

// scriptedProvider replays canned responses and records each request's
// message count so tests can inspect what the loop fed back.
type scriptedProvider struct {
	responses []*llm.Response
	err       error
	requests  []llm.Request
}

func (p *scriptedProvider) SendMessage(_ context.Context, req *llm.Request) (*llm.Response, error) {
	msgs := make([]llm.Message, len(req.Messages))
	copy(msgs, req.Messages)
	p.requests = append(p.requests, llm.Request{
		SystemPrompt: req.SystemPrompt,
		Messages:     msgs,
		Tools:        req.Tools,
	})
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return nil, errors.New("scripted provider exhausted")
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

type fakeTool struct {
	name        string
	validateErr error
	execute     func(params map[string]any) (*tools.Result, error)
	calls       []map[string]any
}

func (t *fakeTool) Name() string                { return t.name }
func (t *fakeTool) Description() string         { return "fake tool for tests" }
func (t *fakeTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }

func (t *fakeTool) Validate(map[string]any) error { return t.validateErr }

func (t *fakeTool) Execute(_ context.Context, params map[string]any) (*tools.Result, error) {
	t.calls = append(t.calls, params)
	return t.execute(params)
}

type recordingObserver struct {
	events []string
}

func (o *recordingObserver) ToolCall(_ context.Context, name string, _ map[string]any) {
	o.events = append(o.events, "call:"+name)
}

func (o *recordingObserver) ToolResult(_ context.Context, name, _ string, isError bool) {
	o.events = append(o.events, fmt.Sprintf("result:%s:%t", name, isError))
}

func textResponse(text string, in, out int) *llm.Response {
	return &llm.Response{
		Blocks:     []llm.ContentBlock{llm.TextBlock(text)},
		Usage:      llm.Usage{InputTokens: in, OutputTokens: out},
		StopReason: "end_turn",
	}
}

func toolUseResponse(blocks ...llm.ContentBlock) *llm.Response {
	return &llm.Response{
		Blocks:     blocks,
		Usage:      llm.Usage{InputTokens: 10, OutputTokens: 5},
		StopReason: "tool_use",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newCoordinator(provider llm.Provider, reg *tools.Registry) *Coordinator {
	return NewCoordinator(provider, reg, "You manage sandboxed projects.", discardLogger())
}

func TestProcess_TextOnly(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{textResponse("All done.", 100, 20)}}
	c := newCoordinator(provider, tools.NewRegistry())

	turn, err := c.Process(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if turn.Message != "All done." {
		t.Errorf("message = %q", turn.Message)
	}
	if turn.Usage.InputTokens != 100 || turn.Usage.OutputTokens != 20 {
		t.Errorf("usage = %+v", turn.Usage)
	}
	if len(turn.ToolResults) != 0 {
		t.Errorf("unexpected tool results: %+v", turn.ToolResults)
	}
	if got := len(c.History()); got != 2 {
		t.Errorf("history length = %d, want 2 (user + assistant)", got)
	}
}

func TestProcess_ToolUseLoop(t *testing.T) {
	echo := &fakeTool{
		name: "echo",
		execute: func(params map[string]any) (*tools.Result, error) {
			text, _ := params["text"].(string)
			return &tools.Result{Output: "echo: " + text, Success: true}, nil
		},
	}
	reg := tools.NewRegistry()
	reg.Register(echo)

	provider := &scriptedProvider{responses: []*llm.Response{
		toolUseResponse(llm.ToolUseBlock("tu_1", "echo", map[string]any{"text": "ping"})),
		textResponse("Echoed.", 50, 10),
	}}
	c := newCoordinator(provider, reg)

	turn, err := c.Process(context.Background(), "echo ping")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if turn.Message != "Echoed." {
		t.Errorf("message = %q", turn.Message)
	}
	if len(echo.calls) != 1 {
		t.Fatalf("tool called %d times, want 1", len(echo.calls))
	}

	// Second request must carry the observation back to the provider.
	if len(provider.requests) != 2 {
		t.Fatalf("provider called %d times, want 2", len(provider.requests))
	}
	msgs := provider.requests[1].Messages
	last := msgs[len(msgs)-1]
	if last.Role != llm.RoleUser || len(last.Blocks) != 1 {
		t.Fatalf("last message = %+v", last)
	}
	block := last.Blocks[0]
	if block.Type != "tool_result" || block.ToolUseID != "tu_1" || block.IsError {
		t.Errorf("tool_result block = %+v", block)
	}
	if block.Text != "echo: ping" {
		t.Errorf("observation = %q", block.Text)
	}

	if turn.Usage.InputTokens != 60 || turn.Usage.OutputTokens != 15 {
		t.Errorf("accumulated usage = %+v", turn.Usage)
	}
	want := []ToolCallResult{{ToolName: "echo", Success: true}}
	if len(turn.ToolResults) != 1 || turn.ToolResults[0] != want[0] {
		t.Errorf("tool results = %+v", turn.ToolResults)
	}
}

func TestProcess_ToolFailureBecomesObservation(t *testing.T) {
	failing := &fakeTool{
		name: "read_file",
		execute: func(map[string]any) (*tools.Result, error) {
			return tools.Fail("Access denied: path resolves outside the project directory."), nil
		},
	}
	reg := tools.NewRegistry()
	reg.Register(failing)

	provider := &scriptedProvider{responses: []*llm.Response{
		toolUseResponse(llm.ToolUseBlock("tu_1", "read_file", map[string]any{"path": "../../etc/passwd"})),
		textResponse("That path is off limits.", 1, 1),
	}}
	c := newCoordinator(provider, reg)

	turn, err := c.Process(context.Background(), "read the file")
	if err != nil {
		t.Fatalf("tool failure must not fail Process: %v", err)
	}
	block := provider.requests[1].Messages[len(provider.requests[1].Messages)-1].Blocks[0]
	if !block.IsError {
		t.Error("failed tool result not marked is_error")
	}
	if !strings.Contains(block.Text, "Access denied") {
		t.Errorf("observation = %q", block.Text)
	}
	if turn.ToolResults[0].Success {
		t.Error("tool result reported success")
	}
}

func TestProcess_UnknownTool(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		toolUseResponse(llm.ToolUseBlock("tu_1", "launch_rocket", nil)),
		textResponse("No such tool.", 1, 1),
	}}
	c := newCoordinator(provider, tools.NewRegistry())

	_, err := c.Process(context.Background(), "go")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	block := provider.requests[1].Messages[len(provider.requests[1].Messages)-1].Blocks[0]
	if !block.IsError || !strings.Contains(block.Text, `unknown tool "launch_rocket"`) {
		t.Errorf("observation = %+v", block)
	}
}

func TestProcess_ValidateRejection(t *testing.T) {
	tool := &fakeTool{
		name:        "write_file",
		validateErr: errors.New("path is required"),
		execute: func(map[string]any) (*tools.Result, error) {
			return &tools.Result{Output: "wrote", Success: true}, nil
		},
	}
	reg := tools.NewRegistry()
	reg.Register(tool)

	provider := &scriptedProvider{responses: []*llm.Response{
		toolUseResponse(llm.ToolUseBlock("tu_1", "write_file", map[string]any{})),
		textResponse("ok", 1, 1),
	}}
	c := newCoordinator(provider, reg)

	if _, err := c.Process(context.Background(), "write"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(tool.calls) != 0 {
		t.Error("tool executed despite validation failure")
	}
	block := provider.requests[1].Messages[len(provider.requests[1].Messages)-1].Blocks[0]
	if !block.IsError || !strings.Contains(block.Text, "path is required") {
		t.Errorf("observation = %+v", block)
	}
}

func TestProcess_MachineryFault(t *testing.T) {
	tool := &fakeTool{
		name: "run_command",
		execute: func(map[string]any) (*tools.Result, error) {
			return nil, errors.New("executor binary missing")
		},
	}
	reg := tools.NewRegistry()
	reg.Register(tool)

	provider := &scriptedProvider{responses: []*llm.Response{
		toolUseResponse(llm.ToolUseBlock("tu_1", "run_command", map[string]any{"command": "ls"})),
		textResponse("ok", 1, 1),
	}}
	c := newCoordinator(provider, reg)

	if _, err := c.Process(context.Background(), "list"); err != nil {
		t.Fatalf("machinery fault must become an observation: %v", err)
	}
	block := provider.requests[1].Messages[len(provider.requests[1].Messages)-1].Blocks[0]
	if !block.IsError || !strings.Contains(block.Text, "executor binary missing") {
		t.Errorf("observation = %+v", block)
	}
}

func TestProcess_SequentialToolCalls(t *testing.T) {
	var order []string
	mk := func(name string) *fakeTool {
		return &fakeTool{
			name: name,
			execute: func(map[string]any) (*tools.Result, error) {
				order = append(order, name)
				return &tools.Result{Output: name + " done", Success: true}, nil
			},
		}
	}
	reg := tools.NewRegistry()
	reg.Register(mk("first"))
	reg.Register(mk("second"))

	provider := &scriptedProvider{responses: []*llm.Response{
		toolUseResponse(
			llm.ToolUseBlock("tu_1", "first", nil),
			llm.ToolUseBlock("tu_2", "second", nil),
		),
		textResponse("done", 1, 1),
	}}
	obs := &recordingObserver{}
	c := newCoordinator(provider, reg).WithObserver(obs)

	if _, err := c.Process(context.Background(), "both"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("execution order = %v", order)
	}
	wantEvents := []string{"call:first", "result:first:false", "call:second", "result:second:false"}
	if len(obs.events) != len(wantEvents) {
		t.Fatalf("observer events = %v", obs.events)
	}
	for i, e := range wantEvents {
		if obs.events[i] != e {
			t.Errorf("event[%d] = %q, want %q", i, obs.events[i], e)
		}
	}
}

func TestProcess_MaxIterations(t *testing.T) {
	tool := &fakeTool{
		name: "echo",
		execute: func(map[string]any) (*tools.Result, error) {
			return &tools.Result{Output: "again", Success: true}, nil
		},
	}
	reg := tools.NewRegistry()
	reg.Register(tool)

	// Provider insists on tool use forever.
	var responses []*llm.Response
	for i := 0; i < 10; i++ {
		responses = append(responses, toolUseResponse(llm.ToolUseBlock("tu", "echo", nil)))
	}
	provider := &scriptedProvider{responses: responses}
	c := newCoordinator(provider, reg).WithMaxIterations(3)

	turn, err := c.Process(context.Background(), "loop")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !strings.Contains(turn.Message, "Maximum tool use iterations") {
		t.Errorf("message = %q", turn.Message)
	}
	if len(provider.requests) != 3 {
		t.Errorf("provider called %d times, want 3", len(provider.requests))
	}
	if len(tool.calls) != 3 {
		t.Errorf("tool called %d times, want 3", len(tool.calls))
	}
}

func TestProcess_ProviderError(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("upstream 500")}
	c := newCoordinator(provider, tools.NewRegistry())

	if _, err := c.Process(context.Background(), "hi"); err == nil {
		t.Fatal("expected error from provider failure")
	}
}

func TestProcess_SeededHistory(t *testing.T) {
	seed := []llm.Message{
		llm.UserText("earlier question"),
		llm.AssistantMessage(llm.TextBlock("earlier answer")),
	}
	provider := &scriptedProvider{responses: []*llm.Response{textResponse("remembered", 1, 1)}}
	c := newCoordinator(provider, tools.NewRegistry()).WithHistory(seed)

	if _, err := c.Process(context.Background(), "follow-up"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	msgs := provider.requests[0].Messages
	if len(msgs) != 3 {
		t.Fatalf("provider saw %d messages, want 3", len(msgs))
	}
	if msgs[0].Text() != "earlier question" {
		t.Errorf("first message = %q", msgs[0].Text())
	}
	if got := len(c.History()); got != 4 {
		t.Errorf("history length = %d, want 4", got)
	}
}

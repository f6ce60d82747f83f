package mcpsrv

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/karakana/internal/tools"
)

type fakeTool struct {
	name        string
	validateErr error
	result      *tools.Result
	err         error
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake tool" }
func (f *fakeTool) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (f *fakeTool) Validate(map[string]any) error { return f.validateErr }
func (f *fakeTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	return f.result, f.err
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := mcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("content is not text: %#v", res.Content[0])
	}
	return tc.Text
}

func newTestServer(reg *tools.Registry) *Server {
	return New(reg, "test", slog.New(slog.DiscardHandler))
}

func TestHandler_Success(t *testing.T) {
	tool := &fakeTool{name: "read_file", result: &tools.Result{Success: true, Output: "file contents"}}
	s := newTestServer(tools.NewRegistry())

	handler := s.handlerFor(tool)
	res, err := handler(context.Background(), callRequest("read_file", map[string]any{"path": "a.txt"}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	if got := resultText(t, res); got != "file contents" {
		t.Errorf("output = %q, want file contents", got)
	}
}

func TestHandler_DomainFailureBecomesErrorResult(t *testing.T) {
	tool := &fakeTool{name: "run_command", result: &tools.Result{Success: false, Output: "Error: exit 1"}}
	s := newTestServer(tools.NewRegistry())

	res, err := s.handlerFor(tool)(context.Background(), callRequest("run_command", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected an error result")
	}
	if got := resultText(t, res); got != "Error: exit 1" {
		t.Errorf("output = %q", got)
	}
}

func TestHandler_ValidateRejection(t *testing.T) {
	tool := &fakeTool{name: "write_file", validateErr: errors.New("path is required")}
	s := newTestServer(tools.NewRegistry())

	res, err := s.handlerFor(tool)(context.Background(), callRequest("write_file", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected an error result")
	}
	if got := resultText(t, res); !strings.Contains(got, "path is required") {
		t.Errorf("output = %q, want validation message", got)
	}
}

func TestHandler_MachineryFault(t *testing.T) {
	tool := &fakeTool{name: "run_command", err: errors.New("runtime binary missing")}
	s := newTestServer(tools.NewRegistry())

	res, err := s.handlerFor(tool)(context.Background(), callRequest("run_command", nil))
	if err != nil {
		t.Fatalf("machinery faults should become error results, got: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected an error result")
	}
}

func TestHandler_TruncatesLongOutput(t *testing.T) {
	long := strings.Repeat("x", tools.MaxOutputBytes+100)
	tool := &fakeTool{name: "read_file", result: &tools.Result{Success: true, Output: long}}
	s := newTestServer(tools.NewRegistry())

	res, err := s.handlerFor(tool)(context.Background(), callRequest("read_file", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if got := resultText(t, res); len(got) >= len(long) {
		t.Errorf("output was not truncated: %d bytes", len(got))
	}
}

func TestBuild_RegistersAllTools(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&fakeTool{name: "read_file", result: &tools.Result{Success: true}})
	reg.Register(&fakeTool{name: "write_file", result: &tools.Result{Success: true}})

	s := newTestServer(reg)
	if srv := s.build(); srv == nil {
		t.Fatal("expected a built server")
	}
}

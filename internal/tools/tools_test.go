package tools

import (
	"context"
	"strings"
	"testing"
)

type stubTool struct{ name string }

func (s *stubTool) Name() string                { return s.name }
func (s *stubTool) Description() string         { return "stub" }
func (s *stubTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (s *stubTool) Validate(map[string]any) error {
	return nil
}
func (s *stubTool) Execute(context.Context, map[string]any) (*Result, error) {
	return &Result{Output: "ok", Success: true}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "read_file"})
	r.Register(&stubTool{name: "run_command"})

	if r.Get("read_file") == nil {
		t.Error("registered tool not found")
	}
	if r.Get("nope") != nil {
		t.Error("unknown tool returned non-nil")
	}

	names := r.List()
	if len(names) != 2 || names[0] != "read_file" || names[1] != "run_command" {
		t.Errorf("List = %v, want registration order", names)
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	r := NewRegistry()
	r.Register(&stubTool{name: "x"})
	r.Register(&stubTool{name: "x"})
}

func TestToLLMDefinitions(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "read_file"})

	defs := ToLLMDefinitions(r)
	if len(defs) != 1 || defs[0].Name != "read_file" {
		t.Errorf("defs = %+v", defs)
	}
	if defs[0].InputSchema["type"] != "object" {
		t.Error("input schema not carried through")
	}
}

func TestTruncateOutput(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := TruncateOutput(long, 50)
	if len(got) > 50 {
		t.Errorf("len = %d, want <= 50", len(got))
	}
	if !strings.Contains(got, "truncated") {
		t.Error("truncation notice missing")
	}
	if TruncateOutput("short", 50) != "short" {
		t.Error("short string altered")
	}
}

func TestRequireString(t *testing.T) {
	params := map[string]any{"path": "a.txt", "n": 3}

	if v, err := RequireString(params, "path"); err != nil || v != "a.txt" {
		t.Errorf("RequireString(path) = %q, %v", v, err)
	}
	if _, err := RequireString(params, "missing"); err == nil {
		t.Error("missing key accepted")
	}
	if _, err := RequireString(params, "n"); err == nil {
		t.Error("non-string accepted")
	}
	if _, err := RequireString(map[string]any{"path": ""}, "path"); err == nil {
		t.Error("empty string accepted")
	}
}

// Package file implements the project-scoped file tools: read_file,
// write_file and list_files. Every path is project-relative and resolved
// through the scope before any I/O; escapes are rejected outright.
//
// Failures come back as observations, not errors. The reasoning engine
// reads "File 'x' not found" and tries something else; it never sees a
// stack trace.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jkaninda/karakana/internal/tools"
)

const defaultMaxFileSize = 10 << 20 // 10 MB

// Config configures file tool limits.
type Config struct {
	MaxFileSizeBytes int64 // Maximum file size for read/write. 0 = 10 MB default.
}

func maxSize(cfg Config) int64 {
	if cfg.MaxFileSizeBytes > 0 {
		return cfg.MaxFileSizeBytes
	}
	return defaultMaxFileSize
}

// ---- ReadTool ----

// ReadTool reads a file inside the project directory.
type ReadTool struct {
	scope  *tools.Scope
	config Config
	logger *slog.Logger
}

// NewReadTool creates a read_file tool confined to the given scope.
func NewReadTool(scope *tools.Scope, cfg Config, logger *slog.Logger) *ReadTool {
	return &ReadTool{scope: scope, config: cfg, logger: logger}
}

func (t *ReadTool) Name() string { return "read_file" }
func (t *ReadTool) Description() string {
	return "Read the contents of a file in the project. The path is relative to the project root, e.g. 'src/App.tsx'."
}
func (t *ReadTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Project-relative path of the file to read"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadTool) Validate(params map[string]any) error {
	_, err := tools.RequireString(params, "path")
	return err
}

func (t *ReadTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, err := tools.RequireString(params, "path")
	if err != nil {
		return tools.Fail("%v", err), nil
	}
	resolved, err := t.scope.Resolve(path)
	if err != nil {
		return tools.Fail("Access denied: %v", err), nil
	}

	t.logger.InfoContext(ctx, "read_file executing", slog.String("path", resolved))

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return tools.Fail("File %q not found in the project.", path), nil
		}
		return tools.Fail("Cannot read %q: %v", path, err), nil
	}
	if info.IsDir() {
		return tools.Fail("%q is a directory; use list_files to inspect it.", path), nil
	}
	if info.Size() > maxSize(t.config) {
		return tools.Fail("File %q is %d bytes, over the %d byte limit.", path, info.Size(), maxSize(t.config)), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return tools.Fail("Cannot read %q: %v", path, err), nil
	}

	// The path prefix keeps the observation self-describing when several
	// reads land in one conversation turn.
	return &tools.Result{
		Output:  fmt.Sprintf("Content of %s:\n%s", path, tools.TruncateOutput(string(data), tools.MaxOutputBytes)),
		Success: true,
		Metadata: map[string]any{
			"path":       path,
			"size_bytes": info.Size(),
		},
	}, nil
}

// ---- WriteTool ----

// WriteTool writes a whole file inside the project directory, creating
// parent directories as needed.
type WriteTool struct {
	scope  *tools.Scope
	config Config
	logger *slog.Logger
}

// NewWriteTool creates a write_file tool confined to the given scope.
func NewWriteTool(scope *tools.Scope, cfg Config, logger *slog.Logger) *WriteTool {
	return &WriteTool{scope: scope, config: cfg, logger: logger}
}

func (t *WriteTool) Name() string { return "write_file" }
func (t *WriteTool) Description() string {
	return "Write content to a file in the project, replacing it entirely. Parent directories are created. The path is relative to the project root."
}
func (t *WriteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Project-relative path of the file to write"},
			"content": map[string]any{"type": "string", "description": "Full new content of the file"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteTool) Validate(params map[string]any) error {
	if _, err := tools.RequireString(params, "path"); err != nil {
		return err
	}
	content, ok := params["content"].(string)
	if !ok {
		return fmt.Errorf("parameter content must be a string")
	}
	if int64(len(content)) > maxSize(t.config) {
		return fmt.Errorf("content size %d exceeds limit %d bytes", len(content), maxSize(t.config))
	}
	return nil
}

func (t *WriteTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, err := tools.RequireString(params, "path")
	if err != nil {
		return tools.Fail("%v", err), nil
	}
	content, _ := params["content"].(string)

	resolved, err := t.scope.Resolve(path)
	if err != nil {
		return tools.Fail("Access denied: %v", err), nil
	}

	t.logger.InfoContext(ctx, "write_file executing",
		slog.String("path", resolved),
		slog.Int("content_size", len(content)),
	)

	if err := os.MkdirAll(filepath.Dir(resolved), 0750); err != nil {
		return tools.Fail("Cannot create parent directory for %q: %v", path, err), nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0640); err != nil {
		return tools.Fail("Cannot write %q: %v", path, err), nil
	}

	return &tools.Result{
		Output:  fmt.Sprintf("Wrote %d bytes to %s", len(content), path),
		Success: true,
		Metadata: map[string]any{
			"path":       path,
			"size_bytes": len(content),
		},
	}, nil
}

// ---- ListTool ----

// ListTool lists the immediate children of a project directory.
type ListTool struct {
	scope  *tools.Scope
	logger *slog.Logger
}

// NewListTool creates a list_files tool confined to the given scope.
func NewListTool(scope *tools.Scope, logger *slog.Logger) *ListTool {
	return &ListTool{scope: scope, logger: logger}
}

func (t *ListTool) Name() string { return "list_files" }
func (t *ListTool) Description() string {
	return "List the files and directories directly under a project directory. Defaults to the project root. Hidden entries are omitted."
}
func (t *ListTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Project-relative directory to list; defaults to the project root"},
		},
	}
}

func (t *ListTool) Validate(params map[string]any) error {
	if v, ok := params["path"]; ok {
		if _, isStr := v.(string); !isStr {
			return fmt.Errorf("parameter path must be a string, got %T", v)
		}
	}
	return nil
}

func (t *ListTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path := tools.OptionalString(params, "path", ".")
	resolved, err := t.scope.Resolve(path)
	if err != nil {
		return tools.Fail("Access denied: %v", err), nil
	}

	t.logger.InfoContext(ctx, "list_files executing", slog.String("path", resolved))

	entries, err := os.ReadDir(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return tools.Fail("Directory %q not found in the project.", path), nil
		}
		return tools.Fail("Cannot list %q: %v", path, err), nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		kind := "file"
		if e.IsDir() {
			kind = "dir"
		}
		names = append(names, fmt.Sprintf("%s (%s)", e.Name(), kind))
	}
	sort.Strings(names)

	if len(names) == 0 {
		return &tools.Result{Output: fmt.Sprintf("Directory %q is empty.", path), Success: true}, nil
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(strings.Join(names, "\n"), tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"path":  path,
			"count": len(names),
		},
	}, nil
}

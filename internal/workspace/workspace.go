// Package workspace manages the Karakana runtime directory structure.
// All runtime state (database, project trees, template sources, logs)
// is consolidated under a single workspace root, making Karakana portable.
//
// Default workspace: ~/.karakana/workspace (configurable via config or
// KARAKANA_WORKSPACE env var).
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Default workspace location relative to user home directory.
const defaultRelativePath = ".karakana/workspace"

// Workspace manages all Karakana runtime directories and derived paths.
type Workspace struct {
	Root string

	mu      sync.Mutex
	created map[string]bool // tracks which directories have been ensured
}

// New creates a Workspace rooted at the given path.
// It resolves ~ to the user's home directory and creates the root directory
// with appropriate permissions if it does not exist.
func New(root string) (*Workspace, error) {
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}

	w := &Workspace{
		Root:    resolved,
		created: make(map[string]bool),
	}

	if err := w.ensureDir(resolved, 0750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	return w, nil
}

// Default creates a Workspace at ~/.karakana/workspace.
func Default() (*Workspace, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	return New(filepath.Join(home, defaultRelativePath))
}

// --- Top-level directory accessors ---

// ProjectsDir returns <root>/projects/. One subdirectory per project,
// materialized from a template at deploy time.
func (w *Workspace) ProjectsDir() string {
	return w.dir("projects")
}

// TemplatesDir returns <root>/templates/. Source trees copied into new
// projects.
func (w *Workspace) TemplatesDir() string {
	return w.dir("templates")
}

// SessionsDir returns <root>/sessions/. Per-project conversation transcripts.
func (w *Workspace) SessionsDir() string {
	return w.dir("sessions")
}

// DataDir returns <root>/data/. Database files and other durable state.
func (w *Workspace) DataDir() string {
	return w.dir("data")
}

// LogsDir returns <root>/logs/. Application log files.
func (w *Workspace) LogsDir() string {
	return w.dir("logs")
}

// --- Derived paths ---

// ConfigPath returns <root>/config.yaml.
func (w *Workspace) ConfigPath() string {
	return filepath.Join(w.Root, "config.yaml")
}

// DatabasePath returns <root>/data/karakana.db.
func (w *Workspace) DatabasePath() string {
	return filepath.Join(w.DataDir(), "karakana.db")
}

// --- Project-scoped paths ---

// ProjectDir returns <root>/projects/<name>/ without creating it.
// Deploy owns creation; everything else only reads.
func (w *Workspace) ProjectDir(name string) string {
	return filepath.Join(w.ProjectsDir(), sanitizeName(name))
}

// TemplateDir returns <root>/templates/<name>/ without creating it.
func (w *Workspace) TemplateDir(name string) string {
	return filepath.Join(w.TemplatesDir(), sanitizeName(name))
}

// SessionFile returns <root>/sessions/<project>.jsonl.
func (w *Workspace) SessionFile(project string) string {
	return filepath.Join(w.SessionsDir(), sanitizeName(project)+".jsonl")
}

// --- Template materialization ---

// MaterializeProject copies the named template tree into a fresh project
// directory and returns the project path. It fails if the project directory
// already exists; a half-written tree from a crashed deploy must be removed
// explicitly before retrying.
func (w *Workspace) MaterializeProject(template, project string) (string, error) {
	src := w.TemplateDir(template)
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return "", fmt.Errorf("template %q not found in %s", template, w.TemplatesDir())
	}

	dst := w.ProjectDir(project)
	if _, err := os.Stat(dst); err == nil {
		return "", fmt.Errorf("project directory %s already exists", dst)
	}

	if err := copyTree(src, dst); err != nil {
		return "", fmt.Errorf("materializing template %q: %w", template, err)
	}
	return dst, nil
}

// RemoveProject deletes the project directory tree. Removing a project
// that does not exist is not an error.
func (w *Workspace) RemoveProject(name string) error {
	dir := w.ProjectDir(name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing project dir %s: %w", dir, err)
	}
	return nil
}

// ListTemplates returns the names of available template directories, sorted
// by os.ReadDir's lexical order.
func (w *Workspace) ListTemplates() ([]string, error) {
	entries, err := os.ReadDir(w.TemplatesDir())
	if err != nil {
		return nil, fmt.Errorf("reading templates dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// EnsureAll creates all standard workspace directories.
// Call this during first startup.
func (w *Workspace) EnsureAll() error {
	dirs := []string{
		w.ProjectsDir(),
		w.TemplatesDir(),
		w.SessionsDir(),
		w.DataDir(),
		w.LogsDir(),
	}
	for _, d := range dirs {
		if err := w.ensureDir(d, 0750); err != nil {
			return err
		}
	}
	return nil
}

// --- Internal helpers ---

// copyTree recursively copies src into dst, preserving file permissions
// and recreating symlinks. dst must not exist.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			// Sockets, devices and the like have no place in a template.
			return fmt.Errorf("unsupported file type at %s", path)
		}
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// dir returns an absolute path under the workspace root and ensures the directory exists.
func (w *Workspace) dir(name string) string {
	p := filepath.Join(w.Root, name)
	_ = w.ensureDir(p, 0750)
	return p
}

// ensureDir creates a directory if it doesn't already exist.
// Uses a cache to avoid redundant stat/mkdir calls.
func (w *Workspace) ensureDir(path string, perm os.FileMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.created[path] {
		return nil
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	w.created[path] = true
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// sanitizeName replaces path separator characters to prevent directory traversal.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "_"
	}
	return name
}

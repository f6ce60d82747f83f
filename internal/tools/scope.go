package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Scope confines file tool paths to a single project directory. Tool paths
// are project-relative; Resolve turns them into absolute paths and rejects
// anything that lands outside the root, including traversal via "..".
type Scope struct {
	root string
}

// NewScope creates a Scope rooted at the given project directory.
// The root must already be an absolute path. Symlinks in the root are
// resolved up front so containment checks compare real paths.
func NewScope(root string) (*Scope, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("scope root must be absolute, got %q", root)
	}
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("resolving scope root: %w", err)
		}
		resolved = root
	}
	return &Scope{root: filepath.Clean(resolved)}, nil
}

// Root returns the scope's project directory.
func (s *Scope) Root() string { return s.root }

// Resolve maps a project-relative path to its absolute form, verifying
// containment before any I/O happens. An absolute input is accepted only if
// it already lies inside the root.
func (s *Scope) Resolve(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("path must not be empty")
	}

	abs := raw
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.root, abs)
	}
	abs = filepath.Clean(abs)

	// Resolve symlinks so a link inside the project cannot point out of it.
	// A path that does not exist yet (write case) resolves via its parent.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolving path %q: %w", raw, err)
		}
		parent, parentErr := filepath.EvalSymlinks(filepath.Dir(abs))
		if parentErr != nil {
			if !os.IsNotExist(parentErr) {
				return "", fmt.Errorf("resolving path %q: %w", raw, parentErr)
			}
			parent = filepath.Dir(abs)
		}
		resolved = filepath.Join(parent, filepath.Base(abs))
	}

	// Prefix matching is directory-safe: /p/shop must match /p/shop/src
	// but not /p/shop-evil.
	if resolved != s.root && !strings.HasPrefix(resolved, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q resolves outside the project directory", raw)
	}
	return resolved, nil
}

// Rel returns the project-relative form of an absolute path inside the scope.
func (s *Scope) Rel(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return abs
	}
	return rel
}

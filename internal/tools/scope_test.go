package tools

import (
	"os"
	"path/filepath"
	"testing"
)

func newScope(t *testing.T) (*Scope, string) {
	t.Helper()
	root := t.TempDir()
	// t.TempDir may sit behind a symlink on some platforms.
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewScope(resolved)
	if err != nil {
		t.Fatal(err)
	}
	return s, resolved
}

func TestScopeResolve_Relative(t *testing.T) {
	s, root := newScope(t)

	got, err := s.Resolve("src/main.tsx")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != filepath.Join(root, "src", "main.tsx") {
		t.Errorf("resolved = %q", got)
	}
}

func TestScopeResolve_Root(t *testing.T) {
	s, root := newScope(t)

	got, err := s.Resolve(".")
	if err != nil {
		t.Fatalf("Resolve(.): %v", err)
	}
	if got != root {
		t.Errorf("resolved = %q, want root %q", got, root)
	}
}

func TestScopeResolve_TraversalRejected(t *testing.T) {
	s, _ := newScope(t)

	cases := []string{
		"../../etc/passwd",
		"..",
		"src/../../other",
		"/etc/passwd",
	}
	for _, raw := range cases {
		if _, err := s.Resolve(raw); err == nil {
			t.Errorf("Resolve(%q) succeeded, want rejection", raw)
		}
	}
}

func TestScopeResolve_AbsoluteInsideAccepted(t *testing.T) {
	s, root := newScope(t)

	got, err := s.Resolve(filepath.Join(root, "a.txt"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != filepath.Join(root, "a.txt") {
		t.Errorf("resolved = %q", got)
	}
}

func TestScopeResolve_SiblingPrefixRejected(t *testing.T) {
	tmp := t.TempDir()
	resolved, err := filepath.EvalSymlinks(tmp)
	if err != nil {
		t.Fatal(err)
	}
	root := filepath.Join(resolved, "shop")
	os.MkdirAll(root, 0750)
	os.MkdirAll(filepath.Join(resolved, "shop-evil"), 0750)

	s, err := NewScope(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Resolve(filepath.Join(resolved, "shop-evil", "x")); err == nil {
		t.Error("sibling with shared prefix accepted")
	}
}

func TestScopeResolve_SymlinkEscapeRejected(t *testing.T) {
	s, root := newScope(t)

	outside := t.TempDir()
	link := filepath.Join(root, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := s.Resolve("escape/secret.txt"); err == nil {
		t.Error("symlink escape accepted")
	}
}

func TestScopeRel(t *testing.T) {
	s, root := newScope(t)

	if got := s.Rel(filepath.Join(root, "src", "a.ts")); got != filepath.Join("src", "a.ts") {
		t.Errorf("Rel = %q", got)
	}
}

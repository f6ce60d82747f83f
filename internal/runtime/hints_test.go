package runtime

import (
	"strings"
	"testing"
)

func TestSuggestFromStderr(t *testing.T) {
	tests := []struct {
		name    string
		stderr  string
		contain string
	}{
		{"missing pnpm", "sh: pnpm: not found", "pnpm"},
		{"missing npm", "sh: npm: not found", "npm"},
		{"stopped container", "Error: container is not running", "restart"},
		{"no such container", "Error: No such container: proj-x", "deploy"},
		{"permission denied", "touch: /app/x: Permission denied", "permission"},
		{"connection refused", "connect ECONNREFUSED 127.0.0.1:5173", "connection"},
		{"disk full", "write /tmp/x: ENOSPC", "disk"},
		{"oom killed", "Killed", "memory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SuggestFromStderr(tt.stderr)
			if got == "" {
				t.Fatal("expected a hint, got none")
			}
			if !strings.Contains(strings.ToLower(got), tt.contain) {
				t.Errorf("hint %q does not mention %q", got, tt.contain)
			}
		})
	}
}

func TestSuggestFromStderr_NoMatch(t *testing.T) {
	if got := SuggestFromStderr("error TS2304: Cannot find name 'foo'."); got != "" {
		t.Errorf("unexpected hint %q for unmapped stderr", got)
	}
}

func TestSuggestFromStderr_CaseInsensitive(t *testing.T) {
	if got := SuggestFromStderr("ERROR: CONTAINER IS NOT RUNNING"); got == "" {
		t.Error("matching must ignore case")
	}
}

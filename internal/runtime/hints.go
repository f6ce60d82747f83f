package runtime

import "strings"

// hint maps a stderr substring to advisory text for the reasoning engine.
// The mapping is pure and ordered: the first matching entry wins.
type hint struct {
	substr string
	advice string
}

var hints = []hint{
	{"is not running", "The container is not running. Restart it with manage_container before retrying."},
	{"no such container", "The container does not exist. It may still be deploying, or it was removed."},
	{"permission denied", "Permission denied inside the container. Avoid operations that require root."},
	{"command not found", "The command is not installed in the container image. Check the template's toolchain."},
	{"pnpm: not found", "pnpm is unavailable; try npm instead, or install pnpm first."},
	{"npm: not found", "npm is unavailable in this container. Check the template's toolchain."},
	{"econnrefused", "A service inside the container refused the connection. The dev server may still be starting."},
	{"enospc", "The container is out of disk space. Remove build artifacts or node_modules and retry."},
	{"killed", "The process was killed, likely by the memory limit. Retry with a smaller workload."},
}

// SuggestFromStderr returns advisory text for a failed container command,
// derived from substring matching on stderr. Advisory only: it never
// changes the pass/fail determination.
func SuggestFromStderr(stderr string) string {
	lower := strings.ToLower(stderr)
	for _, h := range hints {
		if strings.Contains(lower, h.substr) {
			return h.advice
		}
	}
	return ""
}

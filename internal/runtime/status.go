package runtime

import (
	"fmt"
	"strconv"
	"strings"
)

// AgeUnknown marks a status whose uptime could not be derived from the
// listing text.
const AgeUnknown = -1

// Status is the structured state of one sandbox container, derived fresh
// from the CLI listing on every query. It is never cached — the external
// runtime is the source of truth.
//
// Invariant: Running implies Exists.
type Status struct {
	Exists     bool
	Running    bool
	RawState   string // Verbatim `Status:` value, e.g. "Up 2 seconds".
	Image      string
	Ports      string
	Subdomain  string
	AgeSeconds int // Seconds since start, AgeUnknown if not derivable.

	// ParseEmpty distinguishes "the listing had no block for this name"
	// from "the listing command itself failed" — format drift in the CLI
	// output should fail loudly in tests, not silently report absence.
	ParseEmpty bool

	// Err carries the failure reason when the listing command errored or
	// timed out. Exists and Running are always false in that case.
	Err string
}

// ParseListing extracts the status of the named container from the free-text
// report produced by `list containers`.
//
// Grammar: each container's block begins with a line containing the
// bold-marked name (`**name**`) and is followed by `Key: value` detail lines
// (Image, Status, Ports, Subdomain). A block ends at the next bold-marked
// line or at a blank line, whichever comes first.
func ParseListing(raw, name string) Status {
	if name == "" {
		return Status{AgeSeconds: AgeUnknown, ParseEmpty: true, Err: "container name is empty"}
	}

	marker := "**" + name + "**"
	lines := strings.Split(raw, "\n")

	start := -1
	for i, line := range lines {
		if strings.Contains(line, marker) {
			start = i
			break
		}
	}
	if start < 0 {
		return Status{AgeSeconds: AgeUnknown, ParseEmpty: true}
	}

	st := Status{Exists: true, AgeSeconds: AgeUnknown}
	for _, line := range lines[start+1:] {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isBlockHead(trimmed) {
			break
		}
		key, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Image":
			st.Image = value
		case "Status":
			st.RawState = value
			st.Running = isLive(value)
			st.AgeSeconds = parseAgeSeconds(value)
		case "Ports":
			st.Ports = value
		case "Subdomain":
			st.Subdomain = value
		}
	}
	return st
}

// StatusFailure builds the status returned when the listing command itself
// failed or timed out: never a partially-parsed result.
func StatusFailure(reason string) Status {
	return Status{AgeSeconds: AgeUnknown, Err: reason}
}

// isBlockHead reports whether the line starts another container's block.
func isBlockHead(line string) bool {
	return strings.Contains(line, "**")
}

// isLive reports whether the raw state describes a running container.
// The runtime reports running containers as "Up <duration>", so both
// "running" and "up" are accepted as live signals.
func isLive(state string) bool {
	lower := strings.ToLower(state)
	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool {
		return r == ' ' || r == '(' || r == ')' || r == ','
	}) {
		if tok == "running" || tok == "up" {
			return true
		}
	}
	return false
}

// parseAgeSeconds derives the container's uptime from duration phrasing
// like "Up 2 seconds", "Up About a minute", "Up 3 hours". Docker's status
// text is the only age signal the runtime exposes; unknown phrasing yields
// AgeUnknown rather than a guess.
func parseAgeSeconds(state string) int {
	fields := strings.Fields(strings.ToLower(state))
	if len(fields) < 2 || fields[0] != "up" {
		return AgeUnknown
	}

	// "Up About a minute/hour" — docker's phrasing for quantity 1.
	n := 1
	rest := fields[1:]
	if rest[0] == "about" && len(rest) >= 3 && rest[1] == "a" {
		rest = rest[2:]
	} else if v, err := strconv.Atoi(rest[0]); err == nil {
		n = v
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return AgeUnknown
	}

	switch strings.TrimSuffix(rest[0], "s") {
	case "second":
		return n
	case "minute":
		return n * 60
	case "hour":
		return n * 3600
	case "day":
		return n * 86400
	case "week":
		return n * 7 * 86400
	case "month":
		return n * 30 * 86400
	case "year":
		return n * 365 * 86400
	}
	return AgeUnknown
}

// Summary renders the status as a short human/LLM-readable line.
func (s Status) Summary(name string) string {
	switch {
	case s.Err != "":
		return fmt.Sprintf("container %q: status unavailable (%s)", name, s.Err)
	case !s.Exists:
		return fmt.Sprintf("container %q not found", name)
	case !s.Running:
		return fmt.Sprintf("container %q exists but is not running (state: %s)", name, s.RawState)
	default:
		return fmt.Sprintf("container %q is running (state: %s)", name, s.RawState)
	}
}

package runtime

import "testing"

const sampleListing = `Managed Containers:
==================
- **proj-alpha**
  Image: nextjs-proj-alpha-dev:latest
  Status: Up 2 seconds
  Ports: 8090->3000/tcp
  Subdomain: preview-proj-alpha.dock-route.local

- **proj-beta**
  Image: nextjs-proj-beta-dev:latest
  Status: Exited (0) 3 hours ago
  Ports:
  Subdomain: preview-proj-beta.dock-route.local
`

func TestParseListing_Running(t *testing.T) {
	st := ParseListing(sampleListing, "proj-alpha")

	if !st.Exists {
		t.Fatal("exists = false, want true")
	}
	if !st.Running {
		t.Error("running = false, want true")
	}
	if st.RawState != "Up 2 seconds" {
		t.Errorf("raw state = %q, want %q", st.RawState, "Up 2 seconds")
	}
	if st.Image != "nextjs-proj-alpha-dev:latest" {
		t.Errorf("image = %q", st.Image)
	}
	if st.AgeSeconds != 2 {
		t.Errorf("age = %d, want 2", st.AgeSeconds)
	}
}

func TestParseListing_Stopped(t *testing.T) {
	st := ParseListing(sampleListing, "proj-beta")

	if !st.Exists {
		t.Fatal("exists = false, want true")
	}
	if st.Running {
		t.Error("running = true, want false")
	}
	if st.AgeSeconds != AgeUnknown {
		t.Errorf("age = %d, want AgeUnknown", st.AgeSeconds)
	}
}

func TestParseListing_NotFound(t *testing.T) {
	st := ParseListing(sampleListing, "proj-gamma")

	if st.Exists || st.Running {
		t.Errorf("got exists=%v running=%v, want both false", st.Exists, st.Running)
	}
	if !st.ParseEmpty {
		t.Error("ParseEmpty = false, want true for an unmatched name")
	}
}

// A block must end at the next bold-marked line even without a blank
// separator — detail lines must never bleed across containers.
func TestParseListing_AdjacentBlocks(t *testing.T) {
	raw := "- **one**\n  Status: Up 5 minutes\n- **two**\n  Status: Exited (1) 2 days ago\n"

	one := ParseListing(raw, "one")
	if !one.Running || one.RawState != "Up 5 minutes" {
		t.Errorf("one: running=%v state=%q", one.Running, one.RawState)
	}
	two := ParseListing(raw, "two")
	if two.Running {
		t.Error("two: running = true, want false")
	}
}

func TestParseListing_Deterministic(t *testing.T) {
	a := ParseListing(sampleListing, "proj-alpha")
	b := ParseListing(sampleListing, "proj-alpha")
	if a != b {
		t.Errorf("two parses of the same blob differ: %+v vs %+v", a, b)
	}
}

func TestParseListing_PartialNameNoMatch(t *testing.T) {
	// "proj" must not match the "proj-alpha" block: the bold markers
	// delimit the full name.
	st := ParseListing(sampleListing, "proj")
	if st.Exists {
		t.Error("partial name matched a block")
	}
}

func TestParseAgeSeconds(t *testing.T) {
	tests := []struct {
		state string
		want  int
	}{
		{"Up 2 seconds", 2},
		{"Up 45 seconds", 45},
		{"Up About a minute", 60},
		{"Up 3 minutes", 180},
		{"Up About an hour", AgeUnknown}, // "an" phrasing is not parsed; treated as unknown
		{"Up 2 hours", 7200},
		{"Up 5 days", 5 * 86400},
		{"Exited (0) 3 hours ago", AgeUnknown},
		{"Created", AgeUnknown},
		{"", AgeUnknown},
	}
	for _, tt := range tests {
		if got := parseAgeSeconds(tt.state); got != tt.want {
			t.Errorf("parseAgeSeconds(%q) = %d, want %d", tt.state, got, tt.want)
		}
	}
}

func TestIsLive(t *testing.T) {
	tests := []struct {
		state string
		want  bool
	}{
		{"Up 2 seconds", true},
		{"running", true},
		{"Running (healthy)", true},
		{"Exited (0) 3 hours ago", false},
		{"Created", false},
		{"Restarting (1) 5 seconds ago", false},
		// "up" must match as a token, not a substring of another word.
		{"Backup pending", false},
	}
	for _, tt := range tests {
		if got := isLive(tt.state); got != tt.want {
			t.Errorf("isLive(%q) = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestStatusFailure(t *testing.T) {
	st := StatusFailure("listing timed out")
	if st.Exists || st.Running {
		t.Error("failure status must report absence")
	}
	if st.Err != "listing timed out" {
		t.Errorf("err = %q", st.Err)
	}
}

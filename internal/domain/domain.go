// Package domain defines cross-cutting entity types used across the system.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Project status values.
const (
	StatusDeploying = "deploying"
	StatusReady     = "ready"
	StatusError     = "error"
)

// Project is a provisioned workspace backed by one sandbox container.
// Sandbox and Port are fixed at deploy time; Status tracks the
// provisioning outcome, not the live container state, which is always
// re-queried from the runtime.
type Project struct {
	ID           uuid.UUID
	Name         string // Unique human-readable name, doubles as the sandbox name.
	Template     string // Template the project directory was copied from.
	Sandbox      string // Container name bound to this project.
	Port         int    // Host port the sandbox publishes.
	Status       string
	LastError    string     // Set when Status is "error".
	LastActiveAt *time.Time // Bumped on every session turn; drives idle cleanup.
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ConversationMessage is a single turn in a project's persisted history.
type ConversationMessage struct {
	ID            uuid.UUID
	ProjectID     uuid.UUID
	SeqNum        int             // Monotonically increasing within a project.
	Role          string          // "user" or "assistant" only.
	Content       string          // Plain text content.
	ContentBlocks json.RawMessage // JSON-encoded []llm.ContentBlock for structured content.
	CreatedAt     time.Time
}

// TokenUsage is an append-only record of provider token consumption,
// one row per session turn.
type TokenUsage struct {
	ID           uuid.UUID
	ProjectID    uuid.UUID
	Provider     string // "anthropic", "openai".
	InputTokens  int
	OutputTokens int
	CreatedAt    time.Time
}

// NewID generates a new random UUID.
func NewID() uuid.UUID {
	return uuid.New()
}

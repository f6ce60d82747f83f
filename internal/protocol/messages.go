// Package protocol defines the WebSocket message types for project
// sessions. All messages are JSON-encoded and wrapped in an Envelope
// for uniform routing.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of message in the session protocol.
type MessageType string

const (
	// Client → Server
	MsgChat MessageType = "chat"

	// Server → Client
	MsgSessionStarted MessageType = "session_started"
	MsgToolCall       MessageType = "tool_call"
	MsgToolResult     MessageType = "tool_result"
	MsgResponse       MessageType = "response"

	// Bidirectional
	MsgError MessageType = "error"
)

// Envelope is the top-level wrapper for all session messages.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"` // Message ID for correlation.
	ProjectID string          `json:"project_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope creates an Envelope with a fresh ID and current timestamp.
func NewEnvelope(msgType MessageType, payload any) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Envelope{
		Type:      msgType,
		ID:        uuid.New().String(),
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the Payload into the given target.
func (e *Envelope) Decode(target any) error {
	return json.Unmarshal(e.Payload, target)
}

// --- Client → Server payloads ---

// ChatPayload carries a user message into the session.
type ChatPayload struct {
	Message string `json:"message"`
}

// --- Server → Client payloads ---

// SessionStartedPayload is the first message on a new connection. It
// tells the client which sandbox is bound and which tools the session
// exposes.
type SessionStartedPayload struct {
	ProjectID string   `json:"project_id"`
	Sandbox   string   `json:"sandbox,omitempty"`
	Tools     []string `json:"tools"`
}

// ToolCallPayload streams a tool invocation as it starts.
type ToolCallPayload struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResultPayload streams a tool's observation once it finishes.
type ToolResultPayload struct {
	Tool    string `json:"tool"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error"`
}

// ResponsePayload carries the final assistant answer for one turn.
type ResponsePayload struct {
	Message      string `json:"message"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	ToolCalls    int    `json:"tool_calls"`
	Duration     string `json:"duration"`
}

// ErrorPayload reports protocol-level and turn-level errors.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewID returns a fresh correlation ID.
func NewID() string {
	return uuid.New().String()
}

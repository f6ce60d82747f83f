// Package agent runs the per-session reasoning loop: it feeds user
// messages and conversation history to an LLM provider, executes the
// tool calls the provider requests one at a time, and feeds each
// observation back until the provider produces a final answer.
package agent

import "context"

// DefaultMaxIterations is the safety guard against infinite tool-use loops.
const DefaultMaxIterations = 25

// Turn is the coordinator's output for a single user message.
type Turn struct {
	Message     string
	Usage       TokenUsage
	ToolResults []ToolCallResult
}

// TokenUsage accumulates provider token counts across the loop iterations
// of one turn.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// ToolCallResult summarizes a single tool execution within the loop.
type ToolCallResult struct {
	ToolName string
	Success  bool
}

// Observer receives tool activity as it happens so a gateway can stream
// it to the client. Calls are strictly sequential; an implementation
// never sees two overlapping tool calls for the same session.
type Observer interface {
	// ToolCall fires before a tool executes.
	ToolCall(ctx context.Context, name string, input map[string]any)
	// ToolResult fires after a tool finishes, with the observation text
	// that is fed back to the provider.
	ToolResult(ctx context.Context, name, output string, isError bool)
}

// NopObserver discards all tool activity.
type NopObserver struct{}

func (NopObserver) ToolCall(context.Context, string, map[string]any) {}
func (NopObserver) ToolResult(context.Context, string, string, bool) {}

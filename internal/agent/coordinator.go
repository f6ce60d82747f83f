package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/karakana/internal/llm"
	"github.com/jkaninda/karakana/internal/tools"
)

// Coordinator drives the tool-use loop for one session. It owns the
// running conversation history; a gateway creates one Coordinator per
// connected session and calls Process for each incoming user message.
//
// Coordinator is not safe for concurrent use. A session issues one
// message at a time, and within a message tool calls run strictly
// sequentially.
type Coordinator struct {
	provider      llm.Provider
	registry      *tools.Registry
	systemPrompt  string
	logger        *slog.Logger
	observer      Observer
	maxIterations int

	history []llm.Message
}

// NewCoordinator creates a session coordinator backed by the given
// provider and tool registry.
func NewCoordinator(provider llm.Provider, registry *tools.Registry, systemPrompt string, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		provider:      provider,
		registry:      registry,
		systemPrompt:  systemPrompt,
		logger:        logger,
		observer:      NopObserver{},
		maxIterations: DefaultMaxIterations,
	}
}

// WithObserver attaches a tool-activity observer.
func (c *Coordinator) WithObserver(obs Observer) *Coordinator {
	if obs != nil {
		c.observer = obs
	}
	return c
}

// WithMaxIterations overrides the tool-use loop bound.
func (c *Coordinator) WithMaxIterations(n int) *Coordinator {
	if n > 0 {
		c.maxIterations = n
	}
	return c
}

// WithHistory seeds the conversation with previously persisted messages.
func (c *Coordinator) WithHistory(history []llm.Message) *Coordinator {
	c.history = history
	return c
}

// History returns the full conversation so far, including tool_use and
// tool_result blocks. The gateway persists it between connections.
func (c *Coordinator) History() []llm.Message {
	return c.history
}

// Process runs one full turn: user message in, final assistant text out.
// Tool calls requested by the provider are executed in order, each
// observation appended to history before the provider is consulted
// again. Tool failures come back as error observations, never as a
// Process error; Process fails only when the provider itself does.
func (c *Coordinator) Process(ctx context.Context, message string) (*Turn, error) {
	c.history = append(c.history, llm.UserText(message))

	toolDefs := tools.ToLLMDefinitions(c.registry)

	var usage TokenUsage
	var toolResults []ToolCallResult

	for iter := 0; iter < c.maxIterations; iter++ {
		resp, err := c.provider.SendMessage(ctx, &llm.Request{
			SystemPrompt: c.systemPrompt,
			Messages:     c.history,
			Tools:        toolDefs,
		})
		if err != nil {
			return nil, fmt.Errorf("llm request failed: %w", err)
		}

		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens

		// The full assistant response, tool_use blocks included, goes
		// into history so the provider sees its own calls next round.
		c.history = append(c.history, llm.AssistantMessage(resp.Blocks...))

		if !resp.HasToolUse() {
			return &Turn{
				Message:     resp.Text(),
				Usage:       usage,
				ToolResults: toolResults,
			}, nil
		}

		calls := resp.ToolUses()
		c.logger.InfoContext(ctx, "executing tool calls",
			slog.Int("iteration", iter+1),
			slog.Int("tool_calls", len(calls)),
		)

		var resultBlocks []llm.ContentBlock
		for _, call := range calls {
			c.observer.ToolCall(ctx, call.Name, call.Input)
			output, ok := c.runTool(ctx, call.Name, call.Input)
			c.observer.ToolResult(ctx, call.Name, output, !ok)
			resultBlocks = append(resultBlocks, llm.ToolResultBlock(call.ID, output, !ok))
			toolResults = append(toolResults, ToolCallResult{ToolName: call.Name, Success: ok})
		}
		c.history = append(c.history, llm.UserMessage(resultBlocks...))
	}

	c.logger.WarnContext(ctx, "max tool-use iterations reached",
		slog.Int("max_iterations", c.maxIterations),
	)
	return &Turn{
		Message:     "Maximum tool use iterations reached. Please refine your request.",
		Usage:       usage,
		ToolResults: toolResults,
	}, nil
}

// runTool executes a single tool call and converts every failure mode
// into an observation string. ok is false for unknown tools, rejected
// parameters, machinery faults, and tools reporting failure.
func (c *Coordinator) runTool(ctx context.Context, name string, input map[string]any) (output string, ok bool) {
	tool := c.registry.Get(name)
	if tool == nil {
		return fmt.Sprintf("Error: unknown tool %q", name), false
	}
	if err := tool.Validate(input); err != nil {
		return fmt.Sprintf("Error: invalid input for %s: %s", name, err), false
	}

	res, err := tool.Execute(ctx, input)
	if err != nil {
		c.logger.ErrorContext(ctx, "tool execution fault",
			slog.String("tool", name),
			slog.String("error", err.Error()),
		)
		return fmt.Sprintf("Error: %s", err), false
	}

	return tools.TruncateOutput(res.Output, tools.MaxOutputBytes), res.Success
}

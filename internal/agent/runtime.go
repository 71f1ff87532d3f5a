// Package agent runs the conversational trading agent: an OpenAI-compatible tool-calling
// loop, per-thread memory, the market tools, and the per-account session cache.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"quant-agent-go/internal/upstream"
)

// ErrMaxToolRounds is returned when the model keeps calling tools without answering.
var ErrMaxToolRounds = errors.New("agent exceeded tool call rounds")

// Message is a chat message in the OpenAI chat-completions format.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// Tool is a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Call        func(ctx context.Context, args json.RawMessage) (string, error)
}

type toolSpec struct {
	Type     string       `json:"type"`
	Function functionSpec `json:"function"`
}

type functionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type completionRequest struct {
	Model       string     `json:"model"`
	Temperature float64    `json:"temperature"`
	Messages    []Message  `json:"messages"`
	Tools       []toolSpec `json:"tools,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

// Runner produces a reply for a thread, given its history.
type Runner interface {
	Run(ctx context.Context, tools []Tool, history []Message, input string) (reply string, turn []Message, err error)
}

// RuntimeOptions configures the model runtime.
type RuntimeOptions struct {
	Model         string
	Temperature   float64
	MaxToolRounds int
	SystemPrompt  string
}

// Runtime is a chat-completions tool-calling loop.
type Runtime struct {
	client *upstream.Client
	opts   RuntimeOptions
	logger *zap.Logger
}

// NewRuntime creates a runtime over an upstream client pointed at the model provider.
func NewRuntime(client *upstream.Client, opts RuntimeOptions, logger *zap.Logger) *Runtime {
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = 6
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = SystemPrompt
	}
	return &Runtime{client: client, opts: opts, logger: logger.Named("runtime")}
}

// Run sends the input with the thread history, executes requested tools, and returns the
// final assistant text plus the messages this turn added to the thread.
func (r *Runtime) Run(ctx context.Context, tools []Tool, history []Message, input string) (string, []Message, error) {
	byName := make(map[string]Tool, len(tools))
	specs := make([]toolSpec, 0, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
		specs = append(specs, toolSpec{Type: "function", Function: functionSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters}})
	}

	turn := []Message{{Role: "user", Content: input}}
	for round := 0; round <= r.opts.MaxToolRounds; round++ {
		messages := make([]Message, 0, len(history)+len(turn)+1)
		messages = append(messages, Message{Role: "system", Content: r.opts.SystemPrompt})
		messages = append(messages, history...)
		messages = append(messages, turn...)

		reply, err := r.complete(ctx, messages, specs)
		if err != nil {
			return "", nil, err
		}
		turn = append(turn, reply)

		if len(reply.ToolCalls) == 0 {
			return strings.TrimSpace(reply.Content), turn, nil
		}
		for _, call := range reply.ToolCalls {
			turn = append(turn, Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Name:       call.Function.Name,
				Content:    r.callTool(ctx, byName, call),
			})
		}
	}
	return "", nil, ErrMaxToolRounds
}

func (r *Runtime) complete(ctx context.Context, messages []Message, tools []toolSpec) (Message, error) {
	var body completionResponse
	req := r.client.R(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(completionRequest{
			Model:       r.opts.Model,
			Temperature: r.opts.Temperature,
			Messages:    messages,
			Tools:       tools,
		}).
		SetResult(&body)
	if _, err := r.client.Post(ctx, "/chat/completions", req); err != nil {
		return Message{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(body.Choices) == 0 {
		return Message{}, errors.New("chat completion returned no choices")
	}
	msg := body.Choices[0].Message
	msg.Role = "assistant"
	return msg, nil
}

func (r *Runtime) callTool(ctx context.Context, tools map[string]Tool, call ToolCall) string {
	t, ok := tools[call.Function.Name]
	if !ok {
		return fmt.Sprintf("Unknown tool %q.", call.Function.Name)
	}
	args := json.RawMessage(call.Function.Arguments)
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	r.logger.Debug("Calling tool", zap.String("tool", t.Name), zap.String("args", call.Function.Arguments))
	out, err := t.Call(ctx, args)
	if err != nil {
		r.logger.Warn("Tool failed", zap.String("tool", t.Name), zap.Error(err))
		return fmt.Sprintf("%s error: %v", t.Name, err)
	}
	return out
}

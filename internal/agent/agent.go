// Package agent runs the tool-calling loop between the model and the
// search tools for a single conversational turn.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/easyso/easyso/internal/history"
	"github.com/easyso/easyso/internal/llm"
	"github.com/easyso/easyso/internal/tools"
)

// ErrIterationLimit is returned when the model keeps requesting tools
// past the configured number of model calls.
var ErrIterationLimit = errors.New("agent: iteration limit reached")

// DefaultMaxIterations bounds model calls per turn when Config leaves
// it unset.
const DefaultMaxIterations = 10

// emptyResponseNudge is sent once when the model answers a tool result
// with nothing at all.
const emptyResponseNudge = "You returned an empty response. Using the observations above, write the final answer for the user now."

// Config holds the collaborators for an Agent.
type Config struct {
	Client        llm.Client
	Model         string
	Tools         *tools.Registry
	SystemPrompt  string
	MaxIterations int
	Logger        *slog.Logger
}

// Request is the input for one turn.
type Request struct {
	ThreadID string
	Input    string

	// History is the prior conversation sent to the model, oldest first.
	// It is not modified.
	History []history.Turn
}

// Result is the outcome of a completed turn.
type Result struct {
	// Response is the text of the final assistant message.
	Response string

	// Messages holds every message produced during the turn, starting
	// with the user message.
	Messages []history.Turn

	Iterations   int
	InputTokens  int
	OutputTokens int
}

// Agent answers a user message by alternating model calls and tool
// execution until the model stops requesting tools.
type Agent struct {
	client        llm.Client
	model         string
	tools         *tools.Registry
	systemPrompt  string
	maxIterations int
	logger        *slog.Logger
}

// New creates an Agent.
func New(cfg Config) *Agent {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := cfg.Tools
	if reg == nil {
		reg = tools.NewRegistry(logger)
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	return &Agent{
		client:        cfg.Client,
		model:         cfg.Model,
		tools:         reg,
		systemPrompt:  cfg.SystemPrompt,
		maxIterations: maxIter,
		logger:        logger.With("component", "agent"),
	}
}

// Model returns the model name requests are sent to.
func (a *Agent) Model() string { return a.model }

// Stream runs one turn, passing each Step to yield as it happens. An
// error from yield stops the turn and is returned unchanged.
func (a *Agent) Stream(ctx context.Context, req Request, mode StreamMode, yield func(Step) error) (*Result, error) {
	if yield == nil {
		yield = func(Step) error { return nil }
	}
	if mode == "" {
		mode = ModeValues
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.logger.Info("agent turn started",
		"thread", req.ThreadID,
		"history", len(req.History),
		"model", a.model,
		"mode", mode,
	)
	start := time.Now()

	turns := slices.Clone(req.History)
	turns = append(turns, history.UserTurn(req.Input))
	first := len(req.History)

	snapshot := func() error {
		if mode != ModeValues {
			return nil
		}
		return yield(MessageStep{Messages: slices.Clone(turns)})
	}
	if err := snapshot(); err != nil {
		return nil, err
	}

	defs := a.tools.Definitions()
	result := &Result{}
	var nudge []llm.Message

	for iter := 0; iter < a.maxIterations; iter++ {
		var yieldErr error
		var streamed bool
		var callback llm.StreamCallback
		if mode == ModeTokens {
			callback = func(ev llm.StreamEvent) {
				if ev.Kind != llm.KindToken || ev.Token == "" || yieldErr != nil {
					return
				}
				streamed = true
				if err := yield(FragmentStep{Text: ev.Token}); err != nil {
					yieldErr = err
					cancel()
				}
			}
		}

		msgs := append(a.buildMessages(turns), nudge...)
		a.logger.Debug("calling model", "iteration", iter, "messages", len(msgs), "tools", len(defs))

		resp, err := a.client.ChatStream(ctx, a.model, msgs, defs, callback)
		if yieldErr != nil {
			return nil, yieldErr
		}
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", a.model, err)
		}
		result.Iterations++
		result.InputTokens += resp.InputTokens
		result.OutputTokens += resp.OutputTokens

		calls := resp.Message.ToolCalls
		content := resp.Message.Content

		if len(calls) == 0 && strings.TrimSpace(content) == "" && iter > 0 && nudge == nil {
			a.logger.Warn("empty model response, nudging", "iteration", iter)
			nudge = []llm.Message{{Role: llm.RoleUser, Content: emptyResponseNudge}}
			continue
		}

		turns = append(turns, assistantTurn(resp.Message))
		if err := snapshot(); err != nil {
			return nil, err
		}

		if len(calls) == 0 {
			result.Response = content
			result.Messages = slices.Clone(turns[first:])
			a.logger.Info("agent turn completed",
				"thread", req.ThreadID,
				"iterations", result.Iterations,
				"input_tokens", result.InputTokens,
				"output_tokens", result.OutputTokens,
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			return result, nil
		}

		// Text streamed ahead of tool calls is ended with a newline so it
		// does not run into the next response's text.
		if streamed {
			if err := yield(FragmentStep{Text: "\n"}); err != nil {
				return nil, err
			}
		}

		for _, tc := range calls {
			turns = append(turns, a.runTool(ctx, tc))
		}
		if err := snapshot(); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w after %d model calls", ErrIterationLimit, a.maxIterations)
}

// runTool executes one call. Failures are reported to the model as the
// tool's output.
func (a *Agent) runTool(ctx context.Context, tc llm.ToolCall) history.Turn {
	name := tc.Function.Name
	a.logger.Info("executing tool", "tool", name, "call_id", tc.ID)

	start := time.Now()
	out, err := a.tools.Execute(ctx, name, tc.Function.Arguments)
	if err != nil {
		a.logger.Warn("tool failed", "tool", name, "error", err)
		out = "Error: " + err.Error()
	} else {
		a.logger.Debug("tool completed", "tool", name, "bytes", len(out), "elapsed", time.Since(start).Round(time.Millisecond))
	}

	return history.Turn{
		Role:       history.RoleTool,
		Content:    out,
		ToolCallID: tc.ID,
		ToolName:   name,
		CreatedAt:  time.Now().UTC(),
	}
}

func (a *Agent) buildMessages(turns []history.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns)+1)
	if a.systemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: a.systemPrompt})
	}
	for _, t := range turns {
		msgs = append(msgs, toMessage(t))
	}
	return msgs
}

func toMessage(t history.Turn) llm.Message {
	m := llm.Message{
		Role:       string(t.Role),
		Content:    t.Content,
		ToolCallID: t.ToolCallID,
	}
	for _, tc := range t.ToolCalls {
		m.ToolCalls = append(m.ToolCalls, llm.ToolCall{
			ID:       tc.ID,
			Function: llm.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
		})
	}
	return m
}

func assistantTurn(m llm.Message) history.Turn {
	t := history.AssistantTurn(m.Content)
	for _, tc := range m.ToolCalls {
		t.ToolCalls = append(t.ToolCalls, history.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return t
}

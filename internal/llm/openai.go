package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/easyso/easyso/internal/httpkit"
)

// DefaultOpenAIBaseURL is the public OpenAI API root.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint
// through the official SDK. Retries are left to the caller; the SDK's
// own retry loop is disabled.
type OpenAIClient struct {
	client openai.Client
	logger *slog.Logger
}

// NewOpenAIClient creates a client for baseURL (DefaultOpenAIBaseURL
// when empty).
func NewOpenAIClient(baseURL, apiKey string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	httpClient := httpkit.NewClient(
		httpkit.WithTimeout(0),
		httpkit.WithTransport(t),
		httpkit.WithRetry(2, 500*time.Millisecond),
		httpkit.WithLogger(logger),
	)

	return &OpenAIClient{
		client: openai.NewClient(
			option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"),
			option.WithAPIKey(apiKey),
			option.WithHTTPClient(httpClient),
			option.WithMaxRetries(0),
		),
		logger: logger.With("provider", "openai"),
	}
}

// Chat sends a non-streaming chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	return c.ChatStream(ctx, model, messages, tools, nil)
}

// ChatStream sends a chat completion request, streaming tokens via
// callback when it is non-nil.
func (c *OpenAIClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: convertToOpenAI(messages),
		Tools:    convertToolsToOpenAI(tools),
	}

	c.logger.Debug("preparing request",
		"model", model,
		"messages", len(params.Messages),
		"tools", len(params.Tools),
		"stream", callback != nil,
	)
	if c.logger.Enabled(ctx, LevelTrace) {
		if raw, err := json.Marshal(params); err == nil {
			c.logger.Log(ctx, LevelTrace, "request payload", "json", string(raw))
		}
	}

	if callback == nil {
		return c.complete(ctx, params)
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	return c.stream(ctx, params, callback)
}

// Ping lists models to verify connectivity and the API key.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx); err != nil {
		return statusError(err)
	}
	return nil
}

func (c *OpenAIClient) complete(ctx context.Context, params openai.ChatCompletionNewParams) (*ChatResponse, error) {
	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		err = statusError(err)
		c.logger.Error("API error", "error", err)
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai response has no choices")
	}

	choice := completion.Choices[0]
	msg := Message{Role: RoleAssistant, Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, c.decodeToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}

	result := &ChatResponse{
		Model:        completion.Model,
		CreatedAt:    time.Unix(completion.Created, 0).UTC(),
		Message:      msg,
		StopReason:   string(choice.FinishReason),
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)
	return result, nil
}

// pendingToolCall accumulates a streamed tool call; arguments arrive as
// JSON fragments keyed by the call's index.
type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

func (c *OpenAIClient) stream(ctx context.Context, params openai.ChatCompletionNewParams, callback StreamCallback) (*ChatResponse, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		content      strings.Builder
		pending      = map[int64]*pendingToolCall{}
		finishReason string
		usage        openai.CompletionUsage
		model        string
		created      int64
	)

	for stream.Next() {
		chunk := stream.Current()
		c.logger.Log(ctx, LevelTrace, "stream chunk", "json", chunk.RawJSON())

		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Created != 0 {
			created = chunk.Created
		}
		if chunk.Usage.PromptTokens != 0 || chunk.Usage.CompletionTokens != 0 {
			usage = chunk.Usage
		}

		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				callback(StreamEvent{Kind: KindToken, Token: choice.Delta.Content})
			}
			for _, tc := range choice.Delta.ToolCalls {
				p, ok := pending[tc.Index]
				if !ok {
					p = &pendingToolCall{}
					pending[tc.Index] = p
				}
				if tc.ID != "" {
					p.id = tc.ID
				}
				if tc.Function.Name != "" {
					p.name = tc.Function.Name
				}
				p.args.WriteString(tc.Function.Arguments)
			}
		}
	}

	if err := stream.Err(); err != nil {
		err = statusError(err)
		c.logger.Error("stream failed", "error", err)
		return nil, err
	}
	if finishReason == "" {
		return nil, fmt.Errorf("openai stream ended early: %w", io.ErrUnexpectedEOF)
	}

	indexes := make([]int64, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	var toolCalls []ToolCall
	for _, idx := range indexes {
		p := pending[idx]
		tc := c.decodeToolCall(p.id, p.name, p.args.String())
		toolCalls = append(toolCalls, tc)
		callback(StreamEvent{Kind: KindToolCallStart, ToolCall: &tc})
	}

	resp := &ChatResponse{
		Model:     model,
		CreatedAt: time.Unix(created, 0).UTC(),
		Message: Message{
			Role:      RoleAssistant,
			Content:   content.String(),
			ToolCalls: toolCalls,
		},
		StopReason:   finishReason,
		InputTokens:  int(usage.PromptTokens),
		OutputTokens: int(usage.CompletionTokens),
	}
	callback(StreamEvent{Kind: KindDone, Response: resp})

	c.logger.Debug("stream complete",
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"content_len", len(resp.Message.Content),
		"tool_calls", len(resp.Message.ToolCalls),
	)
	return resp, nil
}

// statusError converts SDK API errors into *httpkit.StatusError so the
// shared classifiers see the status code.
func statusError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("openai: %w", err)
	}
	se := &httpkit.StatusError{
		Service:    "openai",
		StatusCode: apiErr.StatusCode,
		Body:       apiErr.Message,
	}
	if apiErr.Response != nil {
		se.RetryAfter = httpkit.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
	}
	return se
}

func (c *OpenAIClient) decodeToolCall(id, name, rawArgs string) ToolCall {
	args := map[string]any{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			c.logger.Warn("tool call arguments are not valid JSON", "tool", name, "error", err)
			args = map[string]any{"_raw": rawArgs}
		}
	}
	return ToolCall{ID: id, Function: FunctionCall{Name: name, Arguments: args}}
}

// convertToOpenAI converts internal messages to SDK message params.
// Tool arguments are re-encoded as JSON strings.
func convertToOpenAI(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case RoleTool:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					ToolCallID: msg.ToolCallID,
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		default:
			out = append(out, assistantParam(msg))
		}
	}
	return out
}

// assistantParam leaves content unset on a tool-call message with no
// text, which the API requires.
func assistantParam(msg Message) openai.ChatCompletionMessageParamUnion {
	var p openai.ChatCompletionAssistantMessageParam
	if msg.Content != "" || len(msg.ToolCalls) == 0 {
		p.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openai.String(msg.Content),
		}
	}
	for i, tc := range msg.ToolCalls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		raw, err := json.Marshal(args)
		if err != nil {
			raw = []byte("{}")
		}
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%s_%d", tc.Function.Name, i)
		}
		p.ToolCalls = append(p.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: id,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Function.Name,
				Arguments: string(raw),
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &p}
}

// convertToolsToOpenAI converts registry definitions, which are already
// in function-calling shape, into SDK tool params.
func convertToolsToOpenAI(tools []map[string]any) []openai.ChatCompletionToolParam {
	var out []openai.ChatCompletionToolParam
	for _, t := range tools {
		fn, ok := t["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		def := shared.FunctionDefinitionParam{Name: name}
		if desc, _ := fn["description"].(string); desc != "" {
			def.Description = openai.String(desc)
		}
		if params, ok := fn["parameters"].(map[string]any); ok {
			def.Parameters = shared.FunctionParameters(params)
		}
		out = append(out, openai.ChatCompletionToolParam{Function: def})
	}
	return out
}

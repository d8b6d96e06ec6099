package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/easyso/easyso/internal/httpkit"
)

func TestConvertToAnthropic(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "You are a research assistant."},
		{Role: RoleUser, Content: "Hello!"},
		{Role: RoleAssistant, Content: "Hi there!"},
		{Role: RoleUser, Content: "What is the weather in Istanbul?"},
	}

	result, system := convertToAnthropic(messages)

	if system != "You are a research assistant." {
		t.Errorf("system = %q", system)
	}
	if len(result) != 3 {
		t.Fatalf("expected 3 messages (no system), got %d", len(result))
	}
	if result[0].Role != "user" {
		t.Errorf("first role = %s", result[0].Role)
	}
}

func TestConvertToAnthropic_ToolRoundTrip(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "Weather in Istanbul?"},
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{{
				ID:       "toolu_abc123",
				Function: FunctionCall{Name: "web_search", Arguments: map[string]any{"query": "istanbul weather"}},
			}},
		},
		{Role: RoleTool, Content: "Sunny, 24C", ToolCallID: "toolu_abc123"},
	}

	result, _ := convertToAnthropic(messages)
	if len(result) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result))
	}

	blocks, ok := result[1].Content.([]anthropicContent)
	if !ok || len(blocks) != 1 || blocks[0].Type != "tool_use" || blocks[0].ID != "toolu_abc123" {
		t.Fatalf("assistant blocks = %#v", result[1].Content)
	}

	results, ok := result[2].Content.([]anthropicContent)
	if !ok || results[0].Type != "tool_result" || results[0].ToolUseID != "toolu_abc123" {
		t.Fatalf("tool result = %#v", result[2].Content)
	}
	if result[2].Role != "user" {
		t.Errorf("tool result role = %s, want user", result[2].Role)
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	tools := []map[string]any{{
		"type": "function",
		"function": map[string]any{
			"name":        "web_search",
			"description": "Search the web",
			"parameters": map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			},
		},
	}, {
		"type": "not-a-function",
	}}

	result := convertToolsToAnthropic(tools)
	if len(result) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(result))
	}
	if result[0].Name != "web_search" || result[0].Description != "Search the web" {
		t.Errorf("tool = %+v", result[0])
	}
}

func TestConvertFromAnthropic(t *testing.T) {
	resp := &anthropicResponse{
		Model:      "claude-3-5-haiku-latest",
		StopReason: "tool_use",
		Content: []anthropicContent{
			{Type: "text", Text: "Let me look that up."},
			{Type: "tool_use", ID: "toolu_1", Name: "web_search", Input: map[string]any{"query": "x"}},
		},
		Usage: anthropicUsage{InputTokens: 12, OutputTokens: 7},
	}

	got := convertFromAnthropic(resp)
	if got.Message.Content != "Let me look that up." {
		t.Errorf("content = %q", got.Message.Content)
	}
	if len(got.Message.ToolCalls) != 1 || got.Message.ToolCalls[0].Function.Name != "web_search" {
		t.Errorf("tool calls = %+v", got.Message.ToolCalls)
	}
	if got.StopReason != "tool_use" || got.InputTokens != 12 || got.OutputTokens != 7 {
		t.Errorf("metadata = %+v", got)
	}
}

func anthropicSSE(events ...string) string {
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "event: x\ndata: %s\n\n", e)
	}
	return b.String()
}

func TestAnthropicClient_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant-test" {
			t.Errorf("missing api key header")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, anthropicSSE(
			`{"type":"message_start","message":{"model":"claude-test","usage":{"input_tokens":5}}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
			`{not json`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
			`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_9","name":"web_search"}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"query\":"}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"istanbul\"}"}}`,
			`{"type":"content_block_stop","index":1}`,
			`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":9}}`,
			`{"type":"message_stop"}`,
		))
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.URL, "sk-ant-test", nil)
	var tokens []string
	var toolStarts int
	resp, err := c.ChatStream(context.Background(), "claude-test",
		[]Message{{Role: RoleUser, Content: "hi"}}, nil,
		func(ev StreamEvent) {
			switch ev.Kind {
			case KindToken:
				tokens = append(tokens, ev.Token)
			case KindToolCallStart:
				toolStarts++
			}
		})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if strings.Join(tokens, "") != "Hello" || resp.Message.Content != "Hello" {
		t.Errorf("tokens = %q, content = %q", tokens, resp.Message.Content)
	}
	if toolStarts != 1 || len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.Message.ToolCalls)
	}
	if q := resp.Message.ToolCalls[0].Function.Arguments["query"]; q != "istanbul" {
		t.Errorf("query arg = %v", q)
	}
	if resp.InputTokens != 5 || resp.OutputTokens != 9 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestAnthropicClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"authentication_error"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.URL, "bad", nil)
	_, err := c.Chat(context.Background(), "claude-test", []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if !httpkit.IsAuth(err) {
		t.Fatalf("err = %v, want auth error", err)
	}
}

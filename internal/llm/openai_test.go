package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/easyso/easyso/internal/httpkit"
)

func sseServer(t *testing.T, chunks ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClient_StreamTokens(t *testing.T) {
	srv := sseServer(t,
		`{"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":11,"completion_tokens":2}}`,
		`[DONE]`,
	)

	c := NewOpenAIClient(srv.URL, "sk-test", nil)
	var tokens []string
	var done *ChatResponse
	resp, err := c.ChatStream(context.Background(), "gpt-4o-mini",
		[]Message{{Role: RoleUser, Content: "hi"}}, nil,
		func(ev StreamEvent) {
			switch ev.Kind {
			case KindToken:
				tokens = append(tokens, ev.Token)
			case KindDone:
				done = ev.Response
			}
		})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if got := strings.Join(tokens, ""); got != "Hello" {
		t.Errorf("tokens = %q", got)
	}
	if resp.Message.Content != "Hello" || resp.StopReason != "stop" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.InputTokens != 11 || resp.OutputTokens != 2 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
	if done != resp {
		t.Error("KindDone should carry the final response")
	}
}

func TestOpenAIClient_StreamToolCalls(t *testing.T) {
	srv := sseServer(t,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"web_search","arguments":"{\"qu"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"web_fetch","arguments":"{\"url\":\"https://x.test\"}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ery\":\"istanbul\"}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`[DONE]`,
	)

	c := NewOpenAIClient(srv.URL, "sk-test", nil)
	resp, err := c.ChatStream(context.Background(), "gpt-4o-mini", nil, nil, func(StreamEvent) {})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	calls := resp.Message.ToolCalls
	if len(calls) != 2 {
		t.Fatalf("tool calls = %+v", calls)
	}
	if calls[0].ID != "call_a" || calls[0].Function.Arguments["query"] != "istanbul" {
		t.Errorf("first call = %+v", calls[0])
	}
	if calls[1].Function.Name != "web_fetch" {
		t.Errorf("second call = %+v", calls[1])
	}
}

func TestOpenAIClient_StreamTruncated(t *testing.T) {
	srv := sseServer(t, `{"choices":[{"index":0,"delta":{"content":"partial"}}]}`)

	c := NewOpenAIClient(srv.URL, "sk-test", nil)
	_, err := c.ChatStream(context.Background(), "gpt-4o-mini", nil, nil, func(StreamEvent) {})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want unexpected EOF", err)
	}
	if !httpkit.IsTransient(err) {
		t.Error("truncated stream should be transient")
	}
}

func TestOpenAIClient_StreamMalformedChunk(t *testing.T) {
	srv := sseServer(t,
		`{"choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		`this is not json`,
		`[DONE]`,
	)

	c := NewOpenAIClient(srv.URL, "sk-test", nil)
	_, err := c.ChatStream(context.Background(), "gpt-4o-mini", nil, nil, func(StreamEvent) {})
	if err == nil {
		t.Fatal("expected an error for a malformed chunk")
	}
	var se *httpkit.StatusError
	if errors.As(err, &se) {
		t.Errorf("malformed chunk reported as status error: %v", err)
	}
}

func TestOpenAIClient_Chat(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","model":"gpt-4o-mini","created":1700000000,"choices":[{"index":0,"message":{"role":"assistant","content":"Sunny."},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "sk-test", nil)
	resp, err := c.Chat(context.Background(), "gpt-4o-mini", []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "weather?"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "Sunny." || resp.InputTokens != 3 || resp.OutputTokens != 1 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.StopReason != "stop" {
		t.Errorf("StopReason = %q", resp.StopReason)
	}
	if stream, _ := gotBody["stream"].(bool); stream {
		t.Error("non-streaming call must not request a stream")
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v", gotBody["messages"])
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "be brief" {
		t.Errorf("first message = %+v", first)
	}
}

func TestOpenAIClient_SendsTools(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","model":"gpt-4o-mini","created":1,"choices":[{"index":0,"message":{"role":"assistant","content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"web_search","arguments":"{\"query\":\"istanbul\"}"}}]},"finish_reason":"tool_calls"}]}`)
	}))
	defer srv.Close()

	tools := []map[string]any{{
		"type": "function",
		"function": map[string]any{
			"name":        "web_search",
			"description": "Search the web.",
			"parameters":  map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}}

	c := NewOpenAIClient(srv.URL, "sk-test", nil)
	resp, err := c.Chat(context.Background(), "gpt-4o-mini", []Message{{Role: RoleUser, Content: "weather?"}}, tools)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	sent, _ := gotBody["tools"].([]any)
	if len(sent) != 1 {
		t.Fatalf("tools = %+v", gotBody["tools"])
	}
	fn, _ := sent[0].(map[string]any)["function"].(map[string]any)
	if fn["name"] != "web_search" || fn["description"] != "Search the web." {
		t.Errorf("function = %+v", fn)
	}

	calls := resp.Message.ToolCalls
	if len(calls) != 1 || calls[0].ID != "call_1" || calls[0].Function.Arguments["query"] != "istanbul" {
		t.Errorf("tool calls = %+v", calls)
	}
}

func TestOpenAIClient_StatusErrors(t *testing.T) {
	tests := []struct {
		status        int
		wantAuth      bool
		wantTransient bool
	}{
		{http.StatusUnauthorized, true, false},
		{http.StatusTooManyRequests, false, true},
		{http.StatusBadRequest, false, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "3")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"nope","type":"invalid_request_error"}}`)
			}))
			defer srv.Close()

			c := NewOpenAIClient(srv.URL, "sk-test", nil)
			_, err := c.Chat(context.Background(), "gpt-4o-mini", nil, nil)
			var se *httpkit.StatusError
			if !errors.As(err, &se) || se.StatusCode != tt.status {
				t.Fatalf("err = %v", err)
			}
			if se.Service != "openai" || se.RetryAfter != 3*time.Second {
				t.Errorf("status error = %+v", se)
			}
			if httpkit.IsAuth(err) != tt.wantAuth || httpkit.IsTransient(err) != tt.wantTransient {
				t.Errorf("classification wrong for %d", tt.status)
			}
		})
	}
}

func TestConvertToOpenAI_ToolMessages(t *testing.T) {
	msgs := convertToOpenAI([]Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Function: FunctionCall{Name: "web_search", Arguments: map[string]any{"query": "x"}}}}},
		{Role: RoleTool, Content: "result", ToolCallID: "call_1"},
	})

	raw, err := json.Marshal(msgs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire []struct {
		Role      string  `json:"role"`
		Content   *string `json:"content"`
		ToolCalls []struct {
			ID       string `json:"id"`
			Function struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
		ToolCallID string `json:"tool_call_id"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if wire[0].Role != "assistant" || wire[0].Content != nil {
		t.Errorf("assistant tool-call message should carry no content: %s", raw)
	}
	if wire[0].ToolCalls[0].Function.Arguments != `{"query":"x"}` {
		t.Errorf("arguments = %s", wire[0].ToolCalls[0].Function.Arguments)
	}
	if wire[1].Role != "tool" || wire[1].ToolCallID != "call_1" || wire[1].Content == nil || *wire[1].Content != "result" {
		t.Errorf("tool message = %s", raw)
	}
}

package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeClient struct {
	name    string
	pingErr error
	models  []string
}

func (f *fakeClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	return f.ChatStream(ctx, model, messages, tools, nil)
}

func (f *fakeClient) ChatStream(_ context.Context, model string, _ []Message, _ []map[string]any, _ StreamCallback) (*ChatResponse, error) {
	f.models = append(f.models, model)
	return &ChatResponse{Model: model, Message: Message{Role: RoleAssistant, Content: f.name}}, nil
}

func (f *fakeClient) Ping(context.Context) error { return f.pingErr }

func TestMultiClient_Routing(t *testing.T) {
	openai := &fakeClient{name: "openai"}
	anthropic := &fakeClient{name: "anthropic"}

	m := NewMultiClient(openai)
	m.AddProvider("openai", openai)
	m.AddProvider("anthropic", anthropic)
	m.AddModel("claude-test", "anthropic")

	ctx := context.Background()
	resp, err := m.Chat(ctx, "claude-test", nil, nil)
	if err != nil || resp.Message.Content != "anthropic" {
		t.Errorf("claude-test routed to %v (%v)", resp, err)
	}
	resp, err = m.ChatStream(ctx, "gpt-4o-mini", nil, nil, nil)
	if err != nil || resp.Message.Content != "openai" {
		t.Errorf("unmapped model should use fallback, got %v (%v)", resp, err)
	}
}

func TestMultiClient_MissingProvider(t *testing.T) {
	m := NewMultiClient(nil)
	m.AddModel("claude-test", "anthropic")

	if _, err := m.Chat(context.Background(), "claude-test", nil, nil); err == nil {
		t.Error("expected error for unregistered provider")
	}
	if _, err := m.Chat(context.Background(), "other", nil, nil); err == nil {
		t.Error("expected error with no fallback")
	}
}

func TestMultiClient_Ping(t *testing.T) {
	m := NewMultiClient(nil)
	m.AddProvider("openai", &fakeClient{})
	m.AddProvider("anthropic", &fakeClient{pingErr: errors.New("invalid key")})

	err := m.Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "anthropic: invalid key") {
		t.Errorf("Ping = %v", err)
	}
}

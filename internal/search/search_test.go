package search

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// mockProvider records calls and returns a canned response.
type mockProvider struct {
	name  string
	resp  *Response
	err   error
	calls int
	opts  Options
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Search(_ context.Context, query string, opts Options) (*Response, error) {
	m.calls++
	m.opts = opts
	if m.err != nil {
		return nil, m.err
	}
	r := *m.resp
	return &r, nil
}

func oneResult(title string) *Response {
	return &Response{Results: []Result{{Title: title, URL: "https://example.com"}}}
}

func TestManagerSearch(t *testing.T) {
	mgr := NewManager(ManagerConfig{Primary: "mock"})
	p := &mockProvider{name: "mock", resp: oneResult("Test")}
	mgr.Register(p)

	resp, err := mgr.Search(context.Background(), "istanbul weather", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Title != "Test" {
		t.Errorf("results = %+v", resp.Results)
	}
	if resp.Provider != "mock" || resp.Query != "istanbul weather" {
		t.Errorf("provider/query = %q/%q", resp.Provider, resp.Query)
	}
}

func TestManagerSearchWith(t *testing.T) {
	mgr := NewManager(ManagerConfig{Primary: "primary"})
	mgr.Register(&mockProvider{name: "primary", resp: oneResult("Primary")})
	mgr.Register(&mockProvider{name: "secondary", resp: oneResult("Secondary")})

	resp, err := mgr.SearchWith(context.Background(), "secondary", "test", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Results[0].Title != "Secondary" {
		t.Errorf("got %q", resp.Results[0].Title)
	}
	if got := mgr.Providers(); len(got) != 2 || got[0] != "primary" {
		t.Errorf("Providers = %v", got)
	}
}

func TestManagerUnconfigured(t *testing.T) {
	mgr := NewManager(ManagerConfig{Primary: "missing"})
	if mgr.Configured() {
		t.Error("Configured should be false without the primary provider")
	}
	if _, err := mgr.Search(context.Background(), "test", Options{}); err == nil {
		t.Fatal("expected error for missing provider")
	}
}

func TestManagerDefaults(t *testing.T) {
	mgr := NewManager(ManagerConfig{
		Primary:  "mock",
		Defaults: Options{Count: 2, Depth: "basic", IncludeAnswer: true, IncludeRawContent: true},
	})
	p := &mockProvider{name: "mock", resp: oneResult("x")}
	mgr.Register(p)

	if _, err := mgr.Search(context.Background(), "q", Options{Count: 4}); err != nil {
		t.Fatal(err)
	}
	want := Options{Count: 4, Depth: "basic", IncludeAnswer: true, IncludeRawContent: true}
	if p.opts != want {
		t.Errorf("opts = %+v, want %+v", p.opts, want)
	}
}

func TestManagerCache(t *testing.T) {
	mgr := NewManager(ManagerConfig{Primary: "mock", CacheSize: 8, CacheTTL: time.Minute})
	p := &mockProvider{name: "mock", resp: oneResult("cached")}
	mgr.Register(p)

	ctx := context.Background()
	for _, q := range []string{"Istanbul weather", "istanbul weather ", "other"} {
		if _, err := mgr.Search(ctx, q, Options{}); err != nil {
			t.Fatal(err)
		}
	}
	if p.calls != 2 {
		t.Errorf("provider calls = %d, want 2 (normalized query served from cache)", p.calls)
	}
}

func TestManagerErrorsNotCached(t *testing.T) {
	mgr := NewManager(ManagerConfig{Primary: "mock", CacheSize: 8, CacheTTL: time.Minute})
	p := &mockProvider{name: "mock", err: errors.New("upstream down")}
	mgr.Register(p)

	ctx := context.Background()
	mgr.Search(ctx, "q", Options{})
	mgr.Search(ctx, "q", Options{})
	if p.calls != 2 {
		t.Errorf("provider calls = %d, failures must not be cached", p.calls)
	}
}

func TestManagerRateLimitHonorsContext(t *testing.T) {
	mgr := NewManager(ManagerConfig{Primary: "mock", RatePerSecond: 0.001, Burst: 1})
	mgr.Register(&mockProvider{name: "mock", resp: oneResult("x")})

	if _, err := mgr.Search(context.Background(), "first", Options{}); err != nil {
		t.Fatalf("first search should use the burst token: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := mgr.Search(ctx, "second", Options{}); err == nil {
		t.Fatal("expected rate limit wait to fail")
	}
}

func TestFormatResponse(t *testing.T) {
	resp := &Response{
		Answer: "Sunny and 24C.",
		Results: []Result{
			{Title: "First", URL: "https://a.test", Snippet: "Snippet A", RawContent: "çççççç"},
			{Title: "Second", URL: "https://b.test"},
		},
	}
	out := FormatResponse(resp, 5)
	for _, want := range []string{"Answer: Sunny and 24C.", "1. First", "   https://a.test", "2. Second", "Content: çç..."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(FormatResponse(resp, 0), "Content:") {
		t.Error("maxRaw 0 should omit raw content")
	}
}

func TestFormatResponseEmpty(t *testing.T) {
	if out := FormatResponse(&Response{}, 0); out != "No results found." {
		t.Errorf("got %q", out)
	}
}

func TestToolHandler(t *testing.T) {
	mgr := NewManager(ManagerConfig{Primary: "mock"})
	p := &mockProvider{name: "mock", resp: oneResult("Weather")}
	mgr.Register(p)
	handler := ToolHandler(mgr)

	if _, err := handler(context.Background(), map[string]any{}); err == nil {
		t.Error("missing query should fail")
	}

	out, err := handler(context.Background(), map[string]any{"query": "weather", "count": float64(50)})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "1. Weather") {
		t.Errorf("output = %q", out)
	}
	if p.opts.Count != 10 {
		t.Errorf("count = %d, want clamp to 10", p.opts.Count)
	}
}

package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var testDate = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func TestRender_Default(t *testing.T) {
	data := NewData([]ToolInfo{
		{Name: "web_search", Description: "Search the web."},
		{Name: "web_fetch", Description: "Read a page."},
	}, testDate)

	out, err := Render(ReactTemplate, data)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{
		"Today is Friday, March 14, 2025.",
		"- web_search: Search the web.",
		"- web_fetch: Read a page.",
		"[web_search, web_fetch]",
		"final answer only",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt missing %q:\n%s", want, out)
		}
	}
}

func TestRender_NoTools(t *testing.T) {
	out, err := Render(ReactTemplate, NewData(nil, testDate))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "Thought") {
		t.Errorf("tool loop instructions should be omitted without tools:\n%s", out)
	}
}

func TestRender_BadTemplate(t *testing.T) {
	if _, err := Render("{{.Nope", Data{}); err == nil {
		t.Error("expected parse error")
	}
	if _, err := Render("{{.Missing}}", Data{}); err == nil {
		t.Error("expected execution error for unknown field")
	}
}

func TestLoad(t *testing.T) {
	text, err := Load("")
	if err != nil || text != ReactTemplate {
		t.Errorf("Load(\"\") should return the built-in template")
	}

	path := filepath.Join(t.TempDir(), "prompt.tmpl")
	os.WriteFile(path, []byte("Be terse. Tools: {{.ToolNames}}"), 0o600)

	text, err = Load(path)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Render(text, NewData([]ToolInfo{{Name: "web_search"}}, testDate))
	if err != nil || out != "Be terse. Tools: web_search" {
		t.Errorf("override = %q, %v", out, err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("missing prompt file should fail")
	}
}

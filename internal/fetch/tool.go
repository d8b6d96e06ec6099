package fetch

import (
	"context"
	"fmt"
	"strings"
)

// ToolHandler returns a function compatible with the tools.Tool Handler
// signature. It wraps the Fetcher for use as an agent tool.
func ToolHandler(f *Fetcher) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		url, _ := args["url"].(string)
		if url == "" {
			return "", fmt.Errorf("web_fetch: url is required")
		}

		maxChars := 0
		if mc, ok := args["max_chars"].(float64); ok && mc > 0 {
			maxChars = int(mc)
		}

		page, err := f.Fetch(ctx, url, maxChars)
		if err != nil {
			return "", err
		}
		return FormatPage(page), nil
	}
}

// FormatPage renders a page as plain text for the model.
func FormatPage(p *Page) string {
	var b strings.Builder
	if p.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", p.Title)
	}
	fmt.Fprintf(&b, "URL: %s\n\n", p.URL)
	b.WriteString(p.Content)
	if p.Truncated {
		b.WriteString("\n\n[content truncated]")
	}
	return b.String()
}

// ToolDefinition returns the JSON Schema parameters for the web_fetch tool.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "URL to fetch and extract readable text from.",
			},
			"max_chars": map[string]any{
				"type":        "integer",
				"description": "Maximum characters to return. Capped by configuration.",
			},
		},
		"required": []string{"url"},
	}
}

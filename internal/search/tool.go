package search

import (
	"context"
	"fmt"
)

// maxToolRawContent bounds the page text returned per result so a single
// search cannot flood the model's context.
const maxToolRawContent = 2000

// ToolHandler returns a function compatible with the tools.Tool Handler
// signature. It wraps the Manager's search method for use as an agent tool.
func ToolHandler(mgr *Manager) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return "", fmt.Errorf("web_search: query is required")
		}

		opts := Options{}
		if count, ok := args["count"].(float64); ok && count > 0 {
			opts.Count = min(int(count), 10)
		}
		if lang, ok := args["language"].(string); ok {
			opts.Language = lang
		}

		var resp *Response
		var err error
		if provider, ok := args["provider"].(string); ok && provider != "" {
			resp, err = mgr.SearchWith(ctx, provider, query, opts)
		} else {
			resp, err = mgr.Search(ctx, query, opts)
		}
		if err != nil {
			return "", err
		}
		return FormatResponse(resp, maxToolRawContent), nil
	}
}

// ToolDefinition returns the JSON Schema parameters for the web_search tool.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query string.",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return (1-10).",
			},
			"language": map[string]any{
				"type":        "string",
				"description": "ISO 639-1 language code for results (e.g., 'en', 'de').",
			},
			"provider": map[string]any{
				"type":        "string",
				"description": "Search provider to use. Omit for default.",
			},
		},
		"required": []string{"query"},
	}
}

package tools

import (
	"github.com/easyso/easyso/internal/fetch"
	"github.com/easyso/easyso/internal/search"
)

// Names of the built-in tools.
const (
	WebSearch = "web_search"
	WebFetch  = "web_fetch"
)

// SearchTool exposes a search manager as the web_search tool.
func SearchTool(mgr *search.Manager) *Tool {
	return &Tool{
		Name:        WebSearch,
		Description: "Search the web for current information. Returns a short answer when available, then the top results with titles, URLs and page content.",
		Parameters:  search.ToolDefinition(),
		Handler:     search.ToolHandler(mgr),
	}
}

// FetchTool exposes a fetcher as the web_fetch tool.
func FetchTool(f *fetch.Fetcher) *Tool {
	return &Tool{
		Name:        WebFetch,
		Description: "Fetch a web page and return its readable text. Use it to read a search result in full.",
		Parameters:  fetch.ToolDefinition(),
		Handler:     fetch.ToolHandler(f),
	}
}

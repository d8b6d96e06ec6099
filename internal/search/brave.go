package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/easyso/easyso/internal/httpkit"
)

// DefaultBraveURL is the Brave web search endpoint.
const DefaultBraveURL = "https://api.search.brave.com/res/v1/web/search"

// Brave implements the Provider interface for the Brave Search API.
type Brave struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewBrave creates a Brave Search provider. endpoint may be empty.
func NewBrave(apiKey, endpoint string) *Brave {
	if endpoint == "" {
		endpoint = DefaultBraveURL
	}
	return &Brave{
		apiKey:   apiKey,
		endpoint: endpoint,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

func (b *Brave) Name() string { return "brave" }

// braveResponse is the JSON response from Brave's web search API.
type braveResponse struct {
	Query struct {
		Original string `json:"original"`
	} `json:"query"`
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

type braveResult struct {
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	Description   string   `json:"description"`
	ExtraSnippets []string `json:"extra_snippets"`
}

func (b *Brave) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	if b.apiKey == "" {
		return nil, fmt.Errorf("brave: %w (set BRAVE_API_KEY)", ErrMissingAPIKey)
	}

	count := opts.Count
	if count == 0 {
		count = 5
	}

	params := url.Values{
		"q":     {query},
		"count": {strconv.Itoa(count)},
	}
	if opts.Language != "" {
		params.Set("search_lang", opts.Language)
	}
	if opts.IncludeRawContent {
		params.Set("extra_snippets", "true")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("brave: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpkit.NewStatusError("brave", resp, 512)
	}

	var br braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("brave: decode response: %w", err)
	}

	out := &Response{Query: br.Query.Original, Results: make([]Result, 0, len(br.Web.Results))}
	for _, r := range br.Web.Results {
		out.Results = append(out.Results, Result{
			Title:      r.Title,
			URL:        r.URL,
			Snippet:    r.Description,
			RawContent: strings.Join(r.ExtraSnippets, "\n"),
		})
	}
	return out, nil
}

package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/easyso/easyso/internal/httpkit"
)

// DefaultTavilyURL is the Tavily API root.
const DefaultTavilyURL = "https://api.tavily.com"

const (
	tavilyMaxAttempts  = 4
	tavilyInitialDelay = time.Second
	tavilyMaxDelay     = 30 * time.Second
)

// Tavily implements the Provider interface for the Tavily search API.
type Tavily struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	// retryDelay is the first 429 backoff; it doubles per attempt.
	retryDelay time.Duration
}

// NewTavily creates a Tavily provider. baseURL may be empty.
func NewTavily(apiKey, baseURL string, logger *slog.Logger) *Tavily {
	if baseURL == "" {
		baseURL = DefaultTavilyURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tavily{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger.With("provider", "tavily"),
		retryDelay: tavilyInitialDelay,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

func (t *Tavily) Name() string { return "tavily" }

type tavilyRequest struct {
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results,omitempty"`
	SearchDepth       string `json:"search_depth,omitempty"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type tavilyResponse struct {
	Query   string `json:"query"`
	Answer  string `json:"answer"`
	Results []struct {
		Title      string  `json:"title"`
		URL        string  `json:"url"`
		Content    string  `json:"content"`
		RawContent string  `json:"raw_content"`
		Score      float64 `json:"score"`
	} `json:"results"`
}

// Search posts a query to Tavily. 429 responses are retried with a
// doubling delay (or the server's Retry-After) up to a fixed number of
// attempts.
func (t *Tavily) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	if strings.TrimSpace(t.apiKey) == "" {
		return nil, fmt.Errorf("tavily: %w (set TAVILY_API_KEY)", ErrMissingAPIKey)
	}

	payload, err := json.Marshal(tavilyRequest{
		Query:             query,
		MaxResults:        opts.Count,
		SearchDepth:       opts.Depth,
		IncludeAnswer:     opts.IncludeAnswer,
		IncludeRawContent: opts.IncludeRawContent,
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: marshal request: %w", err)
	}

	var resp *http.Response
	delay := t.retryDelay
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("tavily: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+t.apiKey)

		resp, err = t.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("tavily: request failed: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt >= tavilyMaxAttempts {
			break
		}

		se := httpkit.NewStatusError("tavily", resp, 512)
		wait := delay
		if se.RetryAfter > 0 {
			wait = se.RetryAfter
		}
		t.logger.Warn("rate limited, backing off", "attempt", attempt, "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if delay < tavilyMaxDelay {
			delay *= 2
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpkit.NewStatusError("tavily", resp, 512)
	}

	var tr tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}

	out := &Response{Query: tr.Query, Answer: tr.Answer, Results: make([]Result, 0, len(tr.Results))}
	for _, r := range tr.Results {
		out.Results = append(out.Results, Result{
			Title:      r.Title,
			URL:        r.URL,
			Snippet:    r.Content,
			RawContent: r.RawContent,
			Score:      r.Score,
		})
		if opts.Count > 0 && len(out.Results) >= opts.Count {
			break
		}
	}
	return out, nil
}

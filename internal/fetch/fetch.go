// Package fetch downloads web pages and reduces them to readable text,
// giving the agent the full content behind a search result.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/easyso/easyso/internal/httpkit"
)

const (
	// DefaultTimeout is the request timeout for fetching a page.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBytes caps how much of a response body is read.
	DefaultMaxBytes int64 = 5 * 1024 * 1024

	// DefaultMaxChars caps extracted text when the caller gives no limit.
	DefaultMaxChars = 8000
)

// Page holds the extracted content of a URL.
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	StatusCode  int    `json:"status_code"`
}

// Fetcher downloads and extracts readable content from web pages.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	maxChars int
	logger   *slog.Logger
}

// New creates a Fetcher. maxChars <= 0 uses DefaultMaxChars.
func New(maxChars int, logger *slog.Logger) *Fetcher {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client: httpkit.NewClient(
			httpkit.WithTimeout(DefaultTimeout),
			httpkit.WithRetry(1, time.Second),
			httpkit.WithLogger(logger),
		),
		maxBytes: DefaultMaxBytes,
		maxChars: maxChars,
		logger:   logger.With("component", "fetch"),
	}
}

// Fetch downloads rawURL and extracts readable text. maxChars limits the
// output in runes; 0 uses the Fetcher's default.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Page, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("web_fetch: url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	if maxChars <= 0 || maxChars > f.maxChars {
		maxChars = f.maxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("web_fetch: invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web_fetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpkit.NewStatusError("web_fetch", resp, 256)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("web_fetch: read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)

	page := &Page{URL: rawURL, ContentType: contentType, StatusCode: resp.StatusCode}
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		page.Title, page.Content = extractHTML(string(body))
	case strings.HasPrefix(mediaType, "text/") || utf8.Valid(body):
		page.Content = strings.TrimSpace(string(body))
	default:
		page.Content = fmt.Sprintf("Binary content (%s), %d bytes", contentType, len(body))
	}

	page.Content, page.Truncated = truncateRunes(page.Content, maxChars)

	f.logger.Debug("page fetched",
		"url", rawURL,
		"status", resp.StatusCode,
		"bytes", len(body),
		"chars", utf8.RuneCountInString(page.Content),
		"truncated", page.Truncated,
		"elapsed", time.Since(start),
	)
	return page, nil
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) (string, bool) {
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}

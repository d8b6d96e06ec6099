// Package search provides a pluggable web search interface for the agent.
//
// Each search provider implements the [Provider] interface and is
// registered by name. The [Manager] routes queries to the primary
// provider (or a named one), caches responses for a short time and
// shares one token bucket across providers so a chatty model cannot
// burn through an API quota.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// ErrMissingAPIKey is returned by providers that need a key and have none.
var ErrMissingAPIKey = errors.New("API key is missing")

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`

	// RawContent is the extracted page text when the provider supplies it.
	RawContent string `json:"raw_content,omitempty"`

	// Score is the provider's relevance score, 0 when unknown.
	Score float64 `json:"score,omitempty"`
}

// Response is the outcome of one query.
type Response struct {
	Provider string   `json:"provider"`
	Query    string   `json:"query"`
	Answer   string   `json:"answer,omitempty"`
	Results  []Result `json:"results"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return.
	// Providers may return fewer. Zero means the manager default.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 language code (e.g., "en", "de").
	Language string `json:"language,omitempty"`

	// IncludeAnswer asks for a provider-generated short answer.
	IncludeAnswer bool `json:"include_answer,omitempty"`

	// IncludeRawContent asks for extracted page text with each result.
	IncludeRawContent bool `json:"include_raw_content,omitempty"`

	// Depth is "basic" or "advanced" for providers that support it.
	Depth string `json:"depth,omitempty"`
}

func (o Options) cacheKey(provider, query string) string {
	return fmt.Sprintf("%s|%s|%d|%s|%t|%t|%s", provider, strings.ToLower(strings.TrimSpace(query)),
		o.Count, o.Language, o.IncludeAnswer, o.IncludeRawContent, o.Depth)
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "tavily", "brave").
	Name() string

	// Search executes a query.
	Search(ctx context.Context, query string, opts Options) (*Response, error)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Primary names the provider used by Search.
	Primary string

	// Defaults fill in unset Options fields. Boolean flags are OR-ed.
	Defaults Options

	// CacheSize and CacheTTL bound the response cache. CacheSize <= 0
	// disables caching.
	CacheSize int
	CacheTTL  time.Duration

	// RatePerSecond <= 0 disables rate limiting.
	RatePerSecond float64
	Burst         int

	Logger *slog.Logger
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers map[string]Provider
	primary   string
	defaults  Options
	cache     *expirable.LRU[string, *Response]
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewManager creates a search manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		providers: make(map[string]Provider),
		primary:   cfg.Primary,
		defaults:  cfg.Defaults,
		logger:    logger.With("component", "search"),
	}
	if cfg.CacheSize > 0 {
		m.cache = expirable.NewLRU[string, *Response](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return m
}

// Register adds a provider to the manager.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Search runs a query against the primary provider.
func (m *Manager) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	return m.SearchWith(ctx, m.primary, query, opts)
}

// SearchWith runs a query against a specific named provider.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) (*Response, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", provider)
	}
	opts = m.withDefaults(opts)

	key := opts.cacheKey(provider, query)
	if m.cache != nil {
		if resp, ok := m.cache.Get(key); ok {
			m.logger.Debug("search cache hit", "provider", provider, "query", query)
			return resp, nil
		}
	}

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("search rate limit: %w", err)
		}
	}

	start := time.Now()
	resp, err := p.Search(ctx, query, opts)
	if err != nil {
		m.logger.Warn("search failed", "provider", provider, "query", query, "error", err)
		return nil, err
	}
	resp.Provider = provider
	if resp.Query == "" {
		resp.Query = query
	}
	m.logger.Debug("search complete",
		"provider", provider,
		"query", query,
		"results", len(resp.Results),
		"has_answer", resp.Answer != "",
		"elapsed", time.Since(start),
	)

	if m.cache != nil {
		m.cache.Add(key, resp)
	}
	return resp, nil
}

func (m *Manager) withDefaults(o Options) Options {
	if o.Count <= 0 {
		o.Count = m.defaults.Count
	}
	if o.Language == "" {
		o.Language = m.defaults.Language
	}
	if o.Depth == "" {
		o.Depth = m.defaults.Depth
	}
	o.IncludeAnswer = o.IncludeAnswer || m.defaults.IncludeAnswer
	o.IncludeRawContent = o.IncludeRawContent || m.defaults.IncludeRawContent
	return o
}

// Providers returns the names of all registered providers, sorted.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Configured reports whether the primary provider is registered.
func (m *Manager) Configured() bool {
	_, ok := m.providers[m.primary]
	return ok
}

// Package config handles easyso configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"

	"github.com/easyso/easyso/internal/paths"
)

// DefaultThreadID is the conversation thread used when neither the config
// file, the environment, nor the command line names one.
const DefaultThreadID = "Easyso2025"

// Stream modes accepted by [Config.StreamMode].
const (
	StreamValues = "values"
	StreamTokens = "tokens"
)

// ErrNoConfig is returned by FindConfig when no explicit path was given
// and nothing exists at the default search paths.
var ErrNoConfig = errors.New("no config file found")

// DefaultSearchPaths returns the config file search order:
// ./easyso.yaml, ~/.config/easyso/config.yaml, /etc/easyso/config.yaml.
func DefaultSearchPaths() []string {
	candidates := []string{"easyso.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "easyso", "config.yaml"))
	}

	candidates = append(candidates, "/etc/easyso/config.yaml")
	return candidates
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists,
// or an error wrapping [ErrNoConfig].
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// LoadDotEnv reads KEY=VALUE pairs from path into the process environment.
// Variables that are already set are left alone. A missing file is not an
// error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Config holds all easyso configuration.
type Config struct {
	// ThreadID scopes conversation history and checkpoints.
	ThreadID string `yaml:"thread_id"`

	// Prompt is printed before each line of input.
	Prompt string `yaml:"prompt"`

	// StreamMode is "values" (print each message snapshot) or "tokens"
	// (print text fragments as they arrive).
	StreamMode string `yaml:"stream_mode"`

	// MaxHistoryTurns bounds how many recorded turns are sent with each
	// request. Zero sends everything.
	MaxHistoryTurns int `yaml:"max_history_turns"`

	// MaxIterations caps model calls per turn.
	MaxIterations int `yaml:"max_iterations"`

	// PromptFile replaces the built-in system prompt template.
	PromptFile string `yaml:"prompt_file"`

	Models     ModelsConfig     `yaml:"models"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	Search     SearchConfig     `yaml:"search"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Retry      RetryConfig      `yaml:"retry"`

	// Pricing maps model names to per-million-token costs used for
	// usage accounting. Models without an entry are recorded at zero.
	Pricing map[string]PricingEntry `yaml:"pricing"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json
}

// ModelsConfig defines model routing settings.
type ModelsConfig struct {
	Default   string        `yaml:"default"`
	Available []ModelConfig `yaml:"available"`
}

// ModelConfig maps a model name to the provider that serves it.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // openai, anthropic
}

// OpenAIConfig defines OpenAI-compatible chat completions settings.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// SearchConfig configures web search providers and the shared
// cache and rate limiter in front of them.
type SearchConfig struct {
	// Default names the primary provider: tavily, brave or searxng.
	Default string `yaml:"default"`

	MaxResults        int    `yaml:"max_results"`
	IncludeAnswer     bool   `yaml:"include_answer"`
	IncludeRawContent bool   `yaml:"include_raw_content"`
	Depth             string `yaml:"depth"` // basic or advanced

	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`

	// RatePerSecond and Burst shape the token bucket shared by all
	// providers. RatePerSecond <= 0 disables limiting.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`

	Tavily  TavilyConfig  `yaml:"tavily"`
	Brave   BraveConfig   `yaml:"brave"`
	SearXNG SearXNGConfig `yaml:"searxng"`
}

// TavilyConfig holds Tavily search credentials.
type TavilyConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// BraveConfig holds Brave Search credentials.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// SearXNGConfig points at a self-hosted SearXNG instance.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// Configured reports whether a SearXNG URL is set.
func (c SearXNGConfig) Configured() bool { return c.URL != "" }

// FetchConfig controls the web_fetch tool.
type FetchConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxChars int  `yaml:"max_chars"`
}

// CheckpointConfig controls conversation persistence.
type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Driver  string `yaml:"driver"` // sqlite (pure Go) or sqlite3 (cgo)
}

// PricingEntry is the USD cost per million tokens for a model.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// RetryConfig bounds how often a turn is retried after a transient
// provider failure.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded, unset fields keep their [Default] values, and
// empty credentials are filled from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns the configuration used when no file is found.
// Credentials come from the environment.
func Default() *Config {
	cfg := &Config{
		ThreadID:        DefaultThreadID,
		Prompt:          ">",
		StreamMode:      StreamValues,
		MaxHistoryTurns: 40,
		MaxIterations:   8,
		Models: ModelsConfig{
			Default: "gpt-4o-mini",
			Available: []ModelConfig{
				{Name: "gpt-4o-mini", Provider: "openai"},
				{Name: "gpt-4o", Provider: "openai"},
			},
		},
		Search: SearchConfig{
			Default:           "tavily",
			MaxResults:        2,
			IncludeAnswer:     true,
			IncludeRawContent: true,
			Depth:             "basic",
			CacheSize:         128,
			CacheTTL:          10 * time.Minute,
			RatePerSecond:     1,
			Burst:             3,
		},
		Fetch: FetchConfig{
			Enabled:  true,
			MaxChars: 8000,
		},
		Checkpoint: CheckpointConfig{
			Enabled: true,
			Path:    "checkpoints.sqlite",
			Driver:  "sqlite",
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		Pricing: map[string]PricingEntry{
			"gpt-4o-mini": {InputPerMillion: 0.15, OutputPerMillion: 0.60},
			"gpt-4o":      {InputPerMillion: 2.50, OutputPerMillion: 10.00},
		},
		LogLevel:  "warn",
		LogFormat: "text",
	}
	cfg.applyEnv()
	return cfg
}

// applyEnv fills empty credentials from well-known environment variables.
// EASYSO_THREAD_ID replaces the thread id even when the file sets one.
func (c *Config) applyEnv() {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	fill(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	fill(&c.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	fill(&c.Search.Tavily.APIKey, "TAVILY_API_KEY")
	fill(&c.Search.Brave.APIKey, "BRAVE_API_KEY")

	if v := os.Getenv("EASYSO_THREAD_ID"); v != "" {
		c.ThreadID = v
	}
}

func (c *Config) applyDefaults() {
	if c.ThreadID == "" {
		c.ThreadID = DefaultThreadID
	}
	if c.Prompt == "" {
		c.Prompt = ">"
	}
	if c.StreamMode == "" {
		c.StreamMode = StreamValues
	}
	if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = "checkpoints.sqlite"
	}
	c.Checkpoint.Path = paths.ExpandHome(c.Checkpoint.Path)
	c.PromptFile = paths.ExpandHome(c.PromptFile)
	if c.Checkpoint.Driver == "" {
		c.Checkpoint.Driver = "sqlite"
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = 2
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 8
	}
}

// Validate checks the configuration for values that cannot work.
// Missing credentials are not checked here: they surface as errors from
// the provider that needs them.
func (c *Config) Validate() error {
	var errs []error

	switch c.StreamMode {
	case StreamValues, StreamTokens:
	default:
		errs = append(errs, fmt.Errorf("stream_mode %q must be %q or %q", c.StreamMode, StreamValues, StreamTokens))
	}

	switch c.Checkpoint.Driver {
	case "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("checkpoint.driver %q must be sqlite or sqlite3", c.Checkpoint.Driver))
	}

	switch strings.ToLower(c.Search.Default) {
	case "", "tavily", "brave", "searxng":
	default:
		errs = append(errs, fmt.Errorf("search.default %q is not a known provider", c.Search.Default))
	}

	if c.Models.Default == "" {
		errs = append(errs, errors.New("models.default is required"))
	}
	for _, m := range c.Models.Available {
		switch m.Provider {
		case "openai", "anthropic":
		default:
			errs = append(errs, fmt.Errorf("model %q: unknown provider %q", m.Name, m.Provider))
		}
	}

	if c.MaxHistoryTurns < 0 {
		errs = append(errs, errors.New("max_history_turns must not be negative"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ProviderFor returns the provider configured for model. Unlisted models
// whose name starts with "claude" go to anthropic; everything else goes
// to openai.
func (c *Config) ProviderFor(model string) string {
	for _, m := range c.Models.Available {
		if m.Name == model {
			return m.Provider
		}
	}
	if strings.HasPrefix(model, "claude") {
		return "anthropic"
	}
	return "openai"
}

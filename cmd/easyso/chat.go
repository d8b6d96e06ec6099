package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/easyso/easyso/internal/agent"
	"github.com/easyso/easyso/internal/chat"
	"github.com/easyso/easyso/internal/checkpoint"
	"github.com/easyso/easyso/internal/config"
	"github.com/easyso/easyso/internal/fetch"
	"github.com/easyso/easyso/internal/llm"
	"github.com/easyso/easyso/internal/prompts"
	"github.com/easyso/easyso/internal/search"
	"github.com/easyso/easyso/internal/tools"
	"github.com/easyso/easyso/internal/usage"
)

// runChat wires every collaborator from config and runs the
// conversation loop. A non-empty message runs one turn and returns.
func runChat(ctx context.Context, opts *options, stdin io.Reader, stdout, stderr io.Writer, message string) error {
	cfg, cfgPath, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, cfg)
	if cfgPath == "" {
		logger.Info("no config file found, using defaults")
	} else {
		logger.Info("config loaded", "path", cfgPath)
	}

	llmClient := createLLMClient(cfg, logger)
	registry := createTools(cfg, logger)

	systemPrompt, err := renderSystemPrompt(cfg, registry, time.Now())
	if err != nil {
		return err
	}

	ag := agent.New(agent.Config{
		Client:        llmClient,
		Model:         cfg.Models.Default,
		Tools:         registry,
		SystemPrompt:  systemPrompt,
		MaxIterations: cfg.MaxIterations,
		Logger:        logger,
	})

	var cp chat.Checkpointer
	var meter chat.UsageRecorder
	if cfg.Checkpoint.Enabled {
		store, err := checkpoint.Open(cfg.Checkpoint.Path, cfg.Checkpoint.Driver, logger)
		if err != nil {
			return fmt.Errorf("open checkpoint store: %w", err)
		}
		defer store.Close()
		cp = store

		usageStore, err := usage.NewStore(store.DB())
		if err != nil {
			return err
		}
		meter = &usageRecorder{
			store:    usageStore,
			model:    cfg.Models.Default,
			provider: cfg.ProviderFor(cfg.Models.Default),
			pricing:  cfg.Pricing,
		}
	}

	controller, err := chat.New(chat.Config{
		Agent:         ag,
		Checkpointer:  cp,
		Usage:         meter,
		ThreadID:      cfg.ThreadID,
		Mode:          streamMode(cfg),
		Prompt:        cfg.Prompt,
		In:            stdin,
		Out:           stdout,
		Logger:        logger,
		HistoryWindow: cfg.MaxHistoryTurns,
		Retry: chat.RetryPolicy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
		},
		Model: cfg.Models.Default,
	})
	if err != nil {
		return err
	}

	if err := controller.Resume(ctx); err != nil {
		return err
	}

	logger.Info("conversation ready",
		"thread", cfg.ThreadID,
		"model", cfg.Models.Default,
		"mode", cfg.StreamMode,
		"checkpoint", cfg.Checkpoint.Enabled,
		"tools", registry.Names(),
	)

	if message != "" {
		if _, err := controller.Ask(ctx, message); err != nil {
			return fmt.Errorf("chat: %w", err)
		}
		return nil
	}
	return controller.Run(ctx)
}

// newLogger creates the process logger. Logs go to w so they never
// interleave with conversation output on stdout.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	// Validate has already rejected unparseable levels.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return config.NewLogger(w, level, cfg.LogFormat)
}

// createLLMClient builds a multi-provider client. Models not listed in
// config are routed by name prefix.
func createLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	openai := llm.NewOpenAIClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, logger)
	anthropic := llm.NewAnthropicClient(cfg.Anthropic.BaseURL, cfg.Anthropic.APIKey, logger)

	multi := llm.NewMultiClient(nil)
	multi.AddProvider("openai", openai)
	multi.AddProvider("anthropic", anthropic)

	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider)
	}
	multi.AddModel(cfg.Models.Default, cfg.ProviderFor(cfg.Models.Default))

	logger.Debug("LLM client initialized",
		"default_model", cfg.Models.Default,
		"default_provider", cfg.ProviderFor(cfg.Models.Default),
	)
	return multi
}

// createTools registers web_search and, when enabled, web_fetch.
func createTools(cfg *config.Config, logger *slog.Logger) *tools.Registry {
	primary := strings.ToLower(cfg.Search.Default)
	if primary == "" {
		primary = "tavily"
	}
	mgr := search.NewManager(search.ManagerConfig{
		Primary: primary,
		Defaults: search.Options{
			Count:             cfg.Search.MaxResults,
			IncludeAnswer:     cfg.Search.IncludeAnswer,
			IncludeRawContent: cfg.Search.IncludeRawContent,
			Depth:             cfg.Search.Depth,
		},
		CacheSize:     cfg.Search.CacheSize,
		CacheTTL:      cfg.Search.CacheTTL,
		RatePerSecond: cfg.Search.RatePerSecond,
		Burst:         cfg.Search.Burst,
		Logger:        logger,
	})

	// Tavily is always registered; a missing key surfaces as a tool
	// error the model can react to.
	mgr.Register(search.NewTavily(cfg.Search.Tavily.APIKey, cfg.Search.Tavily.BaseURL, logger))
	if cfg.Search.Brave.APIKey != "" || primary == "brave" {
		mgr.Register(search.NewBrave(cfg.Search.Brave.APIKey, ""))
	}
	if cfg.Search.SearXNG.Configured() {
		mgr.Register(search.NewSearXNG(cfg.Search.SearXNG.URL))
	}

	registry := tools.NewRegistry(logger)
	registry.Register(tools.SearchTool(mgr))
	if cfg.Fetch.Enabled {
		registry.Register(tools.FetchTool(fetch.New(cfg.Fetch.MaxChars, logger)))
	}

	logger.Debug("search configured", "primary", primary, "providers", mgr.Providers())
	return registry
}

// renderSystemPrompt renders the ReAct prompt, or the configured
// override, over the registered tools.
func renderSystemPrompt(cfg *config.Config, registry *tools.Registry, now time.Time) (string, error) {
	text, err := prompts.Load(cfg.PromptFile)
	if err != nil {
		return "", err
	}

	var infos []prompts.ToolInfo
	for _, t := range registry.Tools() {
		infos = append(infos, prompts.ToolInfo{Name: t.Name, Description: t.Description})
	}

	out, err := prompts.Render(text, prompts.NewData(infos, now))
	if err != nil {
		return "", fmt.Errorf("system prompt: %w", err)
	}
	return out, nil
}

// usageRecorder adapts usage.Store to chat.UsageRecorder, pricing each
// turn from the config's pricing table.
type usageRecorder struct {
	store    *usage.Store
	model    string
	provider string
	pricing  map[string]config.PricingEntry
}

func (u *usageRecorder) RecordTurn(ctx context.Context, threadID string, res *agent.Result) error {
	return u.store.Record(ctx, usage.Record{
		ThreadID:     threadID,
		Model:        u.model,
		Provider:     u.provider,
		Iterations:   res.Iterations,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		CostUSD:      usage.ComputeCost(u.model, res.InputTokens, res.OutputTokens, u.pricing),
	})
}

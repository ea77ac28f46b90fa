package provider

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/beocch/telegram-ai-assistant/internal/config"
	"github.com/beocch/telegram-ai-assistant/internal/domain"
)

// New builds a fresh adapter for the named provider kind with the given
// credential and model. Used by the router when a user supplied their own
// API key: the adapter is scoped to that single call, never cached.
func New(kind, apiKey, model string, logger *slog.Logger) (domain.Provider, error) {
	params := domain.Params{MaxTokens: defaultMaxTokens, Temperature: defaultTemperature}
	switch kind {
	case "openai":
		return NewOpenAI(OpenAIConfig{APIKey: apiKey, Model: model, Params: params, Logger: logger}), nil
	case "claude":
		return NewClaude(ClaudeConfig{APIKey: apiKey, Model: model, Params: params, Logger: logger}), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", kind)
	}
}

// FromConfig builds the process-wide adapters for every enabled provider in
// the config. Names come back sorted so registration order, and with it the
// implicit default, is deterministic.
func FromConfig(cfg *config.Config, logger *slog.Logger) ([]string, map[string]domain.Provider) {
	providers := make(map[string]domain.Provider)

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	var enabled []string
	for _, name := range names {
		pc := cfg.Providers[name]
		// An unresolved ${VAR} placeholder means the env var was never set.
		if !pc.Enabled || pc.APIKey == "" || strings.HasPrefix(pc.APIKey, "${") {
			continue
		}
		params := domain.Params{MaxTokens: pc.MaxTokens, Temperature: pc.Temperature}
		switch name {
		case "openai":
			providers[name] = NewOpenAI(OpenAIConfig{
				APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel,
				Params: params, Logger: logger,
			})
		case "claude":
			providers[name] = NewClaude(ClaudeConfig{
				APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel,
				Params: params, Logger: logger,
			})
		default:
			logger.Warn("skipping unknown provider in config", "provider", name)
			continue
		}
		enabled = append(enabled, name)
	}

	return enabled, providers
}

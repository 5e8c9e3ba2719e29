package llm

import (
	"fmt"
	"log/slog"

	"github.com/bdobrica/Ely/internal/ely/config"
)

// New builds the Provider selected by cfg.Provider.
func New(cfg config.LLMConfig, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderOpenRouter, "":
		return NewOpenAI(OpenAIConfig{
			Name:        config.ProviderOpenRouter,
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
			Logger:      logger,
		}), nil
	case config.ProviderOpenAI:
		base := cfg.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		model := cfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		return NewOpenAI(OpenAIConfig{
			Name:        config.ProviderOpenAI,
			APIKey:      cfg.APIKey,
			BaseURL:     base,
			Model:       model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
			Logger:      logger,
		}), nil
	case config.ProviderGemini:
		return NewGemini(GeminiConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
			Logger:      logger,
		}), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

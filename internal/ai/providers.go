package ai

import (
	"context"

	"github.com/suPer8Hu/ai-salesbot/internal/config"
)

// NewDefaultRegistry registers the chat backends configured by env.
func NewDefaultRegistry(cfg config.Config) *Registry {
	reg := NewRegistry()
	reg.Register("groq", func(_ context.Context, model string) (Provider, error) {
		if model == "" {
			model = cfg.GroqModel
		}
		return NewOpenAIProvider("groq", cfg.GroqBaseURL, cfg.GroqAPIKey, model, cfg.LLMTemperature), nil
	})
	reg.Register("openrouter", func(_ context.Context, model string) (Provider, error) {
		if model == "" {
			model = cfg.OpenRouterModel
		}
		p := NewOpenAIProvider("openrouter", cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, model, cfg.LLMTemperature)
		p.SiteURL = cfg.OpenRouterSiteURL
		p.AppName = cfg.OpenRouterAppName
		return p, nil
	})
	reg.Register("ollama", func(_ context.Context, model string) (Provider, error) {
		if model == "" {
			model = cfg.OllamaModel
		}
		return NewOllamaProvider(cfg.OllamaBaseURL, model, cfg.LLMTemperature), nil
	})
	return reg
}

// Package providers holds the language-model backends behind generator.Provider.
package providers

import (
	"fmt"
	"net/http"

	"github.com/cyderes/content-planner/internal/config"
	"github.com/cyderes/content-planner/internal/generator"
)

// Supported LLM_PROVIDER values
const (
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// New returns the provider selected by cfg.Provider
func New(cfg config.GeneratorConfig) (generator.Provider, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature, &http.Client{Timeout: cfg.Timeout}), nil
	case ProviderGemini:
		return NewGeminiProvider(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.Temperature, cfg.MaxTokens), nil
	case ProviderAnthropic:
		return NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.Temperature, cfg.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}

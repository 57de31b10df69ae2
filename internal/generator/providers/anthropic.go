package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cyderes/content-planner/internal/apperr"
)

// AnthropicProvider implements generator.Provider using Anthropic's Messages API
type AnthropicProvider struct {
	client      *anthropic.Client
	hasKey      bool
	model       string
	temperature float64
	maxTokens   int64
}

// NewAnthropicProvider creates a new Anthropic provider. SDK retries are
// disabled; each Complete makes at most one request.
func NewAnthropicProvider(apiKey, model string, temperature float64, maxTokens int, opts ...option.RequestOption) *AnthropicProvider {
	base := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	client := anthropic.NewClient(append(base, opts...)...)
	return &AnthropicProvider{
		client:      &client,
		hasKey:      apiKey != "",
		model:       model,
		temperature: temperature,
		maxTokens:   int64(maxTokens),
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string { return ProviderAnthropic }

// Complete sends the prompts to Claude and returns the text of the reply
func (p *AnthropicProvider) Complete(ctx context.Context, system, user string) (string, error) {
	if !p.hasKey {
		return "", &apperr.GenerationError{Message: "ANTHROPIC_API_KEY is not configured"}
	}

	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   p.maxTokens,
		Temperature: anthropic.Float(p.temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &apperr.GenerationError{StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
		}
		return "", fmt.Errorf("failed to call Claude API: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

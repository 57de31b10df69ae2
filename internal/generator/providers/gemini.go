package providers

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/cyderes/content-planner/internal/apperr"
)

// GeminiProvider calls Google's Gemini API through the genai SDK
type GeminiProvider struct {
	apiKey      string
	model       string
	temperature float32
	maxTokens   int32

	mu        sync.Mutex
	client    *genai.Client
	newClient func(ctx context.Context, cc *genai.ClientConfig) (*genai.Client, error)
}

// NewGeminiProvider creates a new Gemini provider. The SDK client is created
// on first use so a missing key does not prevent startup.
func NewGeminiProvider(apiKey, model string, temperature float64, maxTokens int) *GeminiProvider {
	return &GeminiProvider{
		apiKey:      apiKey,
		model:       model,
		temperature: float32(temperature),
		maxTokens:   int32(maxTokens),
		newClient:   genai.NewClient,
	}
}

// genaiClient returns the cached SDK client. A failed construction is not
// cached, so the next call tries again.
func (p *GeminiProvider) genaiClient(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	client, err := p.newClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	p.client = client
	return client, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string { return ProviderGemini }

// Complete sends the prompts and returns the JSON text of the first candidate
func (p *GeminiProvider) Complete(ctx context.Context, system, user string) (string, error) {
	if p.apiKey == "" {
		return "", &apperr.GenerationError{Message: "GEMINI_API_KEY is not configured"}
	}

	client, err := p.genaiClient(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create genai client: %w", err)
	}

	resp, err := client.Models.GenerateContent(ctx, p.model,
		[]*genai.Content{genai.NewContentFromText(user, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
			ResponseMIMEType:  "application/json",
			Temperature:       genai.Ptr(p.temperature),
			MaxOutputTokens:   p.maxTokens,
		},
	)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	return resp.Text(), nil
}

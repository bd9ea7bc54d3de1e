package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// ProviderConfig selects and configures the underlying model provider
type ProviderConfig struct {
	Provider  string // "gemini" or "openai"
	APIKey    string
	Model     string
	MaxTokens int
}

// NewModel constructs a langchaingo model for the configured provider
func NewModel(ctx context.Context, cfg ProviderConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "gemini", "googleai":
		opts := []googleai.Option{
			googleai.WithAPIKey(cfg.APIKey),
			googleai.WithDefaultModel(cfg.Model),
		}
		if cfg.MaxTokens > 0 {
			opts = append(opts, googleai.WithDefaultMaxTokens(cfg.MaxTokens))
		}
		model, err := googleai.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gemini model: %w", err)
		}
		return model, nil

	case "openai":
		model, err := openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai model: %w", err)
		}
		return model, nil

	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
}

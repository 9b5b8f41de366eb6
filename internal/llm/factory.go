package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/abhisek/doctorai/internal/store"
)

// NewProvider creates a Provider from configuration.
// It returns the provider wrapped with retry, timeout and logging middleware.
// A nil eventRepo disables usage recording; a nil logger disables logging.
func NewProvider(ctx context.Context, cfg Config, eventRepo store.EventRepo, logger *zap.Logger) (Provider, error) {
	var base Provider
	var err error

	switch cfg.Provider {
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.Anthropic)
	case "openai":
		base, err = NewOpenAIProvider(cfg.OpenAI)
	case "gemini":
		base, err = NewGeminiProvider(ctx, cfg.Gemini)
	case "openrouter":
		base, err = NewOpenRouterProvider(cfg.OpenRouter)
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}

	if eventRepo == nil {
		eventRepo = store.NopEventRepo{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Wrap with middleware: caller → retry → timeout → logging → base
	logged := WithLogging(base, cfg.Provider, eventRepo, logger)
	bounded := WithTimeout(logged, cfg.Timeout)
	retried := WithRetry(bounded, cfg.Retry, logger)

	return retried, nil
}

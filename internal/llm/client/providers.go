package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Default model per provider when none is configured.
var defaultModels = map[string]string{
	"openai":     "gpt-5-mini",
	"anthropic":  "claude-sonnet-4-5",
	"gemini":     "gemini-2.5-flash",
	"openrouter": "openai/gpt-5-mini",
}

// Options selects and configures a completion backend.
type Options struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
	Logger    *zap.Logger
}

// CanonicalProvider folds provider aliases onto the ids used for keyring
// entries and the model catalog.
func CanonicalProvider(provider string) string {
	switch p := strings.ToLower(strings.TrimSpace(provider)); p {
	case "claude":
		return "anthropic"
	case "google":
		return "gemini"
	case "openai-compatible", "compat":
		return "openai-compatible"
	default:
		return p
	}
}

// DefaultModel returns the built-in model for a provider.
func DefaultModel(provider string) string {
	return defaultModels[CanonicalProvider(provider)]
}

// New instantiates the backend named by opts.Provider.
func New(ctx context.Context, opts Options) (CompletionService, error) {
	provider := CanonicalProvider(opts.Provider)
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("API key for %s is not configured", provider)
	}
	modelName := strings.TrimSpace(opts.Model)
	if modelName == "" {
		modelName = DefaultModel(provider)
	}
	if modelName == "" {
		return nil, fmt.Errorf("model is required for provider %s", provider)
	}

	clientOpts := []ClientOption{
		WithTimeout(opts.Timeout),
		WithMaxTokens(opts.MaxTokens),
		WithLogger(opts.Logger),
	}

	switch provider {
	case "openai":
		cfg := &openai.ChatModelConfig{
			APIKey: opts.APIKey,
			Model:  modelName,
		}
		if opts.BaseURL != "" {
			cfg.BaseURL = opts.BaseURL
		}
		chat, err := openai.NewChatModel(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		return NewLLMClient(chat, provider, modelName, clientOpts...), nil
	case "anthropic":
		maxTokens := opts.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 8192
		}
		cfg := &claude.Config{
			APIKey:    opts.APIKey,
			Model:     modelName,
			MaxTokens: maxTokens,
		}
		if opts.BaseURL != "" {
			baseURL := opts.BaseURL
			cfg.BaseURL = &baseURL
		}
		chat, err := claude.NewChatModel(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic client: %w", err)
		}
		return NewLLMClient(chat, provider, modelName, clientOpts...), nil
	case "gemini":
		gc, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  opts.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		chat, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client: gc,
			Model:  modelName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini chat model: %w", err)
		}
		return NewLLMClient(chat, provider, modelName, clientOpts...), nil
	case "openrouter", "openai-compatible":
		return NewCompatClient(provider, modelName, opts.APIKey, opts.BaseURL, opts.MaxTokens, opts.Timeout, opts.Logger)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", opts.Provider)
	}
}

package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"narraweave/internal/models"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// CompatClient talks to any OpenAI-compatible chat completions endpoint
// (OpenRouter, local gateways) through the official SDK.
type CompatClient struct {
	provider  string
	modelName string
	maxTokens int
	timeout   time.Duration
	opts      []option.RequestOption
	logger    *zap.Logger
}

func NewCompatClient(provider, modelName, apiKey, baseURL string, maxTokens int, timeout time.Duration, logger *zap.Logger) (*CompatClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%s api key missing", provider)
	}
	if strings.TrimSpace(modelName) == "" {
		return nil, fmt.Errorf("%s model is required", provider)
	}
	if baseURL == "" && provider == "openrouter" {
		baseURL = openRouterBaseURL
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompatClient{
		provider:  provider,
		modelName: modelName,
		maxTokens: maxTokens,
		timeout:   timeout,
		opts:      opts,
		logger:    logger,
	}, nil
}

func (c *CompatClient) Generate(ctx context.Context, prompt Prompt, format Format) (*Result, error) {
	client := openai.NewClient(c.opts...)

	var msgs []openai.ChatCompletionMessageParamUnion
	if strings.TrimSpace(prompt.System) != "" {
		msgs = append(msgs, openai.SystemMessage(prompt.System))
	}
	msgs = append(msgs, openai.UserMessage(prompt.User))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.modelName),
		Messages: msgs,
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := client.Chat.Completions.New(callCtx, params)
	elapsed := time.Since(start)
	if err != nil {
		return nil, classifyCallError(ctx, c.provider, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: %s: empty choices", models.ErrBackendUnavailable, c.provider)
	}

	raw := resp.Choices[0].Message.Content
	c.logger.Debug("completion finished",
		zap.String("prompt", prompt.Name),
		zap.String("provider", c.provider),
		zap.String("model", c.modelName),
		zap.Duration("elapsed", elapsed),
	)
	return &Result{
		Text:     Normalize(raw, format),
		Raw:      raw,
		Format:   format,
		Model:    c.modelName,
		Duration: elapsed,
		Usage: &Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

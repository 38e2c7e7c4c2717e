package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"narraweave/internal/models"
	"narraweave/internal/utils"
)

// Format is the shape of output a caller expects back.
type Format string

const (
	FormatFreeText       Format = "free_text"
	FormatStructuredJSON Format = "structured_json"
	FormatPatchText      Format = "patch_text"
)

// Prompt is one rendered request.
type Prompt struct {
	Name   string
	System string
	User   string
}

// Usage is the token accounting reported by the backend, when available.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Result is a completion normalized for the requested format. Text is never
// trusted: callers validate it.
type Result struct {
	Text     string
	Raw      string
	Format   Format
	Model    string
	Usage    *Usage
	Duration time.Duration
}

// CompletionService is the only way the engine talks to a text generation
// backend. Failures to reach the backend wrap models.ErrBackendUnavailable.
type CompletionService interface {
	Generate(ctx context.Context, prompt Prompt, format Format) (*Result, error)
}

// ChatModel is the subset of eino's chat model interface the client needs.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// LLMClient adapts an eino chat model to CompletionService.
type LLMClient struct {
	chat      ChatModel
	provider  string
	modelName string
	timeout   time.Duration
	maxTokens int
	logger    *zap.Logger
}

type ClientOption func(*LLMClient)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *LLMClient) { c.timeout = d }
}

func WithMaxTokens(n int) ClientOption {
	return func(c *LLMClient) { c.maxTokens = n }
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *LLMClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewLLMClient(chat ChatModel, provider, modelName string, opts ...ClientOption) *LLMClient {
	c := &LLMClient{
		chat:      chat,
		provider:  provider,
		modelName: modelName,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *LLMClient) Provider() string { return c.provider }
func (c *LLMClient) Model() string    { return c.modelName }

func (c *LLMClient) Generate(ctx context.Context, prompt Prompt, format Format) (*Result, error) {
	if c == nil || c.chat == nil {
		return nil, fmt.Errorf("%w: client not configured", models.ErrBackendUnavailable)
	}
	messages := make([]*schema.Message, 0, 2)
	if strings.TrimSpace(prompt.System) != "" {
		messages = append(messages, schema.SystemMessage(prompt.System))
	}
	messages = append(messages, schema.UserMessage(prompt.User))

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var opts []model.Option
	if c.maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(c.maxTokens))
	}

	start := time.Now()
	msg, err := c.chat.Generate(callCtx, messages, opts...)
	elapsed := time.Since(start)
	if err != nil {
		return nil, classifyCallError(ctx, c.provider, err)
	}

	raw := ""
	if msg != nil {
		raw = msg.Content
	}
	res := &Result{
		Text:     Normalize(raw, format),
		Raw:      raw,
		Format:   format,
		Model:    c.modelName,
		Duration: elapsed,
	}
	if msg != nil && msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		res.Usage = &Usage{
			PromptTokens:     msg.ResponseMeta.Usage.PromptTokens,
			CompletionTokens: msg.ResponseMeta.Usage.CompletionTokens,
		}
	}
	c.logger.Debug("completion finished",
		zap.String("prompt", prompt.Name),
		zap.String("provider", c.provider),
		zap.String("model", c.modelName),
		zap.String("format", string(format)),
		zap.Duration("elapsed", elapsed),
		zap.Int("chars", len(raw)),
	)
	return res, nil
}

// classifyCallError keeps caller cancellation distinguishable from backend
// failure; everything else is unavailability.
func classifyCallError(ctx context.Context, provider string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
		return fmt.Errorf("%s completion canceled: %w", provider, context.Canceled)
	}
	return fmt.Errorf("%w: %s: %v", models.ErrBackendUnavailable, provider, err)
}

// Normalize strips the wrapping models like to put around output.
func Normalize(raw string, format Format) string {
	switch format {
	case FormatStructuredJSON:
		if obj := utils.ExtractJSONObject(raw); obj != "" && json.Valid([]byte(obj)) {
			return obj
		}
		return utils.StripCodeFence(raw)
	case FormatPatchText:
		return strings.Trim(utils.StripCodeFence(utils.NormalizeNewlines(raw)), "\n") + "\n"
	default:
		return strings.TrimSpace(raw)
	}
}

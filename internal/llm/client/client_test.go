package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narraweave/internal/models"
)

type fakeChat struct {
	reply    string
	err      error
	block    bool
	received []*schema.Message
}

func (f *fakeChat) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.received = input
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &schema.Message{
		Role:    schema.Assistant,
		Content: f.reply,
		ResponseMeta: &schema.ResponseMeta{
			Usage: &schema.TokenUsage{PromptTokens: 12, CompletionTokens: 7},
		},
	}, nil
}

func TestGenerate_StructuredJSONStripsFence(t *testing.T) {
	chat := &fakeChat{reply: "Here you go:\n```json\n{\"confidence\": 0.9}\n```"}
	c := NewLLMClient(chat, "openai", "gpt-test")

	res, err := c.Generate(context.Background(), Prompt{System: "sys", User: "usr"}, FormatStructuredJSON)
	require.NoError(t, err)
	assert.Equal(t, `{"confidence": 0.9}`, res.Text)
	assert.Equal(t, "gpt-test", res.Model)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 12, res.Usage.PromptTokens)

	require.Len(t, chat.received, 2)
	assert.Equal(t, schema.System, chat.received[0].Role)
	assert.Equal(t, "usr", chat.received[1].Content)
}

func TestGenerate_SkipsEmptySystemMessage(t *testing.T) {
	chat := &fakeChat{reply: "ok"}
	c := NewLLMClient(chat, "openai", "m")

	_, err := c.Generate(context.Background(), Prompt{User: "hello"}, FormatFreeText)
	require.NoError(t, err)
	require.Len(t, chat.received, 1)
	assert.Equal(t, schema.User, chat.received[0].Role)
}

func TestGenerate_BackendErrorIsUnavailable(t *testing.T) {
	c := NewLLMClient(&fakeChat{err: errors.New("connection refused")}, "anthropic", "m")

	_, err := c.Generate(context.Background(), Prompt{User: "x"}, FormatFreeText)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
}

func TestGenerate_TimeoutIsUnavailable(t *testing.T) {
	c := NewLLMClient(&fakeChat{block: true}, "gemini", "m", WithTimeout(10*time.Millisecond))

	_, err := c.Generate(context.Background(), Prompt{User: "x"}, FormatFreeText)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
}

func TestGenerate_CallerCancelIsNotUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewLLMClient(&fakeChat{block: true}, "openai", "m")

	_, err := c.Generate(ctx, Prompt{User: "x"}, FormatFreeText)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, models.ErrBackendUnavailable)
}

func TestNormalize_PatchText(t *testing.T) {
	raw := "```diff\r\n--- a/x\r\n+++ b/x\r\n@@ -1 +1 @@\r\n-a\r\n+b\r\n```"
	assert.Equal(t, "--- a/x\n+++ b/x\n@@ -1 +1 @@\n-a\n+b\n", Normalize(raw, FormatPatchText))
}

func TestNormalize_FreeTextTrims(t *testing.T) {
	assert.Equal(t, "hello", Normalize("  hello\n", FormatFreeText))
}

func TestRenderPrompt_FillsVariables(t *testing.T) {
	p, err := RenderPrompt(context.Background(), PromptSynthesizePatch, map[string]any{
		"path":        "chapter-outlines/chapters.yaml",
		"description": "retitle chapter 3",
		"feedback":    "change chapter 3's title",
		"numbered":    "1| metadata:",
	})
	require.NoError(t, err)
	assert.Equal(t, PromptSynthesizePatch, p.Name)
	assert.Contains(t, p.System, "--- a/chapter-outlines/chapters.yaml")
	assert.Contains(t, p.User, "retitle chapter 3")
}

func TestRenderPrompt_UnknownName(t *testing.T) {
	_, err := RenderPrompt(context.Background(), "nope", nil)
	assert.Error(t, err)
}

func TestPromptNames(t *testing.T) {
	assert.Equal(t, []string{
		PromptClassifyIntent,
		PromptEstimateChange,
		PromptRegenerate,
		PromptSynthesizePatch,
	}, PromptNames())
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), Options{Provider: "openai"})
	assert.Error(t, err)
}

func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New(context.Background(), Options{Provider: "nope", APIKey: "k", Model: "m"})
	assert.Error(t, err)
}

func TestCanonicalProvider(t *testing.T) {
	assert.Equal(t, "anthropic", CanonicalProvider("Claude"))
	assert.Equal(t, "gemini", CanonicalProvider("google"))
	assert.Equal(t, "openrouter", CanonicalProvider(" openrouter "))
}

package unit_tests

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narraweave/internal/llm/client"
	"narraweave/internal/models"
	"narraweave/internal/services"
	"narraweave/internal/tests/mocks"
)

func TestParseIntent_Valid(t *testing.T) {
	intent, err := services.ParseIntent([]byte(`{"target_type":"single-chapter-prose","target_id":"7","scope":"section","action":"Tighten","confidence":0.83,"scale_hint":"patch","description":" Tighten the opening "}`))
	require.NoError(t, err)
	assert.Equal(t, models.TargetChapterProse, intent.TargetType)
	require.NotNil(t, intent.TargetID)
	assert.Equal(t, 7, *intent.TargetID)
	assert.Equal(t, "tighten", intent.Action)
	assert.Equal(t, models.HintPatch, intent.ScaleHint)
	assert.Equal(t, "Tighten the opening", intent.Description)

	name, ok := intent.TargetArtifact()
	assert.True(t, ok)
	assert.Equal(t, models.ProseArtifact(7), name)
}

func TestParseIntent_LegacyTargetName(t *testing.T) {
	intent, err := services.ParseIntent([]byte(`{"target_type":"chapters","scope":"multiple","confidence":1}`))
	require.NoError(t, err)
	assert.Equal(t, models.TargetChapterOutlines, intent.TargetType)
	assert.Equal(t, models.HintUnclear, intent.ScaleHint)
}

func TestParseIntent_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown target": `{"target_type":"sequel","scope":"entire","confidence":0.9}`,
		"unknown scope":  `{"target_type":"premise","scope":"galaxy","confidence":0.9}`,
		"no confidence":  `{"target_type":"premise","scope":"entire"}`,
		"confidence > 1": `{"target_type":"premise","scope":"entire","confidence":1.5}`,
		"prose no id":    `{"target_type":"single-chapter-prose","scope":"entire","confidence":0.9}`,
		"bad id":         `{"target_type":"single-chapter-prose","target_id":-2,"scope":"entire","confidence":0.9}`,
		"bad hint":       `{"target_type":"premise","scope":"entire","confidence":0.9,"scale_hint":"maybe"}`,
		"not json":       `target: premise`,
	}
	for name, raw := range cases {
		_, err := services.ParseIntent([]byte(raw))
		assert.Error(t, err, name)
	}
}

func TestClassify_BackendErrorIsNotRetried(t *testing.T) {
	llm := &mocks.CompletionServiceMock{GenerateFunc: func(ctx context.Context, prompt client.Prompt, format client.Format) (*client.Result, error) {
		return nil, models.ErrBackendUnavailable
	}}
	classifier := services.NewIntentClassifier(llm, 1, 1000, nil)

	_, err := classifier.Classify(context.Background(), "darker", &models.UnifiedView{})
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
	assert.False(t, errors.Is(err, models.ErrClassification))
	assert.Len(t, llm.Calls, 1)
}

func TestClassify_EmptyFeedback(t *testing.T) {
	classifier := services.NewIntentClassifier(&mocks.CompletionServiceMock{}, 1, 1000, nil)
	_, err := classifier.Classify(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, models.ErrClassification)
}

func TestClassify_FencedAnswer(t *testing.T) {
	llm := &mocks.CompletionServiceMock{Responses: map[string][]string{
		client.PromptClassifyIntent: {"Here you go:\n```json\n" + intentJSON(t, "treatment", nil, "section", "adjust", 0.9, "x") + "\n```"},
	}}
	intent, err := services.NewIntentClassifier(llm, 0, 1000, nil).Classify(context.Background(), "adjust", nil)
	require.NoError(t, err)
	assert.Equal(t, models.TargetTreatment, intent.TargetType)
}

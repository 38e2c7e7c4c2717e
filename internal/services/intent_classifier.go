package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"narraweave/internal/llm/client"
	"narraweave/internal/models"
)

// IntentClassifier turns free-text feedback into a validated Intent.
type IntentClassifier struct {
	llm          client.CompletionService
	retries      int
	summaryLimit int
	logger       *zap.Logger
}

func NewIntentClassifier(llm client.CompletionService, retries, summaryLimit int, logger *zap.Logger) *IntentClassifier {
	if retries < 0 {
		retries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntentClassifier{
		llm:          llm,
		retries:      retries,
		summaryLimit: summaryLimit,
		logger:       logger.Named("classifier"),
	}
}

// rawIntent mirrors the JSON the backend returns. Pointers distinguish a
// missing field from a zero value.
type rawIntent struct {
	TargetType  *string         `json:"target_type"`
	TargetID    json.RawMessage `json:"target_id"`
	Scope       *string         `json:"scope"`
	Action      string          `json:"action"`
	Confidence  *float64        `json:"confidence"`
	ScaleHint   string          `json:"scale_hint"`
	Description string          `json:"description"`
}

// Classify asks the backend for an intent. A malformed answer is retried
// with the validation error fed back; backend failures are not retried.
func (c *IntentClassifier) Classify(ctx context.Context, feedback string, view *models.UnifiedView) (models.Intent, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return models.Intent{}, &models.ClassificationError{Attempts: 0, Err: errors.New("feedback is empty")}
	}
	summary := ""
	if view != nil {
		summary = view.Summary(c.summaryLimit)
	}

	var (
		lastErr error
		lastRaw string
		retry   string
	)
	attempts := c.retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		prompt, err := client.RenderPrompt(ctx, client.PromptClassifyIntent, map[string]any{
			"feedback": feedback,
			"view":     summary,
			"retry":    retry,
		})
		if err != nil {
			return models.Intent{}, err
		}
		res, err := c.llm.Generate(ctx, prompt, client.FormatStructuredJSON)
		if err != nil {
			return models.Intent{}, err
		}
		lastRaw = res.Raw

		intent, err := ParseIntent([]byte(res.Text))
		if err == nil {
			c.logger.Debug("feedback classified",
				zap.String("target_type", string(intent.TargetType)),
				zap.String("scope", string(intent.Scope)),
				zap.Float64("confidence", intent.Confidence),
				zap.Int("attempt", attempt))
			return intent, nil
		}
		lastErr = err
		retry = err.Error()
		c.logger.Warn("malformed classification", zap.Int("attempt", attempt), zap.Error(err))
	}
	return models.Intent{}, &models.ClassificationError{Attempts: attempts, Raw: lastRaw, Err: lastErr}
}

// ParseIntent validates a structured intent. Unknown enum values, a missing
// or out-of-range confidence and prose intents without a chapter are
// rejected.
func ParseIntent(data []byte) (models.Intent, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return models.Intent{}, errors.New("empty response")
	}
	var raw rawIntent
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.Intent{}, fmt.Errorf("response is not a JSON object: %w", err)
	}

	if raw.TargetType == nil {
		return models.Intent{}, errors.New("target_type is missing")
	}
	target, err := models.ParseTargetType(*raw.TargetType)
	if err != nil {
		return models.Intent{}, err
	}
	if raw.Scope == nil {
		return models.Intent{}, errors.New("scope is missing")
	}
	scope, err := models.ParseScope(*raw.Scope)
	if err != nil {
		return models.Intent{}, err
	}
	if raw.Confidence == nil {
		return models.Intent{}, errors.New("confidence is missing")
	}
	confidence := *raw.Confidence
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return models.Intent{}, fmt.Errorf("confidence %v is outside [0,1]", confidence)
	}
	hint, err := models.ParseScaleHint(raw.ScaleHint)
	if err != nil {
		return models.Intent{}, err
	}
	targetID, err := parseTargetID(raw.TargetID)
	if err != nil {
		return models.Intent{}, err
	}
	if target == models.TargetChapterProse && targetID == nil {
		return models.Intent{}, errors.New("single-chapter-prose requires target_id")
	}

	return models.Intent{
		TargetType:  target,
		TargetID:    targetID,
		Scope:       scope,
		Action:      strings.ToLower(strings.TrimSpace(raw.Action)),
		Confidence:  confidence,
		ScaleHint:   hint,
		Description: strings.TrimSpace(raw.Description),
	}, nil
}

// parseTargetID accepts null, a positive integer or a numeric string.
func parseTargetID(raw json.RawMessage) (*int, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
		if s == "" {
			return nil, nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f <= 0 {
		return nil, fmt.Errorf("target_id %s is not a positive integer", string(raw))
	}
	id := int(f)
	return &id, nil
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"narraweave/internal/llm/client"
	"narraweave/internal/models"
	"narraweave/internal/utils"
)

const DefaultRegenerateThreshold = 30.0

// Decision rules, in evaluation order.
const (
	RulePremise = iota + 1
	RuleRewriteLanguage
	RuleBroadScope
	RuleStructuralAction
	RuleSpecificScope
	RuleEstimate
)

var rewriteLanguageRe = regexp.MustCompile(`\b(re-?writ(e|es|ing|ten)|re-?wrote|start(s|ed|ing)? over|different approach|re-?structur(e|es|ed|ing)|from scratch|overhaul(s|ed|ing)?|re-?do(es|ing|ne)?|re-?did|completely chang(e|es|ed|ing)|complete rewrite)\b`)

var structuralActions = map[string]bool{
	"add":     true,
	"remove":  true,
	"delete":  true,
	"merge":   true,
	"split":   true,
	"reorder": true,
	"insert":  true,
	"move":    true,
	"swap":    true,
	"combine": true,
}

var actionTokenRe = regexp.MustCompile(`[a-z]+`)

// ScaleRequest carries everything the decider looks at.
type ScaleRequest struct {
	Intent        models.Intent
	Feedback      string
	TargetContent string
}

// ScaleDecider picks patch or regenerate for an intent.
type ScaleDecider struct {
	llm       client.CompletionService
	threshold float64
	logger    *zap.Logger
}

func NewScaleDecider(llm client.CompletionService, thresholdPercent float64, logger *zap.Logger) *ScaleDecider {
	if thresholdPercent <= 0 {
		thresholdPercent = DefaultRegenerateThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScaleDecider{llm: llm, threshold: thresholdPercent, logger: logger.Named("scale")}
}

func (d *ScaleDecider) Threshold() float64 { return d.threshold }

// Decide applies the rules in order; the first match wins. Only the last
// rule calls the backend.
func (d *ScaleDecider) Decide(ctx context.Context, req ScaleRequest) (models.ScaleDecision, error) {
	intent := req.Intent
	switch {
	case intent.TargetType == models.TargetPremise:
		return decision(models.ScaleRegenerate, RulePremise, "premise is always regenerated"), nil
	case HasRewriteLanguage(req.Feedback):
		return decision(models.ScaleRegenerate, RuleRewriteLanguage, "feedback asks for a large rewrite"), nil
	case intent.Scope == models.ScopeEntire || intent.Scope == models.ScopeMultiple:
		return decision(models.ScaleRegenerate, RuleBroadScope, fmt.Sprintf("scope is %s", intent.Scope)), nil
	case IsStructuralAction(intent.Action):
		return decision(models.ScaleRegenerate, RuleStructuralAction, fmt.Sprintf("action %q changes structure", intent.Action)), nil
	case intent.Scope == models.ScopeSpecific:
		return decision(models.ScalePatch, RuleSpecificScope, "scope is specific"), nil
	}
	return d.decideByEstimate(ctx, req)
}

func (d *ScaleDecider) decideByEstimate(ctx context.Context, req ScaleRequest) (models.ScaleDecision, error) {
	prompt, err := client.RenderPrompt(ctx, client.PromptEstimateChange, map[string]any{
		"description": req.Intent.Description,
		"feedback":    req.Feedback,
		"content":     utils.Truncate(req.TargetContent, 12000),
	})
	if err != nil {
		return models.ScaleDecision{}, err
	}
	res, err := d.llm.Generate(ctx, prompt, client.FormatStructuredJSON)
	if err != nil {
		return models.ScaleDecision{}, err
	}

	pct, err := parseEstimate(res.Text)
	if err != nil {
		d.logger.Warn("unusable change estimate, regenerating", zap.Error(err))
		return decision(models.ScaleRegenerate, RuleEstimate, "change estimate unusable: "+err.Error()), nil
	}
	out := decision(models.ScalePatch, RuleEstimate,
		fmt.Sprintf("estimated change %.0f%% is below %.0f%%", pct, d.threshold))
	if pct >= d.threshold {
		out = decision(models.ScaleRegenerate, RuleEstimate,
			fmt.Sprintf("estimated change %.0f%% reaches %.0f%%", pct, d.threshold))
	}
	out.EstimatedChange = &pct
	return out, nil
}

func decision(scale models.Scale, rule int, reason string) models.ScaleDecision {
	return models.ScaleDecision{Scale: scale, Rule: rule, Reason: reason}
}

// HasRewriteLanguage reports whether feedback explicitly asks for a large rewrite.
func HasRewriteLanguage(feedback string) bool {
	return rewriteLanguageRe.MatchString(strings.ToLower(feedback))
}

// IsStructuralAction reports whether an action tag adds, removes or
// reorders units of structure.
func IsStructuralAction(action string) bool {
	for _, tok := range actionTokenRe.FindAllString(strings.ToLower(action), -1) {
		if structuralActions[tok] {
			return true
		}
	}
	return false
}

func parseEstimate(text string) (float64, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return 0, fmt.Errorf("not a JSON object: %w", err)
	}
	v, ok := payload["estimated_change_percentage"]
	if !ok {
		return 0, fmt.Errorf("estimated_change_percentage is missing")
	}
	var pct float64
	switch t := v.(type) {
	case float64:
		pct = t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("estimated_change_percentage %q is not a number", t)
		}
		pct = f
	default:
		return 0, fmt.Errorf("estimated_change_percentage has type %T", v)
	}
	if math.IsNaN(pct) || pct < 0 || pct > 100 {
		return 0, fmt.Errorf("estimated_change_percentage %v is outside [0,100]", pct)
	}
	return pct, nil
}

package models

import (
	"fmt"
	"strings"
)

// TargetType is the kind of artifact a piece of feedback is about.
type TargetType string

const (
	TargetPremise         TargetType = "premise"
	TargetTreatment       TargetType = "treatment"
	TargetChapterOutlines TargetType = "chapter-outline-collection"
	TargetChapterProse    TargetType = "single-chapter-prose"
	TargetWholeProject    TargetType = "whole-project"
)

var targetTypes = []TargetType{
	TargetPremise,
	TargetTreatment,
	TargetChapterOutlines,
	TargetChapterProse,
	TargetWholeProject,
}

// legacyTargetTypes maps the older artifact vocabulary. It is consulted only
// after the current names fail to match.
var legacyTargetTypes = map[string]TargetType{
	"premise.md":        TargetPremise,
	"treatment.md":      TargetTreatment,
	"chapters":          TargetChapterOutlines,
	"chapters.yaml":     TargetChapterOutlines,
	"chapter-outlines":  TargetChapterOutlines,
	"chapter_outlines":  TargetChapterOutlines,
	"outline":           TargetChapterOutlines,
	"outlines":          TargetChapterOutlines,
	"chapter":           TargetChapterProse,
	"chapter-prose":     TargetChapterProse,
	"chapter_prose":     TargetChapterProse,
	"prose":             TargetChapterProse,
	"project":           TargetWholeProject,
	"whole_project":     TargetWholeProject,
	"entire-project":    TargetWholeProject,
	"all":               TargetWholeProject,
	"chapter_outline":   TargetChapterOutlines,
	"outline_chapters":  TargetChapterOutlines,
	"single_chapter":    TargetChapterProse,
	"single-chapter":    TargetChapterProse,
	"premise_document":  TargetPremise,
	"treatment_outline": TargetTreatment,
}

// ParseTargetType checks the current vocabulary first and falls back to the
// legacy one only when nothing current matches.
func ParseTargetType(raw string) (TargetType, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	for _, t := range targetTypes {
		if key == string(t) {
			return t, nil
		}
	}
	if t, ok := legacyTargetTypes[key]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown target_type %q", raw)
}

// Scope is how much of the target the feedback touches.
type Scope string

const (
	ScopeSpecific Scope = "specific"
	ScopeSection  Scope = "section"
	ScopeMultiple Scope = "multiple"
	ScopeEntire   Scope = "entire"
)

func ParseScope(raw string) (Scope, error) {
	switch s := Scope(strings.ToLower(strings.TrimSpace(raw))); s {
	case ScopeSpecific, ScopeSection, ScopeMultiple, ScopeEntire:
		return s, nil
	}
	return "", fmt.Errorf("unknown scope %q", raw)
}

// ScaleHint is the classifier's own guess at the strategy. It is advisory.
type ScaleHint string

const (
	HintPatch      ScaleHint = "patch"
	HintRegenerate ScaleHint = "regenerate"
	HintUnclear    ScaleHint = "unclear"
)

func ParseScaleHint(raw string) (ScaleHint, error) {
	switch h := ScaleHint(strings.ToLower(strings.TrimSpace(raw))); h {
	case HintPatch, HintRegenerate, HintUnclear:
		return h, nil
	case "":
		return HintUnclear, nil
	}
	return "", fmt.Errorf("unknown scale_hint %q", raw)
}

// Intent is the structured reading of one piece of feedback.
type Intent struct {
	TargetType  TargetType `json:"target_type"`
	TargetID    *int       `json:"target_id,omitempty"`
	Scope       Scope      `json:"scope"`
	Action      string     `json:"action"`
	Confidence  float64    `json:"confidence"`
	ScaleHint   ScaleHint  `json:"scale_hint"`
	Description string     `json:"description"`
}

// TargetArtifact returns the artifact the intent edits. Whole-project
// intents have none.
func (i Intent) TargetArtifact() (ArtifactName, bool) {
	switch i.TargetType {
	case TargetPremise:
		return ArtifactPremise, true
	case TargetTreatment:
		return ArtifactTreatment, true
	case TargetChapterOutlines:
		return ArtifactChapterOutlines, true
	case TargetChapterProse:
		if i.TargetID != nil && *i.TargetID > 0 {
			return ProseArtifact(*i.TargetID), true
		}
	}
	return "", false
}

// Interpretation renders the intent for a clarification prompt.
func (i Intent) Interpretation() string {
	target := string(i.TargetType)
	if i.TargetID != nil {
		target = fmt.Sprintf("%s %d", target, *i.TargetID)
	}
	desc := strings.TrimSpace(i.Description)
	if desc == "" {
		desc = i.Action
	}
	return fmt.Sprintf("%s (%s scope): %s", target, i.Scope, desc)
}

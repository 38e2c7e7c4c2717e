package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"narraweave/internal/llm/client"
	"narraweave/internal/models"
	"narraweave/internal/outline"
	"narraweave/internal/patch"
)

// PatchRequest is one patch-scale edit of a single artifact.
type PatchRequest struct {
	Intent   models.Intent
	Feedback string
	Artifact *models.Artifact
}

// ApplyResult is the outcome of synthesizing and applying a patch. When
// Applied is false, FallbackReason says why and Err holds the
// *models.InvalidPatchError.
type ApplyResult struct {
	Applied        bool
	Content        []byte
	Patch          *patch.Patch
	PatchText      string
	FallbackReason string
	Err            error
}

// PatchService asks the backend for a unified diff of one artifact and
// applies it.
type PatchService struct {
	llm    client.CompletionService
	logger *zap.Logger
}

func NewPatchService(llm client.CompletionService, logger *zap.Logger) *PatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatchService{llm: llm, logger: logger.Named("patch")}
}

// SynthesizeAndApply never returns an error for a bad patch; that is reported
// through ApplyResult so the caller can fall back to regeneration. Backend
// failures and cancellation are returned as errors.
func (s *PatchService) SynthesizeAndApply(ctx context.Context, req PatchRequest) (*ApplyResult, error) {
	if req.Artifact == nil {
		return nil, fmt.Errorf("patch target is required")
	}
	prompt, err := client.RenderPrompt(ctx, client.PromptSynthesizePatch, map[string]any{
		"path":        req.Artifact.Path,
		"description": req.Intent.Description,
		"feedback":    req.Feedback,
		"numbered":    numberLines(string(req.Artifact.Content)),
	})
	if err != nil {
		return nil, err
	}
	res, err := s.llm.Generate(ctx, prompt, client.FormatPatchText)
	if err != nil {
		return nil, err
	}

	out := s.ApplyText(req.Artifact, res.Text)
	if !out.Applied {
		s.logger.Warn("patch rejected, falling back to regeneration",
			zap.String("artifact", string(req.Artifact.Name)),
			zap.String("reason", out.FallbackReason))
	}
	return out, nil
}

// ApplyText parses, validates and applies diff text to artifact.
func (s *PatchService) ApplyText(artifact *models.Artifact, text string) *ApplyResult {
	reject := func(stage string, err error) *ApplyResult {
		ipe := &models.InvalidPatchError{Stage: stage, Err: err}
		return &ApplyResult{PatchText: text, FallbackReason: ipe.Error(), Err: ipe}
	}

	p, err := patch.Parse(text)
	if err != nil {
		return reject("parse", err)
	}
	current := string(artifact.Content)
	if err := patch.Validate(p, current); err != nil {
		return reject("validate", err)
	}
	updated, err := patch.Apply(p, current)
	if err != nil {
		return reject("apply", err)
	}
	if updated == current {
		return reject("apply", errors.New("patch leaves the content unchanged"))
	}
	if artifact.Name == models.ArtifactChapterOutlines {
		if err := verifyOutlinePatch(current, updated); err != nil {
			return reject("verify", err)
		}
	}
	return &ApplyResult{Applied: true, Content: []byte(updated), Patch: p, PatchText: text}
}

// verifyOutlinePatch keeps a patched outline to the same rules a merge
// enforces: it must still parse, stay complete, and keep every chapter.
func verifyOutlinePatch(before, after string) error {
	patched, err := outline.Parse([]byte(after))
	if err != nil {
		return err
	}
	if err := patched.Validate(); err != nil {
		return err
	}
	prev, err := outline.Parse([]byte(before))
	if err != nil {
		return nil
	}
	for _, n := range prev.Numbers() {
		if _, ok := patched.Chapter(n); !ok {
			return fmt.Errorf("patch removes chapter %d", n)
		}
	}
	return nil
}

func numberLines(content string) string {
	if content == "" {
		return "(empty file)"
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "%4d| %s\n", i+1, l)
	}
	return b.String()
}

package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"narraweave/internal/config"
	"narraweave/internal/events"
	"narraweave/internal/llm/client"
	"narraweave/internal/models"
	"narraweave/internal/patch"
	"narraweave/internal/repositories"
)

const DefaultConfidenceThreshold = 0.8

// IterationRecorder persists finished iterations.
type IterationRecorder interface {
	Record(result *models.IterationResult) error
}

// IterationService runs one piece of feedback through classification, scale
// decision, patch or regeneration, and merge.
type IterationService struct {
	assembler  *AssemblerService
	classifier *IntentClassifier
	decider    *ScaleDecider
	patcher    *PatchService
	merger     *MergeService
	llm        client.CompletionService
	changelog  ChangeLog
	history    IterationRecorder

	confidenceThreshold float64
	logger              *zap.Logger

	inProgressMu       sync.Mutex
	inProgressProjects map[string]bool
}

// NewIterationService wires the pipeline around one completion service.
// changelog and history may be nil.
func NewIterationService(llm client.CompletionService, changelog ChangeLog, history IterationRecorder, cfg config.IterationConfig, logger *zap.Logger) *IterationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultConfidenceThreshold
	}
	return &IterationService{
		assembler:           NewAssemblerService(logger),
		classifier:          NewIntentClassifier(llm, cfg.ClassificationRetries, cfg.SummaryCharLimit, logger),
		decider:             NewScaleDecider(llm, cfg.RegenerateThresholdPercent, logger),
		patcher:             NewPatchService(llm, logger),
		merger:              NewMergeService(logger),
		llm:                 llm,
		changelog:           changelog,
		history:             history,
		confidenceThreshold: threshold,
		logger:              logger.Named("iteration"),
		inProgressProjects:  make(map[string]bool),
	}
}

func (s *IterationService) ConfidenceThreshold() float64 { return s.confidenceThreshold }

func (s *IterationService) markProjectInProgress(project string) error {
	s.inProgressMu.Lock()
	defer s.inProgressMu.Unlock()
	if s.inProgressProjects[project] {
		return fmt.Errorf("%w: %s", models.ErrIterationInProgress, project)
	}
	s.inProgressProjects[project] = true
	return nil
}

func (s *IterationService) unmarkProjectInProgress(project string) {
	s.inProgressMu.Lock()
	defer s.inProgressMu.Unlock()
	delete(s.inProgressProjects, project)
}

// IsProjectInProgress reports whether an iteration is running on project.
func (s *IterationService) IsProjectInProgress(project string) bool {
	s.inProgressMu.Lock()
	defer s.inProgressMu.Unlock()
	return s.inProgressProjects[projectKey(project)]
}

// iteration carries the per-request state through the pipeline.
type iteration struct {
	ctx    context.Context
	repo   repositories.ArtifactRepository
	view   *models.UnifiedView
	result *models.IterationResult
	logger *zap.Logger
}

// ProcessFeedback runs one feedback iteration against repo. A clarification
// request is a result, not an error. The returned error is non-nil only for
// failed iterations, and the result is always returned alongside it.
func (s *IterationService) ProcessFeedback(ctx context.Context, feedback string, repo repositories.ArtifactRepository) (*models.IterationResult, error) {
	if repo == nil {
		return nil, fmt.Errorf("project is required")
	}
	project := projectKey(repo.Root())
	if err := s.markProjectInProgress(project); err != nil {
		return nil, err
	}
	defer s.unmarkProjectInProgress(project)

	lock, err := repositories.LockProject(repo.Root())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("failed to release project lock", zap.String("path", lock.Path()), zap.Error(err))
		}
	}()

	id := uuid.NewString()
	it := &iteration{
		ctx:  events.WithIteration(ctx, id),
		repo: repo,
		result: &models.IterationResult{
			ID:               id,
			Project:          repo.Root(),
			Feedback:         strings.TrimSpace(feedback),
			ChangedArtifacts: []models.ArtifactName{},
			StartedAt:        time.Now(),
		},
		logger: s.logger.With(zap.String("iteration", id)),
	}
	it.logger.Info("processing feedback", zap.String("project", repo.Root()))

	s.enter(it, models.StateClassifying)
	view, err := s.assembler.Assemble(it.ctx, repo)
	if err != nil {
		return s.fail(it, err)
	}
	it.view = view

	intent, err := s.classifier.Classify(it.ctx, it.result.Feedback, view)
	if err != nil {
		return s.fail(it, err)
	}
	it.result.Intent = &intent

	if intent.Confidence < s.confidenceThreshold {
		return s.clarify(it)
	}

	s.enter(it, models.StateScaleDeciding)
	target, hasTarget := intent.TargetArtifact()
	targetContent := ""
	if hasTarget {
		if section, ok := view.Section(target); ok {
			targetContent = string(section.Content)
		}
	}
	decision, err := s.decider.Decide(it.ctx, ScaleRequest{Intent: intent, Feedback: it.result.Feedback, TargetContent: targetContent})
	if err != nil {
		return s.fail(it, err)
	}
	it.result.Decision = &decision
	it.logger.Info("scale decided",
		zap.String("scale", string(decision.Scale)),
		zap.Int("rule", decision.Rule),
		zap.String("reason", decision.Reason))

	if decision.Scale == models.ScalePatch {
		switch {
		case !hasTarget:
			s.fallback(it, "no single artifact to patch")
		case !view.Has(target):
			s.fallback(it, fmt.Sprintf("%s does not exist yet", target))
		default:
			done, err := s.runPatch(it, intent, target)
			if err != nil || done {
				return it.result, err
			}
		}
	}
	return s.runRegenerate(it, intent)
}

// runPatch reports done when the patch was applied and committed. A rejected
// patch records the fallback and returns false.
func (s *IterationService) runPatch(it *iteration, intent models.Intent, target models.ArtifactName) (bool, error) {
	s.enter(it, models.StatePatching)
	it.result.Strategy = models.ScalePatch

	artifact, err := it.repo.Read(target)
	if err != nil {
		_, err = s.fail(it, err)
		return true, err
	}
	applied, err := s.patcher.SynthesizeAndApply(it.ctx, PatchRequest{Intent: intent, Feedback: it.result.Feedback, Artifact: artifact})
	if err != nil {
		_, err = s.fail(it, err)
		return true, err
	}
	if !applied.Applied {
		s.fallback(it, applied.FallbackReason)
		return false, nil
	}

	if err := it.ctx.Err(); err != nil {
		_, err = s.fail(it, err)
		return true, err
	}
	s.enter(it, models.StateMerging)
	writes, err := it.repo.Commit([]repositories.ArtifactChange{{Name: target, Content: applied.Content}})
	if err != nil {
		_, err = s.fail(it, fmt.Errorf("failed to write patched %s: %w", target, err))
		return true, err
	}
	for _, w := range writes {
		if w.Changed() {
			events.Emit(it.ctx, events.ArtifactWritten, events.NewInfo(fmt.Sprintf("%s patched", w.Name)).
				With("artifact", string(w.Name)).
				With("path", w.Path))
		}
	}
	s.done(it, writes)
	return true, nil
}

func (s *IterationService) runRegenerate(it *iteration, intent models.Intent) (*models.IterationResult, error) {
	s.enter(it, models.StateRegenerating)
	it.result.Strategy = models.ScaleRegenerate

	target, single := intent.TargetArtifact()
	targets := "any sections the request affects"
	if single {
		targets = string(target)
	}
	document, err := it.view.YAML()
	if err != nil {
		return s.fail(it, err)
	}
	prompt, err := client.RenderPrompt(it.ctx, client.PromptRegenerate, map[string]any{
		"targets":     targets,
		"description": intent.Description,
		"feedback":    it.result.Feedback,
		"document":    string(document),
	})
	if err != nil {
		return s.fail(it, err)
	}
	res, err := s.llm.Generate(it.ctx, prompt, client.FormatStructuredJSON)
	if err != nil {
		return s.fail(it, err)
	}
	doc, err := models.ParseGeneratedDocument([]byte(res.Text))
	if err != nil {
		return s.fail(it, err)
	}

	var required []models.ArtifactName
	if single {
		doc = onlySection(doc, target, it.logger)
		required = []models.ArtifactName{target}
	}

	if err := it.ctx.Err(); err != nil {
		return s.fail(it, err)
	}
	s.enter(it, models.StateMerging)
	writes, err := s.merger.SplitAndMerge(context.WithoutCancel(it.ctx), doc, it.repo, required)
	if err != nil {
		return s.fail(it, err)
	}
	s.done(it, writes)
	return it.result, nil
}

// onlySection drops every section but name from doc.
func onlySection(doc *models.GeneratedDocument, name models.ArtifactName, logger *zap.Logger) *models.GeneratedDocument {
	out := &models.GeneratedDocument{Unknown: doc.Unknown}
	var dropped []string
	for _, section := range doc.Sections {
		if section.Name == name {
			out.Sections = append(out.Sections, section)
			continue
		}
		dropped = append(dropped, string(section.Name))
	}
	if len(dropped) > 0 {
		logger.Warn("ignoring sections outside the requested target",
			zap.String("target", string(name)),
			zap.Strings("sections", dropped))
	}
	return out
}

func (s *IterationService) enter(it *iteration, state models.IterationState) {
	it.result.States = append(it.result.States, state)
	it.logger.Debug("state", zap.String("state", string(state)))
	events.Emit(it.ctx, events.IterationState, events.NewInfo(string(state)).With("state", string(state)))
}

func (s *IterationService) fallback(it *iteration, reason string) {
	it.result.FallbackReason = reason
	it.logger.Info("falling back to regeneration", zap.String("reason", reason))
	events.Emit(it.ctx, events.IterationFallback, events.NewWarn("falling back to regeneration").With("reason", reason))
}

func (s *IterationService) clarify(it *iteration) (*models.IterationResult, error) {
	s.enter(it, models.StateClarify)
	intent := it.result.Intent
	it.result.Outcome = models.OutcomeClarificationNeeded
	it.result.Clarification = fmt.Sprintf(
		"I read this as a change to %s, but I'm only %.0f%% sure. Please confirm or rephrase which part of the project you want changed.",
		intent.Interpretation(), intent.Confidence*100)
	it.result.Summary = "clarification needed"
	s.finish(it)
	events.Emit(it.ctx, events.IterationDone, events.NewWarn(it.result.Clarification).
		With("outcome", string(it.result.Outcome)))
	return it.result, nil
}

func (s *IterationService) done(it *iteration, writes []models.ArtifactWriteResult) {
	it.result.Writes = writes
	for _, w := range writes {
		if w.Changed() {
			it.result.ChangedArtifacts = append(it.result.ChangedArtifacts, w.Name)
		}
	}
	models.SortArtifactNames(it.result.ChangedArtifacts)
	it.result.Diff = s.diff(it, writes)
	it.result.Summary = summarize(it.result)
	s.enter(it, models.StateDone)
	it.result.Outcome = models.OutcomeApplied

	if s.changelog != nil && len(it.result.ChangedArtifacts) > 0 {
		hash, err := s.changelog.Record(context.WithoutCancel(it.ctx), ChangeEntry{
			ProjectRoot: it.repo.Root(),
			Summary:     it.result.Summary,
			Body:        changeBody(it.result),
			Writes:      writes,
		})
		if err != nil {
			it.logger.Warn("failed to record change", zap.Error(err))
		}
		it.result.CommitHash = hash
	}
	s.finish(it)
	it.logger.Info("iteration applied",
		zap.String("strategy", string(it.result.Strategy)),
		zap.Int("changed", len(it.result.ChangedArtifacts)))
	events.Emit(it.ctx, events.IterationDone, events.NewSuccess(it.result.Summary).
		With("outcome", string(it.result.Outcome)).
		With("strategy", string(it.result.Strategy)))
}

func (s *IterationService) fail(it *iteration, err error) (*models.IterationResult, error) {
	s.enter(it, models.StateFailed)
	it.result.Outcome = models.OutcomeFailed
	it.result.Err = err
	it.result.Error = err.Error()
	it.result.Summary = "iteration failed: " + err.Error()
	s.finish(it)
	if errors.Is(err, context.Canceled) {
		it.logger.Info("iteration cancelled")
	} else {
		it.logger.Error("iteration failed", zap.Error(err))
	}
	events.Emit(it.ctx, events.IterationDone, events.NewError(err.Error()).
		With("outcome", string(it.result.Outcome)))
	return it.result, err
}

func (s *IterationService) finish(it *iteration) {
	it.result.FinishedAt = time.Now()
	if s.history == nil {
		return
	}
	if err := s.history.Record(it.result); err != nil {
		it.logger.Warn("failed to record iteration history", zap.Error(err))
	}
}

// diff renders the applied change as unified diffs against the assembled
// view.
func (s *IterationService) diff(it *iteration, writes []models.ArtifactWriteResult) string {
	var parts []string
	for _, w := range writes {
		if !w.Changed() {
			continue
		}
		before := ""
		if section, ok := it.view.Section(w.Name); ok {
			before = string(section.Content)
		}
		after := ""
		if w.Action != models.WriteDeleted {
			current, err := it.repo.Read(w.Name)
			if err != nil {
				it.logger.Debug("cannot read written artifact for diff", zap.String("artifact", string(w.Name)), zap.Error(err))
				continue
			}
			after = string(current.Content)
		}
		if p := patch.Diff(w.Path, before, after); p != nil {
			parts = append(parts, patch.Format(p))
		}
	}
	return strings.Join(parts, "")
}

func summarize(r *models.IterationResult) string {
	if len(r.ChangedArtifacts) == 0 {
		return fmt.Sprintf("%s: no changes", r.Strategy)
	}
	names := make([]string, len(r.ChangedArtifacts))
	for i, n := range r.ChangedArtifacts {
		names[i] = string(n)
	}
	what := ""
	if r.Intent != nil {
		what = strings.TrimSpace(r.Intent.Description)
	}
	if what == "" {
		what = r.Feedback
	}
	return fmt.Sprintf("%s %s: %s", r.Strategy, strings.Join(names, ", "), firstLine(what, 72))
}

func changeBody(r *models.IterationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feedback: %s\n", r.Feedback)
	if r.Decision != nil {
		fmt.Fprintf(&b, "Strategy: %s (%s)\n", r.Strategy, r.Decision.Reason)
	}
	if r.FallbackReason != "" {
		fmt.Fprintf(&b, "Fallback: %s\n", r.FallbackReason)
	}
	for _, w := range r.Writes {
		if w.Changed() {
			line := fmt.Sprintf("- %s %s", w.Action, w.Path)
			if w.Detail != "" {
				line += " (" + w.Detail + ")"
			}
			b.WriteString(line + "\n")
		}
	}
	fmt.Fprintf(&b, "Iteration: %s\n", r.ID)
	return b.String()
}

func firstLine(s string, limit int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > limit {
		s = string(r[:limit-3]) + "..."
	}
	return s
}

func projectKey(root string) string {
	if abs, err := filepath.Abs(root); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(root)
}

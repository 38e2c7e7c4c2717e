package unit_tests

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"narraweave/internal/events"
	"narraweave/internal/llm/client"
	"narraweave/internal/models"
	"narraweave/internal/outline"
	"narraweave/internal/patch"
	"narraweave/internal/repositories"
	"narraweave/internal/services"
	"narraweave/internal/tests/mocks"
)

func newIterationService(llm client.CompletionService, changelog services.ChangeLog, history services.IterationRecorder) *services.IterationService {
	return services.NewIterationService(llm, changelog, history, iterationConfig(), nil)
}

func recordEvents(t *testing.T) *events.Recorder {
	t.Helper()
	rec := &events.Recorder{}
	events.SetCustomEmitter(rec.Emit)
	t.Cleanup(func() { events.SetCustomEmitter(nil) })
	return rec
}

// Scenario A: a partial outline update touches only the returned chapters.
func TestIteration_PartialOutlineRegenerationKeepsOtherChapters(t *testing.T) {
	repo := newProject(t, 11)
	before, err := outline.Parse([]byte(readArtifact(t, repo, models.ArtifactChapterOutlines)))
	require.NoError(t, err)

	regenerated := "chapter-outlines:\n  chapters:\n"
	for _, n := range []int{4, 7, 11} {
		regenerated += fmt.Sprintf("    - number: %d\n      title: Higher Stakes %d\n      summary: Everything is at risk in chapter %d.\n", n, n, n)
	}
	llm := &mocks.CompletionServiceMock{Responses: map[string][]string{
		client.PromptClassifyIntent: {intentJSON(t, "chapter-outline-collection", nil, "multiple", "revise", 0.92, "Raise the stakes in chapters 4, 7 and 11")},
		client.PromptRegenerate:     {regenerated},
	}}
	changelog := &mocks.ChangeLogMock{}
	svc := newIterationService(llm, changelog, nil)

	result, err := svc.ProcessFeedback(context.Background(), "raise the stakes in chapters 4, 7 and 11", repo)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, result.Outcome)
	assert.Equal(t, models.ScaleRegenerate, result.Strategy)
	assert.Equal(t, []models.ArtifactName{models.ArtifactChapterOutlines}, result.ChangedArtifacts)

	after, err := outline.Parse([]byte(readArtifact(t, repo, models.ArtifactChapterOutlines)))
	require.NoError(t, err)
	require.NoError(t, after.Validate())
	assert.Equal(t, chapterRange(1, 11), after.Numbers())
	for _, n := range chapterRange(1, 11) {
		ch, ok := after.Chapter(n)
		require.True(t, ok)
		switch n {
		case 4, 7, 11:
			assert.Equal(t, fmt.Sprintf("Higher Stakes %d", n), ch.Title())
		default:
			prev, _ := before.Chapter(n)
			assert.Equal(t, encodeNode(t, prev.Node), encodeNode(t, ch.Node), "chapter %d changed", n)
		}
	}
	assert.Equal(t, encodeNode(t, before.Metadata), encodeNode(t, after.Metadata))
	assert.Equal(t, encodeNode(t, before.Characters), encodeNode(t, after.Characters))
	assert.Equal(t, encodeNode(t, before.World), encodeNode(t, after.World))

	require.Len(t, changelog.Entries, 1)
	assert.Contains(t, changelog.Entries[0].Body, "partial")
}

const handFormattedOutline = `# Story bible

metadata:
    title:   The Glass Orchard
    genre: gothic fantasy
characters:
    - name: Ilse
      role: protagonist
world:
    setting: A drowned valley of orchards
chapters:
    - number: 1
      title: 'Arrival'
      summary: Ilse reaches the orchard.
    - number: 2
      title: 'The Bargain'
      summary: Corvin makes an offer.
    - number: 3
      title: 'Harvest'
      summary: >
          The fruit is picked
          at last.
`

func TestIteration_PartialOutlineUpdateKeepsUntouchedBytesOnDisk(t *testing.T) {
	repo := newProjectWithOutline(t, handFormattedOutline)
	llm := &mocks.CompletionServiceMock{Responses: map[string][]string{
		client.PromptClassifyIntent: {intentJSON(t, "chapter-outline-collection", nil, "multiple", "revise", 0.92, "Sharpen chapter 2")},
		client.PromptRegenerate:     {"chapter-outlines:\n  chapters:\n    - number: 2\n      title: The Price\n      summary: Corvin names his price.\n"},
	}}
	svc := newIterationService(llm, nil, nil)

	result, err := svc.ProcessFeedback(context.Background(), "sharpen chapter 2", repo)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeApplied, result.Outcome)

	want := strings.Replace(handFormattedOutline,
		"    - number: 2\n      title: 'The Bargain'\n      summary: Corvin makes an offer.\n",
		"    - number: 2\n      title: The Price\n      summary: Corvin names his price.\n", 1)
	assert.Equal(t, want, readArtifact(t, repo, models.ArtifactChapterOutlines))
}

// Scenario B: premise feedback is regenerated whatever its wording.
func TestIteration_PremiseIsRegenerated(t *testing.T) {
	repo := newProject(t, 3)
	llm := &mocks.CompletionServiceMock{Responses: map[string][]string{
		client.PromptClassifyIntent: {intentJSON(t, "premise", nil, "specific", "rewrite", 0.95, "Make the premise darker")},
		client.PromptRegenerate:     {"premise: |\n  # The Glass Orchard\n\n  A widow bargains with the dead through poisoned glass fruit.\n"},
	}}
	svc := newIterationService(llm, nil, nil)

	result, err := svc.ProcessFeedback(context.Background(), "rewrite the whole premise to be darker", repo)
	require.NoError(t, err)
	require.NotNil(t, result.Decision)
	assert.Equal(t, models.TargetPremise, result.Intent.TargetType)
	assert.Equal(t, models.ScaleRegenerate, result.Decision.Scale)
	assert.Equal(t, services.RulePremise, result.Decision.Rule)
	assert.False(t, result.Visited(models.StatePatching))
	assert.Equal(t, 0, llm.CallCount(client.PromptSynthesizePatch))
	assert.Equal(t, "# The Glass Orchard\n\nA widow bargains with the dead through poisoned glass fruit.\n", readArtifact(t, repo, models.ArtifactPremise))
	assert.Equal(t, testTreatment, readArtifact(t, repo, models.ArtifactTreatment))
}

// Scenario C: a specific edit is patched and nothing else moves.
func TestIteration_SpecificEditIsPatched(t *testing.T) {
	repo := newProject(t, 5)
	original := readArtifact(t, repo, models.ArtifactChapterOutlines)
	expected := strings.Replace(original, "    title: Chapter 3\n", "    title: Awakening\n", 1)
	diff := patch.Format(patch.Diff("chapter-outlines/chapters.yaml", original, expected))

	llm := &mocks.CompletionServiceMock{Responses: map[string][]string{
		client.PromptClassifyIntent:  {intentJSON(t, "chapter-outline-collection", 3, "specific", "retitle", 0.9, "Rename chapter 3 to Awakening")},
		client.PromptSynthesizePatch: {"```diff\n" + diff + "```"},
	}}
	changelog := &mocks.ChangeLogMock{RecordFunc: func(ctx context.Context, entry services.ChangeEntry) (string, error) {
		return "abc123", nil
	}}
	svc := newIterationService(llm, changelog, nil)

	result, err := svc.ProcessFeedback(context.Background(), "change chapter 3's title to 'Awakening'", repo)
	require.NoError(t, err)
	assert.Equal(t, models.ScopeSpecific, result.Intent.Scope)
	assert.Equal(t, models.ScalePatch, result.Strategy)
	assert.Equal(t, []models.IterationState{
		models.StateClassifying,
		models.StateScaleDeciding,
		models.StatePatching,
		models.StateMerging,
		models.StateDone,
	}, result.States)
	assert.Equal(t, expected, readArtifact(t, repo, models.ArtifactChapterOutlines))
	assert.Equal(t, []models.ArtifactName{models.ArtifactChapterOutlines}, result.ChangedArtifacts)
	assert.Contains(t, result.Diff, "+    title: Awakening")
	assert.Equal(t, "abc123", result.CommitHash)
	assert.Equal(t, 0, llm.CallCount(client.PromptRegenerate))
}

// Scenario D: a patch whose anchor drifted falls back to regeneration.
func TestIteration_StalePatchFallsBackToRegeneration(t *testing.T) {
	repo := newProject(t, 5)
	rec := recordEvents(t)
	stale := "--- a/chapter-outlines/chapters.yaml\n+++ b/chapter-outlines/chapters.yaml\n" +
		"@@ -14,3 +14,3 @@\n  - number: 3\n-    title: The Long Night\n+    title: Awakening\n     summary: Events of chapter 3.\n"
	llm := &mocks.CompletionServiceMock{Responses: map[string][]string{
		client.PromptClassifyIntent:  {intentJSON(t, "chapter-outline-collection", 3, "specific", "retitle", 0.9, "Rename chapter 3 to Awakening")},
		client.PromptSynthesizePatch: {stale},
		client.PromptRegenerate:      {"chapter-outlines:\n  chapters:\n    - number: 3\n      title: Awakening\n      summary: Events of chapter 3.\n"},
	}}
	svc := newIterationService(llm, nil, nil)

	result, err := svc.ProcessFeedback(context.Background(), "change chapter 3's title to 'Awakening'", repo)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, result.Outcome)
	assert.Equal(t, models.ScaleRegenerate, result.Strategy)
	assert.True(t, result.Visited(models.StatePatching))
	assert.True(t, result.Visited(models.StateRegenerating))
	assert.Contains(t, result.FallbackReason, "invalid patch")
	assert.Empty(t, result.Error)
	assert.Contains(t, rec.Names, events.IterationFallback)

	after, err := outline.Parse([]byte(readArtifact(t, repo, models.ArtifactChapterOutlines)))
	require.NoError(t, err)
	ch, _ := after.Chapter(3)
	assert.Equal(t, "Awakening", ch.Title())
	assert.Equal(t, chapterRange(1, 5), after.Numbers())
}

// Scenario E: just under the threshold asks for clarification.
func TestIteration_LowConfidenceAsksForClarification(t *testing.T) {
	repo := newProject(t, 3)
	history := &mocks.IterationRepositoryMock{}
	llm := &mocks.CompletionServiceMock{Responses: map[string][]string{
		client.PromptClassifyIntent: {intentJSON(t, "treatment", nil, "section", "adjust", 0.79, "Adjust act two")},
	}}
	svc := newIterationService(llm, nil, services.NewHistoryService(history))

	result, err := svc.ProcessFeedback(context.Background(), "make the middle better", repo)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeClarificationNeeded, result.Outcome)
	assert.Equal(t, []models.IterationState{models.StateClassifying, models.StateClarify}, result.States)
	assert.Contains(t, result.Clarification, "treatment (section scope): Adjust act two")
	assert.Empty(t, result.ChangedArtifacts)
	assert.Len(t, llm.Calls, 1)
	assert.Equal(t, testTreatment, readArtifact(t, repo, models.ArtifactTreatment))

	require.Len(t, history.Saved, 1)
	assert.Equal(t, string(models.OutcomeClarificationNeeded), history.Saved[0].Outcome)
	assert.Equal(t, "treatment", history.Saved[0].TargetType)
}

func TestIteration_ConfidenceAtThresholdProceeds(t *testing.T) {
	repo := newProject(t, 3)
	llm := &mocks.CompletionServiceMock{Responses: map[string][]string{
		client.PromptClassifyIntent: {intentJSON(t, "treatment", nil, "entire", "revise", 0.8, "Tighten the treatment")},
		client.PromptRegenerate:     {"treatment: |\n  # Treatment\n\n  A tighter story.\n"},
	}}
	svc := newIterationService(llm, nil, nil)

	result, err := svc.ProcessFeedback(context.Background(), "tighten the treatment", repo)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, result.Outcome)
	assert.False(t, result.Visited(models.StateClarify))
}

func TestIteration_BackendUnavailableFails(t *testing.T) {
	repo := newProject(t, 3)
	llm := &mocks.CompletionServiceMock{GenerateFunc: func(ctx context.Context, prompt client.Prompt, format client.Format) (*client.Result, error) {
		return nil, fmt.Errorf("%w: openai: connection refused", models.ErrBackendUnavailable)
	}}
	history := &mocks.IterationRepositoryMock{}
	svc := newIterationService(llm, nil, services.NewHistoryService(history))

	result, err := svc.ProcessFeedback(context.Background(), "make it darker", repo)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
	require.NotNil(t, result)
	assert.Equal(t, models.OutcomeFailed, result.Outcome)
	assert.Equal(t, models.StateFailed, result.State())
	assert.Len(t, llm.Calls, 1)
	require.Len(t, history.Saved, 1)
	assert.Contains(t, history.Saved[0].Error, "connection refused")
}

func TestIteration_MalformedClassificationIsRetriedOnce(t *testing.T) {
	repo := newProject(t, 3)
	llm := &mocks.CompletionServiceMock{Responses: map[string][]string{
		client.PromptClassifyIntent: {
			`{"target_type": "sequel", "scope": "entire", "confidence": 0.9}`,
			intentJSON(t, "treatment", nil, "entire", "revise", 0.9, "Rework the treatment"),
		},
		client.PromptRegenerate: {"treatment: |\n  # Treatment\n\n  Reworked.\n"},
	}}
	svc := newIterationService(llm, nil, nil)

	result, err := svc.ProcessFeedback(context.Background(), "rework the treatment", repo)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, result.Outcome)
	assert.Equal(t, 2, llm.CallCount(client.PromptClassifyIntent))
	assert.Contains(t, llm.Calls[1].User, "unknown target_type")
}

func TestIteration_ClassificationErrorAfterRetry(t *testing.T) {
	repo := newProject(t, 3)
	llm := &mocks.CompletionServiceMock{Responses: map[string][]string{
		client.PromptClassifyIntent: {"not json", `{"target_type": "premise"}`},
	}}
	svc := newIterationService(llm, nil, nil)

	result, err := svc.ProcessFeedback(context.Background(), "hmm", repo)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrClassification)
	var cerr *models.ClassificationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, 2, cerr.Attempts)
	assert.Equal(t, models.OutcomeFailed, result.Outcome)
}

func TestIteration_MergeViolationLeavesArtifactsUntouched(t *testing.T) {
	repo := newProject(t, 3)
	llm := &mocks.CompletionServiceMock{Responses: map[string][]string{
		client.PromptClassifyIntent: {intentJSON(t, "treatment", nil, "entire", "revise", 0.9, "Rework the treatment")},
		client.PromptRegenerate:     {"treatment: \"   \"\n"},
	}}
	svc := newIterationService(llm, nil, nil)

	result, err := svc.ProcessFeedback(context.Background(), "rework the treatment", repo)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMergeInvariant)
	assert.Equal(t, models.OutcomeFailed, result.Outcome)
	assert.True(t, result.Visited(models.StateMerging))
	assert.Equal(t, testTreatment, readArtifact(t, repo, models.ArtifactTreatment))
}

func TestIteration_SingleTargetIgnoresOtherSections(t *testing.T) {
	repo := newProject(t, 3)
	llm := &mocks.CompletionServiceMock{Responses: map[string][]string{
		client.PromptClassifyIntent: {intentJSON(t, "premise", nil, "entire", "rewrite", 0.9, "Darker premise")},
		client.PromptRegenerate:     {"premise: |\n  Darker.\ntreatment: |\n  Should not be written.\n"},
	}}
	svc := newIterationService(llm, nil, nil)

	result, err := svc.ProcessFeedback(context.Background(), "darker premise", repo)
	require.NoError(t, err)
	assert.Equal(t, []models.ArtifactName{models.ArtifactPremise}, result.ChangedArtifacts)
	assert.Equal(t, "Darker.\n", readArtifact(t, repo, models.ArtifactPremise))
	assert.Equal(t, testTreatment, readArtifact(t, repo, models.ArtifactTreatment))
}

func TestIteration_PatchOnMissingProseRegenerates(t *testing.T) {
	repo := newProject(t, 3)
	llm := &mocks.CompletionServiceMock{Responses: map[string][]string{
		client.PromptClassifyIntent: {intentJSON(t, "single-chapter-prose", 2, "specific", "draft", 0.9, "Write chapter 2")},
		client.PromptRegenerate:     {"prose:chapter-2: |\n  # Chapter 2\n\n  Ilse walks the rows.\n"},
	}}
	svc := newIterationService(llm, nil, nil)

	result, err := svc.ProcessFeedback(context.Background(), "write chapter 2", repo)
	require.NoError(t, err)
	assert.Equal(t, models.ScaleRegenerate, result.Strategy)
	assert.False(t, result.Visited(models.StatePatching))
	assert.NotEmpty(t, result.FallbackReason)
	assert.Equal(t, []models.ArtifactName{models.ProseArtifact(2)}, result.ChangedArtifacts)
	assert.Equal(t, "# Chapter 2\n\nIlse walks the rows.\n", readArtifact(t, repo, models.ProseArtifact(2)))
}

func TestIteration_ChangeLogFailureDoesNotFailIteration(t *testing.T) {
	repo := newProject(t, 3)
	llm := &mocks.CompletionServiceMock{Responses: map[string][]string{
		client.PromptClassifyIntent: {intentJSON(t, "treatment", nil, "entire", "revise", 0.9, "Rework the treatment")},
		client.PromptRegenerate:     {"treatment: |\n  Reworked.\n"},
	}}
	changelog := &mocks.ChangeLogMock{RecordFunc: func(ctx context.Context, entry services.ChangeEntry) (string, error) {
		return "", errors.New("index locked")
	}}
	svc := newIterationService(llm, changelog, nil)

	result, err := svc.ProcessFeedback(context.Background(), "rework the treatment", repo)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, result.Outcome)
	assert.Empty(t, result.CommitHash)
	require.Len(t, changelog.Entries, 1)
	assert.Equal(t, repo.Root(), changelog.Entries[0].ProjectRoot)
}

func TestIteration_CancelBeforeMergeWritesNothing(t *testing.T) {
	repo := newProject(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	llm := &mocks.CompletionServiceMock{GenerateFunc: func(_ context.Context, prompt client.Prompt, format client.Format) (*client.Result, error) {
		switch prompt.Name {
		case client.PromptClassifyIntent:
			text := intentJSON(t, "treatment", nil, "entire", "revise", 0.9, "Rework the treatment")
			return &client.Result{Text: text, Raw: text}, nil
		case client.PromptRegenerate:
			cancel()
			return &client.Result{Text: "treatment: |\n  Reworked.\n"}, nil
		}
		return nil, fmt.Errorf("unexpected prompt %s", prompt.Name)
	}}
	svc := newIterationService(llm, nil, nil)

	result, err := svc.ProcessFeedback(ctx, "rework the treatment", repo)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.OutcomeFailed, result.Outcome)
	assert.False(t, result.Visited(models.StateMerging))
	assert.Equal(t, testTreatment, readArtifact(t, repo, models.ArtifactTreatment))
}

func TestIteration_SecondRequestOnSameProjectIsRejected(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := newProject(t, 3)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	llm := &mocks.CompletionServiceMock{GenerateFunc: func(_ context.Context, prompt client.Prompt, format client.Format) (*client.Result, error) {
		once.Do(func() { close(started) })
		<-release
		text := intentJSON(t, "treatment", nil, "section", "adjust", 0.5, "Unsure")
		return &client.Result{Text: text, Raw: text}, nil
	}}
	svc := newIterationService(llm, nil, nil)

	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = svc.ProcessFeedback(context.Background(), "first", repo)
	}()
	<-started
	assert.True(t, svc.IsProjectInProgress(repo.Root()))

	result, err := svc.ProcessFeedback(context.Background(), "second", repo)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrIterationInProgress)

	close(release)
	wg.Wait()
	assert.NoError(t, firstErr)
	assert.False(t, svc.IsProjectInProgress(repo.Root()))
}

// Each CLI invocation builds its own service; the project lock is shared.
func TestIteration_SeparateServicesShareProjectLock(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := newProject(t, 3)
	other, err := repositories.NewArtifactRepository(repo.Root())
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	llm := &mocks.CompletionServiceMock{GenerateFunc: func(_ context.Context, prompt client.Prompt, format client.Format) (*client.Result, error) {
		once.Do(func() { close(started) })
		<-release
		text := intentJSON(t, "treatment", nil, "section", "adjust", 0.5, "Unsure")
		return &client.Result{Text: text, Raw: text}, nil
	}}
	secondLLM := &mocks.CompletionServiceMock{}

	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = newIterationService(llm, nil, nil).ProcessFeedback(context.Background(), "first", repo)
	}()
	<-started

	result, err := newIterationService(secondLLM, nil, nil).ProcessFeedback(context.Background(), "second", other)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrIterationInProgress)
	assert.Empty(t, secondLLM.Calls)

	withProse(t, other, 1)
	plan, err := services.NewCascadeService(nil).Plan(other, models.LevelChapterOutlines)
	require.NoError(t, err)
	_, err = services.NewCascadeService(nil).Apply(context.Background(), other, plan)
	assert.ErrorIs(t, err, models.ErrIterationInProgress)
	assert.True(t, other.Exists(models.ProseArtifact(1)))

	close(release)
	wg.Wait()
	assert.NoError(t, firstErr)

	_, err = newIterationService(&mocks.CompletionServiceMock{Responses: map[string][]string{
		client.PromptClassifyIntent: {intentJSON(t, "treatment", nil, "section", "adjust", 0.5, "Unsure")},
	}}, nil, nil).ProcessFeedback(context.Background(), "third", other)
	assert.NoError(t, err)
}

func TestIteration_MergeIsIdempotent(t *testing.T) {
	repo := newProject(t, 3)
	full := "chapter-outlines:\n" + indent(outlineYAML([]int{1, 2, 3}), "  ")
	doc, err := models.ParseGeneratedDocument([]byte(full))
	require.NoError(t, err)
	merger := services.NewMergeService(nil)

	first, err := merger.SplitAndMerge(context.Background(), doc, repo, nil)
	require.NoError(t, err)
	once := readArtifact(t, repo, models.ArtifactChapterOutlines)

	second, err := merger.SplitAndMerge(context.Background(), doc, repo, nil)
	require.NoError(t, err)
	assert.Equal(t, once, readArtifact(t, repo, models.ArtifactChapterOutlines))
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, models.WriteUnchanged, second[0].Action)
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n") + "\n"
}

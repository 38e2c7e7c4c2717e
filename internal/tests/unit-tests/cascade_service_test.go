package unit_tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narraweave/internal/models"
	"narraweave/internal/repositories"
	"narraweave/internal/services"
)

func withProse(t *testing.T, repo repositories.ArtifactRepository, chapters ...int) {
	t.Helper()
	for _, n := range chapters {
		_, err := repo.Write(models.ProseArtifact(n), []byte("# Chapter\n\nText.\n"))
		require.NoError(t, err)
	}
}

func TestCascade_PlanListsOnlyDownstream(t *testing.T) {
	repo := newProject(t, 3)
	withProse(t, repo, 1, 2)
	svc := services.NewCascadeService(nil)

	plan, err := svc.Plan(repo, models.LevelTreatment)
	require.NoError(t, err)
	assert.Equal(t, []models.ArtifactName{
		models.ArtifactChapterOutlines,
		models.ProseArtifact(1),
		models.ProseArtifact(2),
	}, plan.Artifacts)

	plan, err = svc.Plan(repo, models.LevelProse)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestCascade_ApplyDeletesPlannedArtifacts(t *testing.T) {
	repo := newProject(t, 3)
	withProse(t, repo, 1)
	svc := services.NewCascadeService(nil)
	rec := recordEvents(t)

	plan, err := svc.Plan(repo, models.LevelChapterOutlines)
	require.NoError(t, err)
	results, err := svc.Apply(context.Background(), repo, plan)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.WriteDeleted, results[0].Action)
	assert.False(t, repo.Exists(models.ProseArtifact(1)))
	assert.True(t, repo.Exists(models.ArtifactChapterOutlines))
	assert.Contains(t, rec.Names, "events:artifact:deleted")
}

func TestCascade_IterationNeverDeletesDownstream(t *testing.T) {
	repo := newProject(t, 3)
	withProse(t, repo, 1, 2, 3)
	full := "chapter-outlines:\n" + indent(outlineYAML([]int{1}), "  ")
	doc, err := models.ParseGeneratedDocument([]byte(full))
	require.NoError(t, err)

	_, err = services.NewMergeService(nil).SplitAndMerge(context.Background(), doc, repo, nil)
	require.NoError(t, err)
	for _, n := range []int{1, 2, 3} {
		assert.True(t, repo.Exists(models.ProseArtifact(n)))
	}
}

func TestCascade_UnknownLevel(t *testing.T) {
	_, err := services.NewCascadeService(nil).Plan(newProject(t, 1), models.Level(99))
	assert.Error(t, err)
}

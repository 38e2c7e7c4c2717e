package unit_tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narraweave/internal/models"
	"narraweave/internal/outline"
	"narraweave/internal/services"
)

func TestParseGeneratedDocument_BareOutlineIsTheOutlineSection(t *testing.T) {
	doc, err := models.ParseGeneratedDocument([]byte(outlineYAML([]int{1, 2})))
	require.NoError(t, err)
	require.Equal(t, []models.ArtifactName{models.ArtifactChapterOutlines}, doc.Names())
	assert.Empty(t, doc.Unknown)

	section, _ := doc.Section(models.ArtifactChapterOutlines)
	c, err := section.Outline()
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Equal(t, []int{1, 2}, c.Numbers())
}

func TestParseGeneratedDocument_BareChaptersNextToOtherArtifacts(t *testing.T) {
	doc, err := models.ParseGeneratedDocument([]byte("premise: A new premise.\nchapters:\n  - number: 2\n    title: Turn\n"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.ArtifactName{models.ArtifactPremise, models.ArtifactChapterOutlines}, doc.Names())

	section, _ := doc.Section(models.ArtifactChapterOutlines)
	c, err := section.Outline()
	require.NoError(t, err)
	assert.Equal(t, []int{2}, c.Numbers())
}

func TestParseGeneratedDocument_StrayChaptersBesideOutlineAreUnknown(t *testing.T) {
	full := "chapter-outlines:\n" + indent(outlineYAML([]int{1}), "  ") + "chapters: []\n"
	doc, err := models.ParseGeneratedDocument([]byte(full))
	require.NoError(t, err)
	assert.Equal(t, []models.ArtifactName{models.ArtifactChapterOutlines}, doc.Names())
	assert.Equal(t, []string{outline.KeyChapters}, doc.Unknown)
}

func TestMerge_BareOutlineResponseUpdatesChapter(t *testing.T) {
	repo := newProject(t, 3)
	doc, err := models.ParseGeneratedDocument([]byte("chapters:\n  - number: 2\n    title: Turn\n    summary: Everything turns.\n"))
	require.NoError(t, err)

	results, err := services.NewMergeService(nil).SplitAndMerge(context.Background(), doc, repo, []models.ArtifactName{models.ArtifactChapterOutlines})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.WriteUpdated, results[0].Action)

	after, err := outline.Parse([]byte(readArtifact(t, repo, models.ArtifactChapterOutlines)))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, after.Numbers())
	ch, _ := after.Chapter(2)
	assert.Equal(t, "Turn", ch.Title())
}

package unit_tests

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"narraweave/internal/config"
	"narraweave/internal/models"
	"narraweave/internal/outline"
	"narraweave/internal/repositories"
)

const testPremise = "# The Glass Orchard\n\nA widow tends an orchard whose glass fruit remembers the dead.\n"

const testTreatment = "# Treatment\n\n## Act One\n\nIlse discovers the orchard remembers.\n\n## Act Two\n\nCorvin wants the memories sold.\n"

func outlineYAML(numbers []int) string {
	var b strings.Builder
	b.WriteString("metadata:\n  title: The Glass Orchard\n  genre: gothic fantasy\n")
	b.WriteString("characters:\n  - name: Ilse\n    role: protagonist\n  - name: Corvin\n    role: antagonist\n")
	b.WriteString("world:\n  setting: A drowned valley of orchards\n")
	b.WriteString("chapters:\n")
	for _, n := range numbers {
		fmt.Fprintf(&b, "  - number: %d\n    title: Chapter %d\n    summary: Events of chapter %d.\n", n, n, n)
	}
	return b.String()
}

func chapterRange(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

// newProject writes a premise, a treatment and an outline of chapters
// 1..chapters into a temporary project.
func newProject(t *testing.T, chapters int) repositories.ArtifactRepository {
	t.Helper()
	repo, err := repositories.NewArtifactRepository(t.TempDir())
	require.NoError(t, err)
	_, err = repo.Commit([]repositories.ArtifactChange{
		{Name: models.ArtifactPremise, Content: []byte(testPremise)},
		{Name: models.ArtifactTreatment, Content: []byte(testTreatment)},
		{Name: models.ArtifactChapterOutlines, Content: []byte(outlineYAML(chapterRange(1, chapters)))},
	})
	require.NoError(t, err)
	return repo
}

func readArtifact(t *testing.T, repo repositories.ArtifactRepository, name models.ArtifactName) string {
	t.Helper()
	a, err := repo.Read(name)
	require.NoError(t, err)
	return string(a.Content)
}

func intentJSON(t *testing.T, targetType string, targetID any, scope, action string, confidence float64, description string) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"target_type": targetType,
		"target_id":   targetID,
		"scope":       scope,
		"action":      action,
		"confidence":  confidence,
		"scale_hint":  "unclear",
		"description": description,
	})
	require.NoError(t, err)
	return string(data)
}

func iterationConfig() config.IterationConfig {
	return config.DefaultConfig().Iteration
}

func encodeNode(t *testing.T, n *yaml.Node) string {
	t.Helper()
	data, err := outline.EncodeNode(n)
	require.NoError(t, err)
	return string(data)
}

// newProjectWithOutline is newProject with a caller-supplied outline file.
func newProjectWithOutline(t *testing.T, outlineText string) repositories.ArtifactRepository {
	t.Helper()
	repo, err := repositories.NewArtifactRepository(t.TempDir())
	require.NoError(t, err)
	_, err = repo.Commit([]repositories.ArtifactChange{
		{Name: models.ArtifactPremise, Content: []byte(testPremise)},
		{Name: models.ArtifactTreatment, Content: []byte(testTreatment)},
		{Name: models.ArtifactChapterOutlines, Content: []byte(outlineText)},
	})
	require.NoError(t, err)
	return repo
}

package outline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const handWritten = `# Story bible for The Glass Orchard

metadata:
    title:   The Glass Orchard
    genre: gothic fantasy   # working label
characters:
    - name: Ilse
      role: protagonist
world:
    setting: >
        A drowned valley
        of orchards.
chapters:
    - number: 1
      title: 'Arrival'
      summary: Ilse reaches the orchard.

    # the turn
    - number: 2
      title: "The Bargain"
      summary: Corvin makes an offer.
    - number: 3
      title: 'Harvest'
      summary: >
          The fruit is picked
          at last.
notes: keep it quiet
`

const handWrittenChapterTwo = `    - number: 2
      title: "The Bargain"
      summary: Corvin makes an offer.
`

func mergeInto(t *testing.T, existingText, incomingText string) (*Collection, *Collection, Report) {
	t.Helper()
	existing, err := Parse([]byte(existingText))
	require.NoError(t, err)
	incoming, err := Parse([]byte(incomingText))
	require.NoError(t, err)
	merged, report, err := Merge(existing, incoming)
	require.NoError(t, err)
	return existing, merged, report
}

func TestEncodeMerged_PartialUpdateRewritesOnlyTouchedChapter(t *testing.T) {
	existing, merged, report := mergeInto(t, handWritten,
		"chapters:\n  - number: 2\n    title: The Price\n    summary: Corvin names his price.\n")
	require.Equal(t, ModePartial, report.Mode)

	out, err := EncodeMerged(existing, merged, report)
	require.NoError(t, err)

	want := strings.Replace(handWritten, handWrittenChapterTwo,
		"    - number: 2\n      title: The Price\n      summary: Corvin names his price.\n", 1)
	assert.Equal(t, want, string(out))
	for _, kept := range []string{
		"# Story bible for The Glass Orchard\n",
		"    title:   The Glass Orchard\n",
		"    genre: gothic fantasy   # working label\n",
		"      title: 'Arrival'\n",
		"    # the turn\n",
		"      summary: >\n          The fruit is picked\n          at last.\nnotes: keep it quiet\n",
	} {
		assert.Contains(t, string(out), kept)
	}
}

func TestEncodeMerged_PartialUpdateAddsChaptersInPlace(t *testing.T) {
	existing, merged, report := mergeInto(t, handWritten,
		"chapters:\n  - number: 3\n    title: Frost\n  - number: 4\n    title: Thaw\n")
	require.Equal(t, ModePartial, report.Mode)
	require.Equal(t, []int{3}, report.Updated)
	require.Equal(t, []int{4}, report.Added)

	out, err := EncodeMerged(existing, merged, report)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(out), strings.Split(handWritten, "    - number: 3\n")[0]))
	assert.Contains(t, string(out), "    - number: 3\n      title: Frost\n    - number: 4\n      title: Thaw\nnotes: keep it quiet\n")

	reparsed, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, reparsed.Numbers())
}

func TestEncodeMerged_InsertsMissingNumberBeforeHigherChapter(t *testing.T) {
	existing, merged, report := mergeInto(t, buildOutline([]int{1, 2, 4, 5}, "Chapter"),
		"chapters:\n  - number: 3\n    title: Bridge\n")

	out, err := EncodeMerged(existing, merged, report)
	require.NoError(t, err)

	reparsed, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, reparsed.Numbers())
	assert.Contains(t, string(out), "  - number: 3\n    title: Bridge\n  - number: 4\n")
}

func TestEncodeMerged_FlowStyleFallsBackToEncoding(t *testing.T) {
	existing, merged, report := mergeInto(t,
		"metadata: {title: T}\ncharacters: []\nworld: {setting: S}\nchapters: [{number: 1, title: A}, {number: 2, title: B}]\n",
		"chapters:\n  - number: 2\n    title: C\n")
	require.Equal(t, ModePartial, report.Mode)

	out, err := EncodeMerged(existing, merged, report)
	require.NoError(t, err)

	reparsed, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, reparsed.Numbers())
	ch, _ := reparsed.Chapter(2)
	assert.Equal(t, "C", ch.Title())
	ch, _ = reparsed.Chapter(1)
	assert.Equal(t, "A", ch.Title())
}

func TestEncode_FullReplacementKeepsDocumentComment(t *testing.T) {
	existing, merged, report := mergeInto(t, handWritten,
		"chapters:\n  - number: 1\n    title: One\n  - number: 2\n    title: Two\n  - number: 3\n    title: Three\n")
	require.Equal(t, ModeFull, report.Mode)

	out, err := EncodeMerged(existing, merged, report)
	require.NoError(t, err)
	assert.Contains(t, string(out), "# Story bible for The Glass Orchard")

	reparsed, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, "The Glass Orchard", reparsed.Metadata.Content[1].Value)
}

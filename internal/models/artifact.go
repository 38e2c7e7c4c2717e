package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ArtifactName is the logical name of one independently stored unit of
// project content.
type ArtifactName string

const (
	ArtifactPremise         ArtifactName = "premise"
	ArtifactTreatment       ArtifactName = "treatment"
	ArtifactChapterOutlines ArtifactName = "chapter-outlines"

	prosePrefix = "prose:chapter-"
)

// ProseArtifact names the prose artifact of one chapter.
func ProseArtifact(chapter int) ArtifactName {
	return ArtifactName(prosePrefix + strconv.Itoa(chapter))
}

// ChapterNumber returns the chapter of a prose artifact.
func (n ArtifactName) ChapterNumber() (int, bool) {
	rest, ok := strings.CutPrefix(string(n), prosePrefix)
	if !ok {
		return 0, false
	}
	num, err := strconv.Atoi(rest)
	if err != nil || num <= 0 {
		return 0, false
	}
	return num, true
}

func (n ArtifactName) IsProse() bool {
	_, ok := n.ChapterNumber()
	return ok
}

// Level returns the artifact's position in the dependency order.
func (n ArtifactName) Level() Level {
	switch n {
	case ArtifactPremise:
		return LevelPremise
	case ArtifactTreatment:
		return LevelTreatment
	case ArtifactChapterOutlines:
		return LevelChapterOutlines
	}
	return LevelProse
}

func (n ArtifactName) String() string { return string(n) }

// ParseArtifactName accepts the canonical names plus the aliases generated
// documents tend to use for them.
func ParseArtifactName(raw string) (ArtifactName, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	switch key {
	case "premise":
		return ArtifactPremise, nil
	case "treatment":
		return ArtifactTreatment, nil
	case "chapter-outlines", "chapter_outlines", "chapter-outline-collection", "chapter_outline_collection", "outline":
		return ArtifactChapterOutlines, nil
	}
	for _, prefix := range []string{prosePrefix, "prose:", "prose-chapter-", "chapter-", "chapter_"} {
		if rest, ok := strings.CutPrefix(key, prefix); ok {
			if num, err := strconv.Atoi(rest); err == nil && num > 0 {
				return ProseArtifact(num), nil
			}
			return "", fmt.Errorf("invalid chapter number in %q", raw)
		}
	}
	return "", fmt.Errorf("unknown artifact %q", raw)
}

// SortArtifactNames orders names by level, prose by chapter number.
func SortArtifactNames(names []ArtifactName) {
	sort.SliceStable(names, func(i, j int) bool {
		li, lj := names[i].Level(), names[j].Level()
		if li != lj {
			return li < lj
		}
		ci, _ := names[i].ChapterNumber()
		cj, _ := names[j].ChapterNumber()
		return ci < cj
	})
}

// Level is the dependency order premise -> treatment -> chapter outlines -> prose.
type Level int

const (
	LevelPremise Level = iota
	LevelTreatment
	LevelChapterOutlines
	LevelProse
)

func (l Level) String() string {
	switch l {
	case LevelPremise:
		return "premise"
	case LevelTreatment:
		return "treatment"
	case LevelChapterOutlines:
		return "chapter-outlines"
	case LevelProse:
		return "prose"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "premise":
		return LevelPremise, nil
	case "treatment":
		return LevelTreatment, nil
	case "chapter-outlines", "outlines", "chapters":
		return LevelChapterOutlines, nil
	case "prose":
		return LevelProse, nil
	}
	return 0, fmt.Errorf("unknown level %q", raw)
}

// Artifact is one artifact as read from the store.
type Artifact struct {
	Name       ArtifactName `json:"name"`
	Path       string       `json:"path"`
	Content    []byte       `json:"-"`
	ModifiedAt time.Time    `json:"modifiedAt"`
	Legacy     bool         `json:"legacy,omitempty"`
}

type WriteAction string

const (
	WriteCreated   WriteAction = "created"
	WriteUpdated   WriteAction = "updated"
	WriteUnchanged WriteAction = "unchanged"
	WriteDeleted   WriteAction = "deleted"
)

// ArtifactWriteResult reports what happened to one artifact during a merge.
type ArtifactWriteResult struct {
	Name   ArtifactName `json:"name"`
	Path   string       `json:"path"`
	Action WriteAction  `json:"action"`
	Detail string       `json:"detail,omitempty"`
}

// Changed reports whether the artifact's on-disk content changed.
func (r ArtifactWriteResult) Changed() bool {
	return r.Action == WriteCreated || r.Action == WriteUpdated || r.Action == WriteDeleted
}

package outline

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Mode describes how an incoming collection was folded into the existing one.
type Mode string

const (
	ModeCreate  Mode = "create"
	ModePartial Mode = "partial"
	ModeFull    Mode = "full"
)

// Report summarizes a merge.
type Report struct {
	Mode          Mode
	IncomingCount int
	ExistingCount int
	Updated       []int
	Added         []int
	Removed       []int
	// Ignored lists shared sections present in a partial update that were
	// not applied because partial updates never touch them.
	Ignored []string
}

// Merge folds incoming into existing and returns a new collection. Neither
// input is modified.
//
// When incoming carries fewer chapters than existing, only the chapters it
// names are replaced (by number) and every other part of existing is kept
// as-is, including metadata, characters and world. Otherwise incoming's
// chapters replace the list, and each shared section comes from incoming
// when present, else from existing.
func Merge(existing, incoming *Collection) (*Collection, Report, error) {
	if incoming == nil {
		return nil, Report{}, fmt.Errorf("%w: nothing to merge", ErrInvalid)
	}
	in := incoming.Clone()
	for _, ch := range in.Chapters {
		BlockStyle(ch.Node)
	}
	BlockStyle(in.Metadata)
	BlockStyle(in.Characters)
	BlockStyle(in.World)

	if existing == nil {
		report := Report{Mode: ModeCreate, IncomingCount: len(in.Chapters), Added: sortedInts(in.Numbers())}
		if err := in.Validate(); err != nil {
			return nil, report, err
		}
		return in, report, nil
	}

	report := Report{IncomingCount: len(in.Chapters), ExistingCount: len(existing.Chapters)}
	var merged *Collection
	if report.IncomingCount < report.ExistingCount {
		report.Mode = ModePartial
		merged = mergePartial(existing, in, &report)
	} else {
		report.Mode = ModeFull
		merged = mergeFull(existing, in, &report)
	}
	if err := merged.Validate(); err != nil {
		return nil, report, err
	}
	return merged, report, nil
}

func mergePartial(existing, in *Collection, report *Report) *Collection {
	merged := existing.Clone()
	if in.Metadata != nil {
		report.Ignored = append(report.Ignored, KeyMetadata)
	}
	if in.Characters != nil {
		report.Ignored = append(report.Ignored, KeyCharacters)
	}
	if in.World != nil {
		report.Ignored = append(report.Ignored, KeyWorld)
	}

	index := make(map[int]int, len(merged.Chapters))
	for i, ch := range merged.Chapters {
		index[ch.Number] = i
	}
	var added []Chapter
	for _, ch := range in.Chapters {
		if i, ok := index[ch.Number]; ok {
			merged.Chapters[i] = Chapter{Number: ch.Number, Node: ch.Node}
			report.Updated = append(report.Updated, ch.Number)
			continue
		}
		added = append(added, ch)
		report.Added = append(report.Added, ch.Number)
	}
	for _, ch := range added {
		merged.Chapters = insertOrdered(merged.Chapters, ch)
	}
	sort.Ints(report.Updated)
	sort.Ints(report.Added)
	return merged
}

func mergeFull(existing, in *Collection, report *Report) *Collection {
	merged := &Collection{
		Metadata:    pick(in.Metadata, existing.Metadata),
		Characters:  pick(in.Characters, existing.Characters),
		World:       pick(in.World, existing.World),
		Chapters:    in.Chapters,
		HasChapters: in.HasChapters || existing.HasChapters,
	}
	kept := existing.Clone()
	merged.headComment = kept.headComment
	merged.footComment = kept.footComment
	merged.keys = kept.keys
	if !in.HasChapters {
		merged.Chapters = kept.Chapters
	}
	merged.Extras = kept.Extras
	for _, extra := range in.Extras {
		merged.Extras = setExtra(merged.Extras, extra)
	}

	before := make(map[int]bool, len(existing.Chapters))
	for _, ch := range existing.Chapters {
		before[ch.Number] = true
	}
	after := make(map[int]bool, len(merged.Chapters))
	for _, ch := range merged.Chapters {
		after[ch.Number] = true
		if before[ch.Number] {
			report.Updated = append(report.Updated, ch.Number)
		} else {
			report.Added = append(report.Added, ch.Number)
		}
	}
	for _, ch := range existing.Chapters {
		if !after[ch.Number] {
			report.Removed = append(report.Removed, ch.Number)
		}
	}
	sort.Ints(report.Updated)
	sort.Ints(report.Added)
	sort.Ints(report.Removed)
	return merged
}

func pick(preferred, fallback *yaml.Node) *yaml.Node {
	if preferred != nil {
		return preferred
	}
	return CloneNode(fallback)
}

// insertOrdered places ch before the first chapter with a higher number.
func insertOrdered(chapters []Chapter, ch Chapter) []Chapter {
	at := len(chapters)
	for i, existing := range chapters {
		if existing.Number > ch.Number {
			at = i
			break
		}
	}
	chapters = append(chapters, Chapter{})
	copy(chapters[at+1:], chapters[at:])
	chapters[at] = ch
	return chapters
}

func setExtra(extras []Extra, extra Extra) []Extra {
	for i := range extras {
		if extras[i].Key == extra.Key {
			extras[i] = extra
			return extras
		}
	}
	return append(extras, extra)
}

package patch

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DefaultContext is the number of unchanged lines kept around each change.
const DefaultContext = 3

type op struct {
	kind LineKind
	text string
}

// Diff computes a line-level unified patch turning oldContent into
// newContent. It returns nil when both are equal.
func Diff(path, oldContent, newContent string) *Patch {
	if oldContent == newContent {
		return nil
	}
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	a, b, lineArray := dmp.DiffLinesToChars(withNewline(oldContent), withNewline(newContent))
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var ops []op
	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		kind := LineContext
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			kind = LineAdded
		case diffmatchpatch.DiffDelete:
			kind = LineRemoved
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			ops = append(ops, op{kind: kind, text: line})
		}
	}

	hunks := groupHunks(ops, DefaultContext)
	if len(hunks) == 0 {
		return nil
	}
	return &Patch{OldFile: path, NewFile: path, Hunks: hunks}
}

func withNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// groupHunks turns a flat op list into hunks, merging changes whose
// context windows touch.
func groupHunks(ops []op, context int) []Hunk {
	var changed []int
	for i, o := range ops {
		if o.kind != LineContext {
			changed = append(changed, i)
		}
	}
	if len(changed) == 0 {
		return nil
	}

	// old/new line counts before each op index
	oldBefore := make([]int, len(ops)+1)
	newBefore := make([]int, len(ops)+1)
	for i, o := range ops {
		oldBefore[i+1], newBefore[i+1] = oldBefore[i], newBefore[i]
		if o.kind != LineAdded {
			oldBefore[i+1]++
		}
		if o.kind != LineRemoved {
			newBefore[i+1]++
		}
	}

	var hunks []Hunk
	start := max(changed[0]-context, 0)
	end := min(changed[0]+context+1, len(ops))
	emit := func(from, to int) {
		h := Hunk{}
		for _, o := range ops[from:to] {
			h.Lines = append(h.Lines, Line{Kind: o.kind, Text: o.text})
		}
		h.OldCount, h.NewCount = len(h.OldLines()), len(h.NewLines())
		h.OldStart, h.NewStart = oldBefore[from], newBefore[from]
		if h.OldCount > 0 {
			h.OldStart++
		}
		if h.NewCount > 0 {
			h.NewStart++
		}
		hunks = append(hunks, h)
	}
	for _, idx := range changed[1:] {
		if idx-context <= end {
			end = min(idx+context+1, len(ops))
			continue
		}
		emit(start, end)
		start = idx - context
		end = min(idx+context+1, len(ops))
	}
	emit(start, end)
	return hunks
}

// Format renders p as unified diff text.
func Format(p *Patch) string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", p.OldFile, p.NewFile)
	for _, h := range p.Hunks {
		fmt.Fprintf(&b, "@@ -%s +%s @@", rangeSpec(h.OldStart, h.OldCount), rangeSpec(h.NewStart, h.NewCount))
		if h.Section != "" {
			b.WriteString(" " + h.Section)
		}
		b.WriteByte('\n')
		for _, l := range h.Lines {
			b.WriteByte(byte(l.Kind))
			b.WriteString(l.Text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func rangeSpec(start, count int) string {
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}

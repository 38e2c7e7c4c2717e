// Package patch parses, validates and applies single-file unified diffs.
package patch

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrMalformed      = errors.New("malformed patch")
	ErrAnchorNotFound = errors.New("hunk context not found")
	ErrConflict       = errors.New("hunk conflicts with content")
)

// LineKind is the unified diff line prefix.
type LineKind byte

const (
	LineContext LineKind = ' '
	LineRemoved LineKind = '-'
	LineAdded   LineKind = '+'
)

// Line is one body line of a hunk.
type Line struct {
	Kind LineKind
	Text string
}

// Hunk is one contiguous block of changes.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Section  string
	Lines    []Line
}

// OldLines returns the context and removed lines: the block the hunk expects to find.
func (h Hunk) OldLines() []string {
	var out []string
	for _, l := range h.Lines {
		if l.Kind != LineAdded {
			out = append(out, l.Text)
		}
	}
	return out
}

// NewLines returns the context and added lines: the block the hunk leaves behind.
func (h Hunk) NewLines() []string {
	var out []string
	for _, l := range h.Lines {
		if l.Kind != LineRemoved {
			out = append(out, l.Text)
		}
	}
	return out
}

// Anchor returns the hunk's context lines.
func (h Hunk) Anchor() []string {
	var out []string
	for _, l := range h.Lines {
		if l.Kind == LineContext {
			out = append(out, l.Text)
		}
	}
	return out
}

func (h Hunk) changes() int {
	n := 0
	for _, l := range h.Lines {
		if l.Kind != LineContext {
			n++
		}
	}
	return n
}

// Patch is a single-file unified diff.
type Patch struct {
	OldFile string
	NewFile string
	Hunks   []Hunk
}

// Stats counts added and removed lines.
func (p *Patch) Stats() (added, removed int) {
	for _, h := range p.Hunks {
		for _, l := range h.Lines {
			switch l.Kind {
			case LineAdded:
				added++
			case LineRemoved:
				removed++
			}
		}
	}
	return added, removed
}

var (
	hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@ ?(.*)$`)
	fenceRe      = regexp.MustCompile("(?s)```(?:diff|patch|udiff)?[ \t]*\n(.*?)\n?```")
)

// Parse reads a unified diff. The text must start (after optional preamble
// such as "diff --git" or "index" lines) with a ---/+++ header pair and hold
// at least one @@ hunk. Hunk counts are recomputed from the body since
// generated diffs often get them wrong.
func Parse(text string) (*Patch, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if m := fenceRe.FindStringSubmatch(text); len(m) > 1 {
		text = m[1]
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")

	i := 0
	for i < len(lines) && !strings.HasPrefix(lines[i], "--- ") {
		if strings.HasPrefix(lines[i], "@@") || strings.HasPrefix(lines[i], "+++ ") {
			return nil, fmt.Errorf("%w: missing --- file header", ErrMalformed)
		}
		i++
	}
	if i >= len(lines) {
		return nil, fmt.Errorf("%w: missing --- file header", ErrMalformed)
	}
	if i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "+++ ") {
		return nil, fmt.Errorf("%w: missing +++ file header", ErrMalformed)
	}
	p := &Patch{
		OldFile: headerPath(lines[i], "--- "),
		NewFile: headerPath(lines[i+1], "+++ "),
	}
	i += 2

	var cur *Hunk
	flush := func() error {
		if cur == nil {
			return nil
		}
		if cur.changes() == 0 {
			return fmt.Errorf("%w: hunk %d has no changes", ErrMalformed, len(p.Hunks)+1)
		}
		cur.OldCount, cur.NewCount = len(cur.OldLines()), len(cur.NewLines())
		p.Hunks = append(p.Hunks, *cur)
		cur = nil
		return nil
	}

	for ; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "@@"):
			if err := flush(); err != nil {
				return nil, err
			}
			m := hunkHeaderRe.FindStringSubmatch(line)
			if m == nil {
				return nil, fmt.Errorf("%w: bad hunk header %q", ErrMalformed, line)
			}
			cur = &Hunk{
				OldStart: atoi(m[1]),
				NewStart: atoi(m[3]),
				Section:  strings.TrimSpace(m[5]),
			}
		case strings.HasPrefix(line, "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ "):
			return nil, fmt.Errorf("%w: patch touches more than one file", ErrMalformed)
		case strings.HasPrefix(line, `\`):
			// "\ No newline at end of file"
		case cur == nil:
			return nil, fmt.Errorf("%w: content before first hunk header", ErrMalformed)
		case line == "":
			cur.Lines = append(cur.Lines, Line{Kind: LineContext})
		default:
			kind := LineKind(line[0])
			switch kind {
			case LineContext, LineRemoved, LineAdded:
				cur.Lines = append(cur.Lines, Line{Kind: kind, Text: line[1:]})
			default:
				return nil, fmt.Errorf("%w: unexpected line %q in hunk", ErrMalformed, line)
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(p.Hunks) == 0 {
		return nil, fmt.Errorf("%w: no hunks", ErrMalformed)
	}
	return p, nil
}

func headerPath(line, prefix string) string {
	path := strings.TrimPrefix(line, prefix)
	if tab := strings.IndexByte(path, '\t'); tab >= 0 {
		path = path[:tab]
	}
	path = strings.TrimSpace(path)
	for _, p := range []string{"a/", "b/"} {
		if strings.HasPrefix(path, p) {
			return strings.TrimPrefix(path, p)
		}
	}
	return path
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// Validate checks that every hunk's expected block exists verbatim in content.
func Validate(p *Patch, content string) error {
	lines, _ := splitLines(content)
	for i, h := range p.Hunks {
		old := h.OldLines()
		if len(old) == 0 {
			if len(lines) > 0 && len(h.Anchor()) == 0 && h.OldStart > len(lines) {
				return fmt.Errorf("%w: hunk %d inserts past end of content", ErrAnchorNotFound, i+1)
			}
			continue
		}
		if locate(lines, old, 0, h.OldStart-1) < 0 {
			return fmt.Errorf("%w: hunk %d (first line %q)", ErrAnchorNotFound, i+1, old[0])
		}
	}
	return nil
}

// Apply applies the hunks in order. Each hunk's expected block is matched
// nearest its header position at or after the end of the previous hunk;
// content outside the hunks is left untouched.
func Apply(p *Patch, content string) (string, error) {
	lines, trailingNewline := splitLines(content)
	if len(lines) == 0 {
		trailingNewline = true
	}
	out := make([]string, 0, len(lines))
	cursor, offset := 0, 0
	for i, h := range p.Hunks {
		old := h.OldLines()
		var pos int
		if len(old) == 0 {
			pos = h.OldStart + offset
			if pos < cursor {
				pos = cursor
			}
			if pos > len(lines) {
				return "", fmt.Errorf("%w: hunk %d inserts past end of content", ErrConflict, i+1)
			}
		} else {
			pos = locate(lines, old, cursor, h.OldStart-1+offset)
			if pos < 0 {
				if locate(lines, old, 0, h.OldStart-1) >= 0 {
					return "", fmt.Errorf("%w: hunk %d overlaps a previous hunk", ErrConflict, i+1)
				}
				return "", fmt.Errorf("%w: hunk %d (first line %q)", ErrAnchorNotFound, i+1, old[0])
			}
			offset = pos - (h.OldStart - 1)
		}
		out = append(out, lines[cursor:pos]...)
		out = append(out, h.NewLines()...)
		cursor = pos + len(old)
	}
	out = append(out, lines[cursor:]...)
	if len(out) == 0 {
		return "", nil
	}
	result := strings.Join(out, "\n")
	if trailingNewline {
		result += "\n"
	}
	return result, nil
}

// Invert returns the patch that undoes p.
func Invert(p *Patch) *Patch {
	inv := &Patch{OldFile: p.NewFile, NewFile: p.OldFile}
	for _, h := range p.Hunks {
		ih := Hunk{
			OldStart: h.NewStart,
			OldCount: h.NewCount,
			NewStart: h.OldStart,
			NewCount: h.OldCount,
			Section:  h.Section,
			Lines:    make([]Line, len(h.Lines)),
		}
		for i, l := range h.Lines {
			switch l.Kind {
			case LineAdded:
				l.Kind = LineRemoved
			case LineRemoved:
				l.Kind = LineAdded
			}
			ih.Lines[i] = l
		}
		inv.Hunks = append(inv.Hunks, ih)
	}
	return inv
}

// locate finds block in lines at an index >= from, preferring the match
// closest to hint. Returns -1 when there is none.
func locate(lines, block []string, from, hint int) int {
	best, bestDist := -1, 0
	for j := from; j+len(block) <= len(lines); j++ {
		if !equalAt(lines, block, j) {
			continue
		}
		dist := j - hint
		if dist < 0 {
			dist = -dist
		}
		if best < 0 || dist < bestDist {
			best, bestDist = j, dist
		}
	}
	return best
}

func equalAt(lines, block []string, at int) bool {
	for k, want := range block {
		if lines[at+k] != want {
			return false
		}
	}
	return true
}

func splitLines(content string) ([]string, bool) {
	if content == "" {
		return nil, false
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	trailing := strings.HasSuffix(content, "\n")
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n"), trailing
}

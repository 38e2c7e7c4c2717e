package outline

import (
	"bytes"
	"errors"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var errNoSplice = errors.New("outline layout cannot be edited in place")

// EncodeMerged serializes the result of Merge(existing, ...). A partial
// update rewrites only the lines of the chapters it touched; every other byte
// of the existing document is kept. Layouts that cannot be edited in place
// (flow style, dash on its own line...) are re-encoded instead.
func EncodeMerged(existing, merged *Collection, report Report) ([]byte, error) {
	if report.Mode == ModePartial && existing != nil && len(existing.src) > 0 {
		if out, err := splice(existing, merged, report); err == nil {
			return out, nil
		}
	}
	return Encode(merged)
}

type lineSpan struct {
	start, end int
	indent     int
}

type lineEdit struct {
	start, end int
	text       string
}

func splice(existing, merged *Collection, report Report) ([]byte, error) {
	seqNode := existing.chaptersSeq
	if seqNode == nil || seqNode.Style&yaml.FlowStyle != 0 || len(existing.Chapters) == 0 {
		return nil, errNoSplice
	}
	lines := splitLines(existing.src)

	seqEnd := len(lines)
	if next := nextKeyLine(existing, KeyChapters); next > 0 {
		seqEnd = next - 1
	}

	spans := make([]lineSpan, len(existing.Chapters))
	for i, ch := range existing.Chapters {
		if ch.Node.Style&yaml.FlowStyle != 0 {
			return nil, errNoSplice
		}
		start := ch.Node.Line - 1
		if start < 0 || start >= len(lines) {
			return nil, errNoSplice
		}
		line := lines[start]
		indent := len(line) - len(strings.TrimLeft(line, " "))
		if !strings.HasPrefix(line[indent:], "- ") {
			return nil, errNoSplice
		}
		spans[i] = lineSpan{start: start, indent: indent}
	}
	for i := range spans {
		end := seqEnd
		if i+1 < len(spans) {
			end = spans[i+1].start
		}
		for end > spans[i].start+1 && isTrivia(lines[end-1]) {
			end--
		}
		if end <= spans[i].start {
			return nil, errNoSplice
		}
		spans[i].end = end
	}

	var edits []lineEdit
	for _, n := range report.Updated {
		i := chapterIndex(existing, n)
		ch, ok := merged.Chapter(n)
		if i < 0 || !ok {
			return nil, errNoSplice
		}
		text, err := renderChapter(ch.Node, spans[i].indent)
		if err != nil {
			return nil, err
		}
		edits = append(edits, lineEdit{start: spans[i].start, end: spans[i].end, text: text})
	}
	for _, n := range report.Added {
		ch, ok := merged.Chapter(n)
		if !ok {
			return nil, errNoSplice
		}
		at, indent := spans[len(spans)-1].end, spans[len(spans)-1].indent
		for i, existingCh := range existing.Chapters {
			if existingCh.Number > n {
				at, indent = spans[i].start, spans[i].indent
				break
			}
		}
		text, err := renderChapter(ch.Node, indent)
		if err != nil {
			return nil, err
		}
		edits = append(edits, lineEdit{start: at, end: at, text: text})
	}

	// Insertions go before a replacement starting on the same line.
	sort.SliceStable(edits, func(a, b int) bool {
		if edits[a].start != edits[b].start {
			return edits[a].start < edits[b].start
		}
		return edits[a].start == edits[a].end && edits[b].start != edits[b].end
	})

	var out bytes.Buffer
	pos := 0
	for pos <= len(lines) {
		for _, e := range edits {
			if e.start != pos {
				continue
			}
			if out.Len() > 0 && !bytes.HasSuffix(out.Bytes(), []byte("\n")) {
				out.WriteByte('\n')
			}
			out.WriteString(e.text)
		}
		skip := pos
		for _, e := range edits {
			if e.start == pos && e.end > skip {
				skip = e.end
			}
		}
		if skip > pos {
			pos = skip
			continue
		}
		if pos < len(lines) {
			out.WriteString(lines[pos])
		}
		pos++
	}

	if err := sameDocument(out.Bytes(), merged); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// sameDocument checks that the edited bytes decode to the merged collection.
func sameDocument(data []byte, merged *Collection) error {
	var got, want any
	if err := yaml.Unmarshal(data, &got); err != nil {
		return errNoSplice
	}
	if err := merged.Node().Decode(&want); err != nil {
		return errNoSplice
	}
	if !reflect.DeepEqual(got, want) {
		return errNoSplice
	}
	return nil
}

func renderChapter(node *yaml.Node, indent int) (string, error) {
	data, err := EncodeNode(&yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Content: []*yaml.Node{node}})
	if err != nil {
		return "", err
	}
	pad := strings.Repeat(" ", indent)
	var b strings.Builder
	for _, line := range splitLines(data) {
		if strings.TrimSpace(line) != "" {
			b.WriteString(pad)
		}
		b.WriteString(line)
	}
	return b.String(), nil
}

// nextKeyLine returns the 1-based line of the top-level key following key,
// or 0 when key is last.
func nextKeyLine(c *Collection, key string) int {
	own, ok := c.keys[key]
	if !ok {
		return 0
	}
	next := 0
	for _, k := range c.keys {
		if k.Line > own.Line && (next == 0 || k.Line < next) {
			next = k.Line
		}
	}
	return next
}

func chapterIndex(c *Collection, number int) int {
	for i, ch := range c.Chapters {
		if ch.Number == number {
			return i
		}
	}
	return -1
}

// isTrivia reports blank and comment-only lines.
func isTrivia(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" || strings.HasPrefix(trimmed, "#")
}

// splitLines splits data after each newline, keeping the newlines.
func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	parts := strings.SplitAfter(string(data), "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

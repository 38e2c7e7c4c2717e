package models

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"narraweave/internal/outline"
	"narraweave/internal/utils"

	"gopkg.in/yaml.v3"
)

// ViewSection is one artifact's content inside a unified view.
type ViewSection struct {
	Name    ArtifactName
	Path    string
	Content []byte
	// Outline is set for a chapter outline artifact that parsed cleanly.
	Outline *outline.Collection
}

// UnifiedView is every artifact of a project assembled into one document.
// It is built fresh for each operation and never persisted.
type UnifiedView struct {
	Project     string
	AssembledAt time.Time
	Sections    []ViewSection
}

func (v *UnifiedView) Section(name ArtifactName) (ViewSection, bool) {
	for _, s := range v.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return ViewSection{}, false
}

func (v *UnifiedView) Has(name ArtifactName) bool {
	_, ok := v.Section(name)
	return ok
}

func (v *UnifiedView) Names() []ArtifactName {
	out := make([]ArtifactName, 0, len(v.Sections))
	for _, s := range v.Sections {
		out = append(out, s.Name)
	}
	return out
}

// Node renders the view as a flat mapping keyed by artifact name. Text
// artifacts become literal block scalars and a parsed outline is embedded
// as structure, the same shape ParseGeneratedDocument reads back.
func (v *UnifiedView) Node() *yaml.Node {
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, s := range v.Sections {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(s.Name)}
		var val *yaml.Node
		if s.Outline != nil {
			val = s.Outline.Node()
		} else {
			val = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(s.Content), Style: yaml.LiteralStyle}
		}
		root.Content = append(root.Content, key, val)
	}
	return root
}

// YAML encodes the flat view.
func (v *UnifiedView) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v.Node()); err != nil {
		return nil, fmt.Errorf("failed to encode unified view: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode unified view: %w", err)
	}
	return buf.Bytes(), nil
}

// Summary renders a trimmed view for classification: the premise in full,
// longer text reduced to headings and lead paragraphs, the outline reduced
// to chapter numbers and titles. The result is capped at limit runes.
func (v *UnifiedView) Summary(limit int) string {
	var b strings.Builder
	for _, s := range v.Sections {
		fmt.Fprintf(&b, "## %s\n", s.Name)
		switch {
		case s.Name == ArtifactPremise:
			b.WriteString(strings.TrimSpace(string(s.Content)))
		case s.Outline != nil:
			b.WriteString(outlineSummary(s.Outline))
		case s.Name == ArtifactChapterOutlines:
			b.WriteString(utils.Truncate(strings.TrimSpace(string(s.Content)), 1500))
		default:
			b.WriteString(utils.SummarizeMarkdown(s.Content))
		}
		b.WriteString("\n\n")
	}
	return utils.Truncate(strings.TrimSpace(b.String()), limit)
}

func outlineSummary(c *outline.Collection) string {
	var lines []string
	if title := scalar(c.Metadata, "title"); title != "" {
		lines = append(lines, "title: "+title)
	}
	if c.Characters != nil {
		n := len(c.Characters.Content)
		if c.Characters.Kind == yaml.MappingNode {
			n /= 2
		}
		lines = append(lines, fmt.Sprintf("characters: %d", n))
	}
	for _, ch := range c.Chapters {
		lines = append(lines, fmt.Sprintf("chapter %d: %s", ch.Number, ch.Title()))
	}
	return strings.Join(lines, "\n")
}

func scalar(n *yaml.Node, key string) string {
	if n == nil || n.Kind != yaml.MappingNode {
		return ""
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key && n.Content[i+1].Kind == yaml.ScalarNode {
			return n.Content[i+1].Value
		}
	}
	return ""
}

package models

import (
	"fmt"
	"strings"

	"narraweave/internal/outline"
	"narraweave/internal/utils"

	"gopkg.in/yaml.v3"
)

// GeneratedSection is one recognized top-level section of a backend response.
type GeneratedSection struct {
	Name ArtifactName
	Key  string
	Node *yaml.Node
}

// Text returns the section as plain text. Structured values are rejected.
func (s GeneratedSection) Text() (string, error) {
	if s.Node.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("section %q must be text", s.Key)
	}
	if s.Node.Tag == "!!null" {
		return "", nil
	}
	return s.Node.Value, nil
}

// Outline decodes a chapter outline section given either as structure or
// as an embedded YAML/JSON string.
func (s GeneratedSection) Outline() (*outline.Collection, error) {
	switch s.Node.Kind {
	case yaml.MappingNode:
		return outline.FromNode(s.Node)
	case yaml.ScalarNode:
		return outline.Parse([]byte(utils.StripCodeFence(s.Node.Value)))
	}
	return nil, fmt.Errorf("%w: section %q must be a mapping", outline.ErrInvalid, s.Key)
}

// GeneratedDocument is a parsed backend response in the unified view shape.
type GeneratedDocument struct {
	Sections []GeneratedSection
	// Unknown lists top-level keys that name no artifact.
	Unknown []string
}

func (d *GeneratedDocument) Section(name ArtifactName) (GeneratedSection, bool) {
	for _, s := range d.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return GeneratedSection{}, false
}

func (d *GeneratedDocument) Names() []ArtifactName {
	out := make([]ArtifactName, 0, len(d.Sections))
	for _, s := range d.Sections {
		out = append(out, s.Name)
	}
	return out
}

// ParseGeneratedDocument splits a flat YAML (or JSON) response into artifact
// sections. A single wrapper key around an otherwise flat document is
// tolerated, and the outline's own keys (metadata, chapters...) at the top
// level are read as the chapter outline section. Two keys naming the same
// artifact are a violation.
func ParseGeneratedDocument(data []byte) (*GeneratedDocument, error) {
	body := utils.StripCodeFence(utils.NormalizeNewlines(string(data)))
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
		return nil, &MergeInvariantError{Reason: "response is not valid YAML or JSON", Err: err}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, &MergeInvariantError{Reason: "response is empty"}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &MergeInvariantError{Reason: "response top level must be a mapping"}
	}

	out, err := splitSections(root)
	if err != nil {
		return nil, err
	}
	if len(out.Sections) == 0 && len(root.Content) == 2 && root.Content[1].Kind == yaml.MappingNode {
		if inner, err := splitSections(root.Content[1]); err == nil && len(inner.Sections) > 0 {
			return inner, nil
		}
	}
	return out, nil
}

func splitSections(root *yaml.Node) (*GeneratedDocument, error) {
	out := &GeneratedDocument{}
	seen := make(map[ArtifactName]string)
	bare := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	var bareKeys []string
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		if isOutlineKey(key) {
			bare.Content = append(bare.Content, root.Content[i], root.Content[i+1])
			bareKeys = append(bareKeys, key)
			continue
		}
		name, err := ParseArtifactName(key)
		if err != nil {
			if strings.HasPrefix(strings.ToLower(strings.TrimSpace(key)), "prose") {
				return nil, &MergeInvariantError{Section: key, Reason: "invalid prose key", Err: err}
			}
			out.Unknown = append(out.Unknown, key)
			continue
		}
		if prev, dup := seen[name]; dup {
			return nil, &MergeInvariantError{
				Section: string(name),
				Reason:  fmt.Sprintf("keys %q and %q both name this artifact", prev, key),
			}
		}
		seen[name] = key
		out.Sections = append(out.Sections, GeneratedSection{Name: name, Key: strings.TrimSpace(key), Node: root.Content[i+1]})
	}
	if len(bareKeys) > 0 {
		if _, ok := seen[ArtifactChapterOutlines]; ok {
			out.Unknown = append(out.Unknown, bareKeys...)
		} else {
			out.Sections = append(out.Sections, GeneratedSection{Name: ArtifactChapterOutlines, Key: strings.Join(bareKeys, ","), Node: bare})
		}
	}
	return out, nil
}

func isOutlineKey(key string) bool {
	switch key {
	case outline.KeyMetadata, outline.KeyCharacters, outline.KeyWorld, outline.KeyChapters:
		return true
	}
	return false
}

// Package outline parses, encodes and merges the chapter outline collection.
//
// Records are kept as yaml.Node trees rather than typed structs so that fields
// the engine does not model (beats, pov, notes...) survive a round trip.
package outline

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	KeyMetadata   = "metadata"
	KeyCharacters = "characters"
	KeyWorld      = "world"
	KeyChapters   = "chapters"
)

var (
	ErrInvalid          = errors.New("invalid chapter outline")
	ErrIncomplete       = errors.New("chapter outline is missing a required section")
	ErrDuplicateChapter = errors.New("duplicate chapter number")
)

// Chapter is one record of the chapters list, keyed by its number.
type Chapter struct {
	Number int
	Node   *yaml.Node
}

// Title returns the chapter's title field, if any.
func (c Chapter) Title() string {
	return scalarField(c.Node, "title")
}

// Field returns a scalar field of the chapter record.
func (c Chapter) Field(name string) string {
	return scalarField(c.Node, name)
}

// Extra is a top-level key outside the four known sections.
type Extra struct {
	Key   string
	Value *yaml.Node
}

// Collection is a parsed chapter outline artifact. Nil section nodes mean
// the section was absent from the source document.
type Collection struct {
	Metadata    *yaml.Node
	Characters  *yaml.Node
	World       *yaml.Node
	Chapters    []Chapter
	HasChapters bool
	Extras      []Extra

	// Source layout. src and the document comments come from Parse; keys
	// and chaptersSeq from FromNode.
	src         []byte
	headComment string
	footComment string
	keys        map[string]*yaml.Node
	chaptersSeq *yaml.Node
}

// Parse decodes a collection. It accepts fragments (any subset of the
// sections); use Validate to require a complete document.
func Parse(data []byte) (*Collection, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	root := &doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil, fmt.Errorf("%w: empty document", ErrInvalid)
		}
		root = root.Content[0]
	}
	c, err := FromNode(root)
	if err != nil {
		return nil, err
	}
	c.src = append([]byte(nil), data...)
	c.headComment = doc.HeadComment
	c.footComment = doc.FootComment
	return c, nil
}

// FromNode builds a collection from an already decoded mapping node.
func FromNode(root *yaml.Node) (*Collection, error) {
	if root == nil || root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping", ErrInvalid)
	}
	c := &Collection{keys: make(map[string]*yaml.Node, len(root.Content)/2)}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		val := root.Content[i+1]
		c.keys[key] = root.Content[i]
		switch key {
		case KeyMetadata:
			c.Metadata = val
		case KeyCharacters:
			c.Characters = val
		case KeyWorld:
			c.World = val
		case KeyChapters:
			chapters, err := parseChapters(val)
			if err != nil {
				return nil, err
			}
			c.Chapters = chapters
			c.HasChapters = true
			c.chaptersSeq = val
		default:
			c.Extras = append(c.Extras, Extra{Key: key, Value: val})
		}
	}
	return c, nil
}

func parseChapters(node *yaml.Node) ([]Chapter, error) {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%w: chapters must be a list", ErrInvalid)
	}
	seen := make(map[int]bool, len(node.Content))
	chapters := make([]Chapter, 0, len(node.Content))
	for i, item := range node.Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: chapter entry %d is not a mapping", ErrInvalid, i+1)
		}
		raw := scalarField(item, "number")
		if raw == "" {
			return nil, fmt.Errorf("%w: chapter entry %d has no number", ErrInvalid, i+1)
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: chapter entry %d has invalid number %q", ErrInvalid, i+1, raw)
		}
		if seen[n] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateChapter, n)
		}
		seen[n] = true
		chapters = append(chapters, Chapter{Number: n, Node: item})
	}
	return chapters, nil
}

// Validate requires all four top-level sections.
func (c *Collection) Validate() error {
	var missing []string
	if c.Metadata == nil {
		missing = append(missing, KeyMetadata)
	}
	if c.Characters == nil {
		missing = append(missing, KeyCharacters)
	}
	if c.World == nil {
		missing = append(missing, KeyWorld)
	}
	if !c.HasChapters {
		missing = append(missing, KeyChapters)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrIncomplete, strings.Join(missing, ", "))
	}
	return nil
}

// Chapter looks up a chapter by number.
func (c *Collection) Chapter(number int) (Chapter, bool) {
	for _, ch := range c.Chapters {
		if ch.Number == number {
			return ch, true
		}
	}
	return Chapter{}, false
}

// Numbers returns the chapter numbers in document order.
func (c *Collection) Numbers() []int {
	out := make([]int, 0, len(c.Chapters))
	for _, ch := range c.Chapters {
		out = append(out, ch.Number)
	}
	return out
}

// Node renders the collection back into a mapping node in canonical key order.
func (c *Collection) Node() *yaml.Node {
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	add := func(key string, val *yaml.Node) {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
		if orig, ok := c.keys[key]; ok {
			keyNode = CloneNode(orig)
		}
		root.Content = append(root.Content, keyNode, val)
	}
	if c.Metadata != nil {
		add(KeyMetadata, c.Metadata)
	}
	if c.Characters != nil {
		add(KeyCharacters, c.Characters)
	}
	if c.World != nil {
		add(KeyWorld, c.World)
	}
	if c.HasChapters {
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		if c.chaptersSeq != nil {
			seq.HeadComment = c.chaptersSeq.HeadComment
			seq.LineComment = c.chaptersSeq.LineComment
			seq.FootComment = c.chaptersSeq.FootComment
		}
		for _, ch := range c.Chapters {
			seq.Content = append(seq.Content, ch.Node)
		}
		add(KeyChapters, seq)
	}
	for _, extra := range c.Extras {
		add(extra.Key, extra.Value)
	}
	return root
}

// Encode serializes the collection as YAML, keeping the document's head and
// foot comments.
func Encode(c *Collection) ([]byte, error) {
	root := c.Node()
	if c.headComment == "" && c.footComment == "" {
		return EncodeNode(root)
	}
	return EncodeNode(&yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: c.headComment,
		FootComment: c.footComment,
		Content:     []*yaml.Node{root},
	})
}

// EncodeNode serializes a single node with the collection's indentation.
func EncodeNode(n *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return nil, fmt.Errorf("encode outline: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode outline: %w", err)
	}
	return buf.Bytes(), nil
}

// Clone deep-copies the collection.
func (c *Collection) Clone() *Collection {
	if c == nil {
		return nil
	}
	out := &Collection{
		Metadata:    CloneNode(c.Metadata),
		Characters:  CloneNode(c.Characters),
		World:       CloneNode(c.World),
		HasChapters: c.HasChapters,
		src:         c.src,
		headComment: c.headComment,
		footComment: c.footComment,
		chaptersSeq: c.chaptersSeq,
	}
	if c.keys != nil {
		out.keys = make(map[string]*yaml.Node, len(c.keys))
		for k, v := range c.keys {
			out.keys[k] = CloneNode(v)
		}
	}
	for _, ch := range c.Chapters {
		out.Chapters = append(out.Chapters, Chapter{Number: ch.Number, Node: CloneNode(ch.Node)})
	}
	for _, extra := range c.Extras {
		out.Extras = append(out.Extras, Extra{Key: extra.Key, Value: CloneNode(extra.Value)})
	}
	return out
}

// CloneNode deep-copies a yaml node tree.
func CloneNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	cp := *n
	if n.Alias != nil {
		cp.Alias = CloneNode(n.Alias)
	}
	if len(n.Content) > 0 {
		cp.Content = make([]*yaml.Node, len(n.Content))
		for i, child := range n.Content {
			cp.Content[i] = CloneNode(child)
		}
	}
	return &cp
}

// BlockStyle clears flow and quoting styles so nodes decoded from JSON
// encode like hand-written YAML.
func BlockStyle(n *yaml.Node) {
	if n == nil {
		return
	}
	switch n.Kind {
	case yaml.MappingNode, yaml.SequenceNode:
		n.Style &^= yaml.FlowStyle
	case yaml.ScalarNode:
		if n.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle) != 0 && !strings.Contains(n.Value, "\n") {
			n.Style &^= yaml.DoubleQuotedStyle | yaml.SingleQuotedStyle
		}
	}
	for _, child := range n.Content {
		BlockStyle(child)
	}
}

func scalarField(n *yaml.Node, name string) string {
	if n == nil || n.Kind != yaml.MappingNode {
		return ""
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == name && n.Content[i+1].Kind == yaml.ScalarNode {
			return n.Content[i+1].Value
		}
	}
	return ""
}

func sortedInts(in []int) []int {
	out := append([]int(nil), in...)
	sort.Ints(out)
	return out
}

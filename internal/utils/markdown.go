package utils

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// SummarizeMarkdown keeps every heading plus the first paragraph under each
// heading. Used to trim long prose before it is sent for classification.
func SummarizeMarkdown(src []byte) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var parts []string
	keepNext := true
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			parts = append(parts, strings.Repeat("#", node.Level)+" "+blockText(node, src))
			keepNext = true
		case *ast.Paragraph:
			if keepNext {
				parts = append(parts, blockText(node, src))
				keepNext = false
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

func blockText(n ast.Node, src []byte) string {
	lines := n.Lines()
	var b strings.Builder
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return strings.TrimSpace(b.String())
}

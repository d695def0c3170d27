// Package speech turns model replies, which are often markdown, into
// text a voice satellite can read aloud.
package speech

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// PlainText strips markdown formatting from reply. Link targets,
// images and raw HTML are dropped; code keeps its content. Separate
// blocks (paragraphs, headings, list items) become sentences.
func PlainText(reply string) string {
	src := []byte(reply)
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var (
		blocks []string
		cur    strings.Builder
	)
	flush := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			blocks = append(blocks, s)
		}
		cur.Reset()
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				cur.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					cur.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				cur.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				cur.Write(node.Label(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.Image, *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := range lines.Len() {
					seg := lines.At(i)
					cur.Write(seg.Value(src))
					cur.WriteByte(' ')
				}
				flush()
			}
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock:
			if !entering {
				flush()
			}
		}
		return ast.WalkContinue, nil
	})
	flush()

	if len(blocks) > 1 {
		for i, b := range blocks {
			blocks[i] = sentence(b)
		}
	}
	return strings.Join(blocks, " ")
}

// sentence ends s with a full stop unless it already ends with
// punctuation.
func sentence(s string) string {
	if strings.ContainsAny(s[len(s)-1:], ".!?:;,") {
		return s
	}
	return s + "."
}

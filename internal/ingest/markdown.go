package ingest

import (
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// readMarkdown parses markdown through goldmark and re-renders it as flat
// heading-plus-body text. Going through the AST instead of passing the raw
// file along keeps heading detection exact where the downstream line-scan
// heuristics could misread things like setext headings or fenced code.
func readMarkdown(path string) (string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(strings.Repeat("#", node.Level))
			b.WriteString(" ")
			b.WriteString(string(node.Text(src)))
		default:
			t := blockText(n, src)
			if t != "" {
				if b.Len() > 0 {
					b.WriteString("\n\n")
				}
				b.WriteString(t)
			}
		}
	}
	return b.String(), nil
}

// blockText flattens one top-level block node to plain text.
func blockText(n ast.Node, src []byte) string {
	var b strings.Builder
	var walk func(ast.Node)
	walk = func(cur ast.Node) {
		switch node := cur.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.HardLineBreak() || node.SoftLineBreak() {
				b.WriteString("\n")
			}
			return
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := cur.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return
		case *ast.ListItem:
			b.WriteString("- ")
		}
		for c := cur.FirstChild(); c != nil; c = c.NextSibling() {
			walk(c)
			if _, ok := c.(*ast.Paragraph); ok && c.NextSibling() != nil {
				b.WriteString("\n")
			}
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

package discordmd

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/yuin/goldmark/ast"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"

	"github.com/john/chatmux/internal/markup"
)

type converter struct {
	src []byte
}

// blocks flattens block-level children into one inline run, separating
// blocks with line breaks.
func (c converter) blocks(parent ast.Node) []markup.Node {
	var out []markup.Node
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		nodes := c.block(n)
		if len(nodes) == 0 {
			continue
		}
		if len(out) > 0 {
			out = append(out, markup.LineBreak{})
		}
		out = append(out, nodes...)
	}
	return out
}

func (c converter) block(n ast.Node) []markup.Node {
	switch v := n.(type) {
	case *ast.Paragraph, *ast.TextBlock, *ast.Heading:
		return c.inlines(n)
	case *ast.Blockquote:
		children := c.blocks(v)
		if len(children) == 0 {
			return nil
		}
		return []markup.Node{markup.BlockQuote{Children: children}}
	case *ast.FencedCodeBlock:
		return []markup.Node{markup.CodeBlock{Language: string(v.Language(c.src)), Value: c.lines(v)}}
	case *ast.CodeBlock:
		return []markup.Node{markup.CodeBlock{Value: c.lines(v)}}
	case *ast.List:
		return c.list(v)
	case *ast.ThematicBreak:
		return []markup.Node{markup.Text{Value: "---"}}
	case *ast.HTMLBlock:
		return []markup.Node{markup.Text{Value: c.lines(v)}}
	}
	return c.blocks(n)
}

func (c converter) list(l *ast.List) []markup.Node {
	var out []markup.Node
	index := l.Start
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		if len(out) > 0 {
			out = append(out, markup.LineBreak{})
		}
		bullet := "• "
		if l.IsOrdered() {
			bullet = strconv.Itoa(index) + ". "
			index++
		}
		out = appendText(out, bullet)
		out = append(out, c.blocks(item)...)
	}
	return out
}

func (c converter) lines(n ast.Node) string {
	var b bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(c.src))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (c converter) inlines(parent ast.Node) []markup.Node {
	var out []markup.Node
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		out = c.inline(out, n)
	}
	return out
}

func (c converter) inline(out []markup.Node, n ast.Node) []markup.Node {
	switch v := n.(type) {
	case *ast.Text:
		out = appendText(out, string(v.Segment.Value(c.src)))
		if v.SoftLineBreak() || v.HardLineBreak() {
			out = append(out, markup.LineBreak{})
		}
		return out
	case *ast.String:
		return appendText(out, string(v.Value))
	case *parser.Delimiter:
		return appendText(out, string(v.Segment.Value(c.src)))
	case *leaf:
		return append(out, v.value)
	case *spoiler:
		return append(out, markup.Spoiler{Children: c.inlines(v)})
	case *east.Strikethrough:
		return append(out, markup.Strikethrough{Children: c.inlines(v)})
	case *ast.Emphasis:
		children := c.inlines(v)
		switch {
		case v.Level == 1:
			return append(out, markup.Emphasis{Children: children})
		case c.underscored(v):
			return append(out, markup.Underline{Children: children})
		default:
			return append(out, markup.Strong{Children: children})
		}
	case *ast.CodeSpan:
		var b strings.Builder
		for t := v.FirstChild(); t != nil; t = t.NextSibling() {
			if seg, ok := t.(*ast.Text); ok {
				b.Write(seg.Segment.Value(c.src))
			}
		}
		return append(out, markup.InlineCode{Value: b.String()})
	case *ast.Link:
		return append(out, markup.Link{Target: string(v.Destination), Children: c.inlines(v)})
	case *ast.Image:
		return append(out, markup.Link{Target: string(v.Destination), Children: c.inlines(v)})
	case *ast.AutoLink:
		if v.AutoLinkType == ast.AutoLinkEmail {
			return appendText(out, string(v.Label(c.src)))
		}
		return append(out, markup.Link{Target: string(v.URL(c.src))})
	case *ast.RawHTML:
		for i := 0; i < v.Segments.Len(); i++ {
			seg := v.Segments.At(i)
			out = appendText(out, string(seg.Value(c.src)))
		}
		return out
	}
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		out = c.inline(out, child)
	}
	return out
}

// underscored reports whether a strong emphasis was written with "__",
// which Discord renders as underline. goldmark does not record the
// delimiter, so it is read back from the source before the first text child.
func (c converter) underscored(e *ast.Emphasis) bool {
	t, ok := e.FirstChild().(*ast.Text)
	if !ok {
		return false
	}
	start := t.Segment.Start
	return start >= 2 && c.src[start-1] == '_' && c.src[start-2] == '_'
}

func appendText(out []markup.Node, s string) []markup.Node {
	if s == "" {
		return out
	}
	if n := len(out); n > 0 {
		if prev, ok := out[n-1].(markup.Text); ok {
			out[n-1] = markup.Text{Value: prev.Value + s}
			return out
		}
	}
	return append(out, markup.Text{Value: s})
}

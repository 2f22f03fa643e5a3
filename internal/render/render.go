// Package render turns a markup tree into sanitized HTML for display.
//
// Rendering never fails from the caller's point of view. Strategies are tried
// in order until one succeeds:
//
//  1. structured: full serialization, then an allow-list sanitizer pass
//  2. raw: each top-level node's plain text, escaped, plus a "see logs" notice
//  3. notice: a fixed error message
//
// Every tier recovers its own panics.
package render

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark-emoji/definition"
	"go.uber.org/zap"

	"github.com/john/chatmux/internal/markup"
	"github.com/john/chatmux/internal/telemetry"
)

const (
	seeLogsNotice = ` <small>(see logs)</small>`
	errorNotice   = `<i>Message rendering error</i>`
	replacement   = "\uFFFD"
)

type strategy struct {
	tier string
	fn   func([]markup.Node, markup.EntitySnapshot) (string, error)
}

// Renderer is safe for concurrent use
type Renderer struct {
	logger *zap.Logger
	policy *bluemonday.Policy
	emoji  definition.Emojis
	now    func() time.Time
	loc    *time.Location
	ladder []strategy
}

// Option configures a Renderer
type Option func(*Renderer)

// WithLogger sets the logger used for fallback diagnostics
func WithLogger(l *zap.Logger) Option {
	return func(r *Renderer) { r.logger = l }
}

// WithClock overrides the clock used for relative timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) { r.now = now }
}

// WithLocation sets the zone absolute timestamps are shown in
func WithLocation(loc *time.Location) Option {
	return func(r *Renderer) { r.loc = loc }
}

// New creates a Renderer
func New(opts ...Option) *Renderer {
	r := &Renderer{
		logger: zap.NewNop(),
		policy: newPolicy(),
		emoji:  definition.Github(),
		now:    time.Now,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ladder = []strategy{
		{tier: "structured", fn: r.structured},
		{tier: "raw", fn: r.raw},
		{tier: "notice", fn: func([]markup.Node, markup.EntitySnapshot) (string, error) { return errorNotice, nil }},
	}
	return r
}

// Render converts nodes to HTML
func (r *Renderer) Render(nodes []markup.Node, snap markup.EntitySnapshot) string {
	for i, s := range r.ladder {
		out, err := attempt(s, nodes, snap)
		if err == nil {
			if i > 0 {
				telemetry.IncVec(telemetry.RenderFallbacks, s.tier)
			}
			return out
		}
		r.logger.Warn("render tier failed",
			zap.String("component", "render"),
			zap.String("tier", s.tier),
			zap.Int("nodes", len(nodes)),
			zap.Error(err))
	}
	return errorNotice
}

func attempt(s strategy, nodes []markup.Node, snap markup.EntitySnapshot) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = "", fmt.Errorf("%s tier panicked: %v", s.tier, rec)
		}
	}()
	return s.fn(nodes, snap)
}

func (r *Renderer) structured(nodes []markup.Node, snap markup.EntitySnapshot) (string, error) {
	var b strings.Builder
	if err := r.writeNodes(&b, nodes, snap); err != nil {
		return "", err
	}
	return r.policy.Sanitize(b.String()), nil
}

func (r *Renderer) raw(nodes []markup.Node, _ markup.EntitySnapshot) (string, error) {
	var b strings.Builder
	for _, n := range nodes {
		if s, ok := markup.RawText(n); ok && s != "" {
			b.WriteString(html.EscapeString(s))
			continue
		}
		b.WriteString(replacement)
	}
	b.WriteString(seeLogsNotice)
	return b.String(), nil
}

func (r *Renderer) writeNodes(b *strings.Builder, nodes []markup.Node, snap markup.EntitySnapshot) error {
	for _, n := range nodes {
		if err := r.writeNode(b, n, snap); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) wrap(b *strings.Builder, open, close string, children []markup.Node, snap markup.EntitySnapshot) error {
	b.WriteString(open)
	if err := r.writeNodes(b, children, snap); err != nil {
		return err
	}
	b.WriteString(close)
	return nil
}

func (r *Renderer) writeNode(b *strings.Builder, n markup.Node, snap markup.EntitySnapshot) error {
	switch v := n.(type) {
	case markup.Text:
		b.WriteString(html.EscapeString(v.Value))
	case markup.Emphasis:
		return r.wrap(b, "<em>", "</em>", v.Children, snap)
	case markup.Strong:
		return r.wrap(b, "<strong>", "</strong>", v.Children, snap)
	case markup.Underline:
		return r.wrap(b, "<u>", "</u>", v.Children, snap)
	case markup.Strikethrough:
		return r.wrap(b, "<s>", "</s>", v.Children, snap)
	case markup.InlineCode:
		b.WriteString("<code>" + html.EscapeString(v.Value) + "</code>")
	case markup.CodeBlock:
		b.WriteString(codeBlock(v))
	case markup.Link:
		return r.writeLink(b, v, snap)
	case markup.BlockQuote:
		return r.writeNodes(b, v.Children, snap)
	case markup.LineBreak:
		b.WriteString("<br>")
	case markup.Spoiler:
		return r.wrap(b,
			`<span class="spoiler" style="background: currentColor"><span style="opacity: 0%">`,
			`</span></span>`, v.Children, snap)
	case markup.Mention:
		b.WriteString(mention(v, snap))
	case markup.CustomEmoji:
		b.WriteString(customEmoji(v))
	case markup.GenericEmoji:
		b.WriteString(r.genericEmoji(v))
	case markup.Timestamp:
		t := time.Unix(v.Unix, 0)
		fmt.Fprintf(b, `<time datetime="%s">%s</time>`,
			t.UTC().Format(time.RFC3339), html.EscapeString(r.formatTimestamp(t, v.Format)))
	default:
		return fmt.Errorf("unsupported node %T", n)
	}
	return nil
}

func codeBlock(v markup.CodeBlock) string {
	lang := sanitizeClass(v.Language)
	if lang == "" {
		return "<pre><code>" + html.EscapeString(v.Value) + "</code></pre>"
	}
	return `<pre><code class="language-` + lang + `">` + html.EscapeString(v.Value) + "</code></pre>"
}

func (r *Renderer) genericEmoji(v markup.GenericEmoji) string {
	name := strings.Trim(v.Name, ":")
	if e, ok := r.emoji.Get(name); ok && len(e.Unicode) > 0 {
		return string(e.Unicode)
	}
	return html.EscapeString(v.Name)
}

// sanitizeClass keeps characters that are safe inside a class attribute
func sanitizeClass(s string) string {
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '+':
			return c
		}
		return -1
	}, s)
}

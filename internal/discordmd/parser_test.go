package discordmd

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/john/chatmux/internal/markup"
)

func text(s string) markup.Text { return markup.Text{Value: s} }

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []markup.Node
	}{
		{
			name: "plain",
			in:   "hello there",
			want: []markup.Node{text("hello there")},
		},
		{
			name: "strong",
			in:   "hello **world**",
			want: []markup.Node{text("hello "), markup.Strong{Children: []markup.Node{text("world")}}},
		},
		{
			name: "emphasis",
			in:   "*soft*",
			want: []markup.Node{markup.Emphasis{Children: []markup.Node{text("soft")}}},
		},
		{
			name: "underline",
			in:   "__under__",
			want: []markup.Node{markup.Underline{Children: []markup.Node{text("under")}}},
		},
		{
			name: "strikethrough",
			in:   "~~gone~~",
			want: []markup.Node{markup.Strikethrough{Children: []markup.Node{text("gone")}}},
		},
		{
			name: "spoiler",
			in:   "||secret||",
			want: []markup.Node{markup.Spoiler{Children: []markup.Node{text("secret")}}},
		},
		{
			name: "inline code",
			in:   "run `go test`",
			want: []markup.Node{text("run "), markup.InlineCode{Value: "go test"}},
		},
		{
			name: "fenced code",
			in:   "```go\nfmt.Println()\n```",
			want: []markup.Node{markup.CodeBlock{Language: "go", Value: "fmt.Println()"}},
		},
		{
			name: "channel and role mentions",
			in:   "<#123> and <@&9>",
			want: []markup.Node{
				markup.Mention{Kind: markup.MentionChannel, ID: "123"},
				text(" and "),
				markup.Mention{Kind: markup.MentionRole, ID: "9"},
			},
		},
		{
			name: "user mentions",
			in:   "<@1> <@!2>",
			want: []markup.Node{
				markup.Mention{Kind: markup.MentionUser, ID: "1"},
				text(" "),
				markup.Mention{Kind: markup.MentionUser, ID: "2"},
			},
		},
		{
			name: "custom emoji",
			in:   "<:wave:42><a:party:7>",
			want: []markup.Node{
				markup.CustomEmoji{ID: "42", Name: "wave", Source: markup.EmojiDiscord},
				markup.CustomEmoji{ID: "7", Name: "party", Animated: true, Source: markup.EmojiDiscord},
			},
		},
		{
			name: "timestamp",
			in:   "<t:1700000000:R>",
			want: []markup.Node{markup.Timestamp{Unix: 1700000000, Format: "R"}},
		},
		{
			name: "timestamp without style",
			in:   "<t:1700000000>",
			want: []markup.Node{markup.Timestamp{Unix: 1700000000}},
		},
		{
			name: "everyone",
			in:   "@everyone hi",
			want: []markup.Node{markup.Mention{Kind: markup.MentionEveryone}, text(" hi")},
		},
		{
			name: "email-like text is not a mention",
			in:   "me@here",
			want: []markup.Node{text("me@here")},
		},
		{
			name: "soft line break",
			in:   "line one\nline two",
			want: []markup.Node{text("line one"), markup.LineBreak{}, text("line two")},
		},
		{
			name: "heading marker stripped",
			in:   "# Title",
			want: []markup.Node{text("Title")},
		},
		{
			name: "slash command",
			in:   "try </ban:123> now",
			want: []markup.Node{text("try /ban now")},
		},
		{
			name: "block quote",
			in:   "> quoted",
			want: []markup.Node{markup.BlockQuote{Children: []markup.Node{text("quoted")}}},
		},
		{
			name: "empty",
			in:   "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestParseLinkify(t *testing.T) {
	got := Parse("see https://example.com/page for details")

	var links []markup.Link
	for _, n := range got {
		if l, ok := n.(markup.Link); ok {
			links = append(links, l)
		}
	}
	if assert.Len(t, links, 1) {
		assert.Equal(t, "https://example.com/page", links[0].Target)
	}
}

func TestParseUnmatchedSpoilerStaysText(t *testing.T) {
	got := Parse("a || b")
	if diff := cmp.Diff([]markup.Node{text("a || b")}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "Big\nsmall", Normalize("## Big\n-# small"))
	assert.Equal(t, "/play music", Normalize("</play music:99>"))
	assert.Equal(t, "#hashtag", Normalize("#hashtag"))
}

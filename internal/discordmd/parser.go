// Package discordmd parses Discord-flavored markdown into markup nodes.
//
// goldmark does the CommonMark work (emphasis, code, quotes, links). Discord
// specific syntax (entity mentions, custom emoji, timestamps, spoilers and
// @everyone/@here) is handled by inline parsers registered here.
package discordmd

import (
	"regexp"
	"strconv"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmtext "github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/john/chatmux/internal/markup"
)

var (
	headingPrefix = regexp.MustCompile(`(?m)^[ \t]*(?:-#|#{1,6})[ \t]+`)
	slashCommand  = regexp.MustCompile(`</([\w -]+):\d+>`)

	entityPattern    = regexp.MustCompile(`^<(#|@!?|@&)(\d+)>`)
	emojiPattern     = regexp.MustCompile(`^<(a?):(\w+):(\d+)>`)
	timestampPattern = regexp.MustCompile(`^<t:(-?\d+)(?::([tTdDfFR]))?>`)
	broadcastPattern = regexp.MustCompile(`^@(everyone|here)\b`)

	md = goldmark.New(
		goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
		goldmark.WithParserOptions(
			parser.WithInlineParsers(
				util.Prioritized(&entityParser{}, 50),
				util.Prioritized(&broadcastParser{}, 50),
				util.Prioritized(&spoilerParser{}, 50),
			),
		),
	)
)

// Normalize applies the textual rewrites done before parsing: heading markers
// are dropped and slash command mentions become "/name".
func Normalize(content string) string {
	content = headingPrefix.ReplaceAllString(content, "")
	return slashCommand.ReplaceAllString(content, "/$1")
}

// Parse converts message content to markup nodes. It never fails; anything
// it does not understand is kept as text.
func Parse(content string) []markup.Node {
	src := []byte(Normalize(content))
	doc := md.Parser().Parse(gmtext.NewReader(src))
	c := converter{src: src}
	return c.blocks(doc)
}

// leaf carries an already-built markup node through the goldmark tree.
type leaf struct {
	ast.BaseInline
	value markup.Node
}

var kindLeaf = ast.NewNodeKind("DiscordLeaf")

func (n *leaf) Kind() ast.NodeKind { return kindLeaf }

func (n *leaf) Dump(source []byte, level int) { ast.DumpHelper(n, source, level, nil, nil) }

type entityParser struct{}

func (p *entityParser) Trigger() []byte { return []byte{'<'} }

func (p *entityParser) Parse(_ ast.Node, block gmtext.Reader, _ parser.Context) ast.Node {
	line, _ := block.PeekLine()

	if m := entityPattern.FindSubmatch(line); m != nil {
		kind := markup.MentionUser
		switch string(m[1]) {
		case "#":
			kind = markup.MentionChannel
		case "@&":
			kind = markup.MentionRole
		}
		block.Advance(len(m[0]))
		return &leaf{value: markup.Mention{Kind: kind, ID: string(m[2])}}
	}

	if m := emojiPattern.FindSubmatch(line); m != nil {
		block.Advance(len(m[0]))
		return &leaf{value: markup.CustomEmoji{
			ID:       string(m[3]),
			Name:     string(m[2]),
			Animated: len(m[1]) > 0,
			Source:   markup.EmojiDiscord,
		}}
	}

	if m := timestampPattern.FindSubmatch(line); m != nil {
		unix, err := strconv.ParseInt(string(m[1]), 10, 64)
		if err != nil {
			return nil
		}
		block.Advance(len(m[0]))
		return &leaf{value: markup.Timestamp{Unix: unix, Format: string(m[2])}}
	}

	return nil
}

type broadcastParser struct{}

func (p *broadcastParser) Trigger() []byte { return []byte{'@'} }

func (p *broadcastParser) Parse(_ ast.Node, block gmtext.Reader, _ parser.Context) ast.Node {
	if before := block.PrecendingCharacter(); unicode.IsLetter(before) || unicode.IsDigit(before) {
		return nil
	}
	line, _ := block.PeekLine()
	m := broadcastPattern.FindSubmatch(line)
	if m == nil {
		return nil
	}
	block.Advance(len(m[0]))
	kind := markup.MentionEveryone
	if string(m[1]) == "here" {
		kind = markup.MentionHere
	}
	return &leaf{value: markup.Mention{Kind: kind}}
}

// spoiler wraps content between a pair of "||" delimiters.
type spoiler struct {
	ast.BaseInline
}

var kindSpoiler = ast.NewNodeKind("DiscordSpoiler")

func (n *spoiler) Kind() ast.NodeKind { return kindSpoiler }

func (n *spoiler) Dump(source []byte, level int) { ast.DumpHelper(n, source, level, nil, nil) }

type spoilerDelimiterProcessor struct{}

func (p *spoilerDelimiterProcessor) IsDelimiter(b byte) bool { return b == '|' }

func (p *spoilerDelimiterProcessor) CanOpenCloser(opener, closer *parser.Delimiter) bool {
	return opener.Char == closer.Char
}

func (p *spoilerDelimiterProcessor) OnMatch(_ int) ast.Node { return &spoiler{} }

var defaultSpoilerDelimiterProcessor = &spoilerDelimiterProcessor{}

type spoilerParser struct{}

func (p *spoilerParser) Trigger() []byte { return []byte{'|'} }

func (p *spoilerParser) Parse(_ ast.Node, block gmtext.Reader, pc parser.Context) ast.Node {
	before := block.PrecendingCharacter()
	line, segment := block.PeekLine()
	node := parser.ScanDelimiter(line, before, 2, defaultSpoilerDelimiterProcessor)
	if node == nil || node.OriginalLength != 2 || before == '|' {
		return nil
	}
	node.Segment = segment.WithStop(segment.Start + node.OriginalLength)
	block.Advance(node.OriginalLength)
	pc.PushDelimiter(node)
	return node
}

func (p *spoilerParser) CloseBlock(_ ast.Node, _ parser.Context) {}

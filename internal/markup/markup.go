// Package markup defines the rich-text tree that platform parsers produce and the
// renderer consumes. Node is a closed set: every kind is a struct in this file.
package markup

import "strings"

// Node is one element of a parsed chat body
type Node interface {
	node()
}

// MentionKind is the target type of a Mention
type MentionKind string

const (
	MentionChannel  MentionKind = "channel"
	MentionRole     MentionKind = "role"
	MentionUser     MentionKind = "user"
	MentionEveryone MentionKind = "everyone"
	MentionHere     MentionKind = "here"
)

// EmojiSource selects the CDN a CustomEmoji is served from
type EmojiSource string

const (
	EmojiDiscord EmojiSource = "discord"
	EmojiTwitch  EmojiSource = "twitch"
	EmojiKick    EmojiSource = "kick"
)

type (
	// Text is a literal run of characters
	Text struct{ Value string }

	Emphasis      struct{ Children []Node }
	Strong        struct{ Children []Node }
	Underline     struct{ Children []Node }
	Strikethrough struct{ Children []Node }
	Spoiler       struct{ Children []Node }
	BlockQuote    struct{ Children []Node }

	// InlineCode holds verbatim code, never parsed further
	InlineCode struct{ Value string }

	// CodeBlock is a fenced block with an optional language tag
	CodeBlock struct {
		Language string
		Value    string
	}

	// Link points at Target. Children is the display text.
	Link struct {
		Target   string
		Children []Node
	}

	// Mention references a channel, role, user or a broadcast mention
	Mention struct {
		Kind MentionKind
		ID   string
	}

	CustomEmoji struct {
		ID       string
		Name     string
		Animated bool
		Source   EmojiSource
	}

	// GenericEmoji is a named standard emoji such as "smile"
	GenericEmoji struct{ Name string }

	LineBreak struct{}

	// Timestamp renders Unix seconds according to Format (t, T, d, D, f, F, R)
	Timestamp struct {
		Unix   int64
		Format string
	}
)

func (Text) node()          {}
func (Emphasis) node()      {}
func (Strong) node()        {}
func (Underline) node()     {}
func (Strikethrough) node() {}
func (Spoiler) node()       {}
func (BlockQuote) node()    {}
func (InlineCode) node()    {}
func (CodeBlock) node()     {}
func (Link) node()          {}
func (Mention) node()       {}
func (CustomEmoji) node()   {}
func (GenericEmoji) node()  {}
func (LineBreak) node()     {}
func (Timestamp) node()     {}

// RawText returns the unformatted text carried by n. ok is false when the node
// carries no text of its own (line breaks, mentions, nil).
func RawText(n Node) (text string, ok bool) {
	switch v := n.(type) {
	case Text:
		return v.Value, true
	case InlineCode:
		return v.Value, true
	case CodeBlock:
		return v.Value, true
	case GenericEmoji:
		return v.Name, true
	case CustomEmoji:
		return ":" + v.Name + ":", true
	case Link:
		if len(v.Children) == 0 {
			return v.Target, true
		}
		return joinRaw(v.Children)
	case Emphasis:
		return joinRaw(v.Children)
	case Strong:
		return joinRaw(v.Children)
	case Underline:
		return joinRaw(v.Children)
	case Strikethrough:
		return joinRaw(v.Children)
	case Spoiler:
		return joinRaw(v.Children)
	case BlockQuote:
		return joinRaw(v.Children)
	}
	return "", false
}

func joinRaw(children []Node) (string, bool) {
	var b strings.Builder
	found := false
	for _, c := range children {
		if s, ok := RawText(c); ok {
			b.WriteString(s)
			found = true
		}
	}
	return b.String(), found
}

// Role is a guild role as seen at render time
type Role struct {
	Name  string
	Color int // 0 means no color
}

// EntitySnapshot resolves mention IDs to display data for one render call.
// The zero value is an empty snapshot.
type EntitySnapshot struct {
	Channels map[string]string
	Roles    map[string]Role
}

// Channel returns the channel name for id
func (s EntitySnapshot) Channel(id string) (string, bool) {
	name, ok := s.Channels[id]
	return name, ok
}

// Role returns the role for id
func (s EntitySnapshot) Role(id string) (Role, bool) {
	r, ok := s.Roles[id]
	return r, ok
}

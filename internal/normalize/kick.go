package normalize

import (
	"regexp"
	"strconv"

	"github.com/john/chatmux/internal/kick"
	"github.com/john/chatmux/internal/markup"
	"github.com/john/chatmux/internal/message"
)

var kickEmote = regexp.MustCompile(`\[emote:(\d+):([^\]]*)\]`)

func (n *Normalizer) kick(raw any) (message.ChatMessage, error) {
	m, ok := raw.(kick.Message)
	if !ok {
		return message.ChatMessage{}, unsupported(raw)
	}
	chat := m.Chat

	var flags message.ChatStatus
	for _, b := range chat.Sender.Identity.Badges {
		switch b.Type {
		case "broadcaster":
			flags.Owner = true
		case "moderator":
			flags.Moderator = true
		case "vip", "og":
			flags.Member = true
		case "subscriber", "founder", "sub_gifter":
			flags.Subscribed = true
		case "verified":
			flags.Verified = true
		}
	}

	var id string
	if chat.Sender.ID != 0 {
		id = strconv.Itoa(chat.Sender.ID)
	}

	return message.ChatMessage{
		Timestamp: chat.CreatedAt,
		Contents:  n.renderer.Render(kickNodes(chat.Content), markup.EntitySnapshot{}),
		Author: message.ChatPerson{
			Nickname:    chat.Sender.Username,
			ID:          id,
			StatusFlags: flags,
		},
	}, nil
}

// kickNodes replaces "[emote:id:name]" tokens with custom emoji.
func kickNodes(s string) []markup.Node {
	var out []markup.Node
	last := 0
	for _, m := range kickEmote.FindAllStringSubmatchIndex(s, -1) {
		if m[0] > last {
			out = append(out, markup.Text{Value: s[last:m[0]]})
		}
		out = append(out, markup.CustomEmoji{ID: s[m[2]:m[3]], Name: s[m[4]:m[5]], Source: markup.EmojiKick})
		last = m[1]
	}
	if last < len(s) {
		out = append(out, markup.Text{Value: s[last:]})
	}
	return out
}

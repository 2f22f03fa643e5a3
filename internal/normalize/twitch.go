package normalize

import (
	"sort"

	twitchirc "github.com/gempir/go-twitch-irc/v4"

	"github.com/john/chatmux/internal/markup"
	"github.com/john/chatmux/internal/message"
)

type emoteSpan struct {
	start, end int
	id, name   string
}

func (n *Normalizer) twitch(raw any) (message.ChatMessage, error) {
	var pm twitchirc.PrivateMessage
	switch v := raw.(type) {
	case twitchirc.PrivateMessage:
		pm = v
	case *twitchirc.PrivateMessage:
		if v == nil {
			return message.ChatMessage{}, unsupported(raw)
		}
		pm = *v
	default:
		return message.ChatMessage{}, unsupported(raw)
	}

	nickname := pm.User.DisplayName
	if nickname == "" {
		nickname = pm.User.Name
	}
	badges := pm.User.Badges

	return message.ChatMessage{
		ID:        pm.ID,
		Timestamp: pm.Time,
		Contents:  n.renderer.Render(twitchNodes(pm.Message, pm.Emotes), markup.EntitySnapshot{}),
		Author: message.ChatPerson{
			Nickname: nickname,
			Color:    ColorFromString(pm.User.Color),
			ID:       pm.User.ID,
			StatusFlags: message.ChatStatus{
				Owner:      badges["broadcaster"] > 0,
				Moderator:  badges["moderator"] > 0,
				Member:     badges["vip"] > 0,
				Subscribed: badges["subscriber"] > 0 || badges["founder"] > 0,
				Verified:   badges["partner"] > 0,
				New:        pm.Tags["first-msg"] == "1",
			},
		},
	}, nil
}

// twitchNodes replaces emote ranges (inclusive rune offsets) with custom
// emoji. Ranges that overlap or fall outside the text are ignored.
func twitchNodes(text string, emotes []*twitchirc.Emote) []markup.Node {
	runes := []rune(text)

	var spans []emoteSpan
	for _, e := range emotes {
		if e == nil {
			continue
		}
		for _, pos := range e.Positions {
			spans = append(spans, emoteSpan{start: pos.Start, end: pos.End, id: e.ID, name: e.Name})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var out []markup.Node
	cursor := 0
	for _, s := range spans {
		if s.start < cursor || s.end < s.start || s.end >= len(runes) {
			continue
		}
		if s.start > cursor {
			out = append(out, markup.Text{Value: string(runes[cursor:s.start])})
		}
		name := s.name
		if name == "" {
			name = string(runes[s.start : s.end+1])
		}
		out = append(out, markup.CustomEmoji{ID: s.id, Name: name, Source: markup.EmojiTwitch})
		cursor = s.end + 1
	}
	if cursor < len(runes) {
		out = append(out, markup.Text{Value: string(runes[cursor:])})
	}
	return out
}

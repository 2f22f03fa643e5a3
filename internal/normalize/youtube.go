package normalize

import (
	"time"

	"github.com/john/chatmux/internal/markup"
	"github.com/john/chatmux/internal/message"
	"github.com/john/chatmux/internal/youtube"
)

// chat item types that carry a displayable message
var youtubeTypes = map[string]bool{
	"textMessageEvent":         true,
	"superChatEvent":           true,
	"superStickerEvent":        true,
	"newSponsorEvent":          true,
	"memberMilestoneChatEvent": true,
}

func (n *Normalizer) youtube(raw any) (message.ChatMessage, error) {
	m, ok := raw.(youtube.Message)
	if !ok || m.Item == nil || m.Item.Snippet == nil {
		return message.ChatMessage{}, unsupported(raw)
	}
	item := m.Item
	if item.Snippet.Type != "" && !youtubeTypes[item.Snippet.Type] {
		return message.ChatMessage{}, unsupported(raw)
	}

	text := item.Snippet.DisplayMessage
	if text == "" && item.Snippet.TextMessageDetails != nil {
		text = item.Snippet.TextMessageDetails.MessageText
	}

	var ts time.Time
	if item.Snippet.PublishedAt != "" {
		if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
			ts = t
		}
	}

	author := message.ChatPerson{ID: item.Snippet.AuthorChannelId}
	if d := item.AuthorDetails; d != nil {
		author.Nickname = d.DisplayName
		author.AvatarURL = d.ProfileImageUrl
		author.ID = d.ChannelId
		author.StatusFlags = message.ChatStatus{
			Owner:     d.IsChatOwner,
			Moderator: d.IsChatModerator,
			Member:    d.IsChatSponsor,
			Verified:  d.IsVerified,
		}
	}

	return message.ChatMessage{
		ID:        item.Id,
		Timestamp: ts,
		Contents:  n.renderer.Render(shortcodes(text), markup.EntitySnapshot{}),
		Author:    author,
	}, nil
}

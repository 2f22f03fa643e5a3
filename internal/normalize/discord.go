package normalize

import (
	"github.com/bwmarrin/discordgo"

	"github.com/john/chatmux/internal/discord"
	"github.com/john/chatmux/internal/discordmd"
	"github.com/john/chatmux/internal/markup"
	"github.com/john/chatmux/internal/message"
)

const moderatorPermissions = discordgo.PermissionAdministrator |
	discordgo.PermissionManageMessages |
	discordgo.PermissionKickMembers |
	discordgo.PermissionBanMembers |
	discordgo.PermissionModerateMembers

func (n *Normalizer) discord(raw any) (message.ChatMessage, error) {
	m, ok := raw.(discord.Message)
	if !ok || m.Message == nil || m.Message.Author == nil {
		return message.ChatMessage{}, unsupported(raw)
	}
	msg := m.Message
	user := msg.Author

	nickname := user.Username
	if user.GlobalName != "" {
		nickname = user.GlobalName
	}
	flags := message.ChatStatus{
		Moderator: m.Permissions&moderatorPermissions != 0,
		Verified:  user.PublicFlags&discordgo.UserFlagVerifiedBot != 0,
	}
	if m.Guild != nil {
		flags.Owner = m.Guild.OwnerID == user.ID
	}
	if member := msg.Member; member != nil {
		if member.Nick != "" {
			nickname = member.Nick
		}
		flags.Member = len(member.Roles) > 0
		flags.Subscribed = member.PremiumSince != nil
		flags.New = n.isNew(member.JoinedAt)
	} else if created, err := discordgo.SnowflakeTimestamp(user.ID); err == nil {
		flags.New = n.isNew(created)
	}

	nodes := discordmd.Parse(msg.Content)
	for _, a := range msg.Attachments {
		if a == nil || a.URL == "" {
			continue
		}
		if len(nodes) > 0 {
			nodes = append(nodes, markup.LineBreak{})
		}
		nodes = append(nodes, markup.Link{Target: a.URL})
	}

	return message.ChatMessage{
		ID:        msg.ID,
		Timestamp: msg.Timestamp,
		Contents:  n.renderer.Render(nodes, Snapshot(m.Guild)),
		Author: message.ChatPerson{
			Nickname:    nickname,
			AvatarURL:   user.AvatarURL("128"),
			Color:       ColorFromInt(m.Color),
			ID:          user.ID,
			StatusFlags: flags,
		},
	}, nil
}

// Snapshot captures the channel and role names of a guild for mention rendering.
func Snapshot(g *discordgo.Guild) markup.EntitySnapshot {
	snap := markup.EntitySnapshot{
		Channels: map[string]string{},
		Roles:    map[string]markup.Role{},
	}
	if g == nil {
		return snap
	}
	for _, c := range g.Channels {
		if c != nil {
			snap.Channels[c.ID] = c.Name
		}
	}
	for _, r := range g.Roles {
		if r != nil {
			snap.Roles[r.ID] = markup.Role{Name: r.Name, Color: r.Color}
		}
	}
	return snap
}

// Package discord relays messages from Discord text channels through bot sessions.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/john/chatmux/internal/message"
	"github.com/john/chatmux/internal/platform"
)

// closeAuthenticationFailed is the gateway close code for an invalid token
const closeAuthenticationFailed = 4004

// ErrNoToken is returned when no bot token covers a channel
var ErrNoToken = errors.New("no discord bot token for channel")

// Message is the raw payload of a Discord EventMessage. Guild, Permissions
// and Color are captured from the session state when the message arrives.
type Message struct {
	Message     *discordgo.Message
	Guild       *discordgo.Guild
	Permissions int64
	Color       int
}

// Connector manages one gateway session per bot token. Channels are Discord
// channel IDs; each is served by its own token or the default one.
type Connector struct {
	*platform.Emitter

	defaultToken string
	tokens       map[string]string
	logger       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*discordgo.Session // token -> session
	bound    map[string]string             // channel -> token
}

// New creates a connector. tokens maps channel IDs to bot tokens; channels
// without an entry use defaultToken.
func New(defaultToken string, tokens map[string]string, logger *zap.Logger) *Connector {
	t := make(map[string]string, len(tokens))
	for ch, tok := range tokens {
		t[ch] = tok
	}
	return &Connector{
		Emitter:      platform.NewEmitter(message.Discord, 0),
		defaultToken: defaultToken,
		tokens:       t,
		logger:       logger.With(zap.String("component", "discord")),
		sessions:     make(map[string]*discordgo.Session),
		bound:        make(map[string]string),
	}
}

// Platform implements platform.Adapter.
func (c *Connector) Platform() message.Platform { return message.Discord }

// HasCredential implements platform.Credentialed.
func (c *Connector) HasCredential(channel string) bool {
	return c.tokenFor(channel) != ""
}

func (c *Connector) tokenFor(channel string) string {
	if tok := c.tokens[channel]; tok != "" {
		return tok
	}
	return c.defaultToken
}

// Connect opens (or reuses) the session for channel's token and checks the
// bot can see the channel.
func (c *Connector) Connect(_ context.Context, channel string) error {
	token := c.tokenFor(channel)
	if token == "" {
		return ErrNoToken
	}

	c.mu.Lock()
	sess, open := c.sessions[token]
	c.bound[channel] = token
	c.mu.Unlock()

	if !open {
		var err error
		sess, err = c.open(token)
		if err != nil {
			c.unbind(channel)
			return err
		}
	}

	ch, err := sess.Channel(channel)
	if err != nil {
		c.unbind(channel)
		c.closeIfUnused(token)
		return fmt.Errorf("fetch discord channel %s: %w", channel, err)
	}
	c.logger.Info("relaying channel", zap.String("channel", channel), zap.String("name", ch.Name))
	c.Lifecycle(platform.EventConnected, channel, nil)
	return nil
}

func (c *Connector) open(token string) (*discordgo.Session, error) {
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	sess.Identify.Intents = discordgo.IntentGuilds | discordgo.IntentGuildMessages | discordgo.IntentMessageContent
	sess.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		c.logger.Info("gateway ready", zap.String("user", r.User.Username), zap.Int("guilds", len(r.Guilds)))
		for _, ch := range c.channelsFor(token) {
			c.Lifecycle(platform.EventConnected, ch, nil)
		}
	})
	sess.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		c.onMessage(s, token, m)
	})

	if err := sess.Open(); err != nil {
		if isAuthFailure(err) {
			return nil, fmt.Errorf("open discord gateway: %w", platform.ErrAuthFailure)
		}
		return nil, fmt.Errorf("open discord gateway: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.sessions[token]; ok {
		// lost a race with a concurrent Connect on the same token
		_ = sess.Close()
		return existing, nil
	}
	c.sessions[token] = sess
	return sess, nil
}

func (c *Connector) onMessage(s *discordgo.Session, token string, m *discordgo.MessageCreate) {
	if m.Author == nil || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}
	c.mu.Lock()
	relayed := c.bound[m.ChannelID] == token
	c.mu.Unlock()
	if !relayed {
		return
	}

	raw := Message{Message: m.Message, Guild: guildView(s.State, m.GuildID)}
	if perms, err := s.State.UserChannelPermissions(m.Author.ID, m.ChannelID); err == nil {
		raw.Permissions = perms
	}
	raw.Color = s.State.UserColor(m.Author.ID, m.ChannelID)

	c.Emit(platform.Event{Kind: platform.EventMessage, Channel: m.ChannelID, Raw: raw})
}

// guildView copies the parts of a cached guild that rendering needs, so the
// normalizer never reads state the gateway goroutine is mutating.
func guildView(state *discordgo.State, guildID string) *discordgo.Guild {
	if guildID == "" {
		return nil
	}
	g, err := state.Guild(guildID)
	if err != nil {
		return nil
	}
	state.RLock()
	defer state.RUnlock()
	return &discordgo.Guild{
		ID:       g.ID,
		Name:     g.Name,
		OwnerID:  g.OwnerID,
		Channels: append([]*discordgo.Channel(nil), g.Channels...),
		Roles:    append([]*discordgo.Role(nil), g.Roles...),
	}
}

func isAuthFailure(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr) && closeErr.Code == closeAuthenticationFailed
}

func (c *Connector) channelsFor(token string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for ch, tok := range c.bound {
		if tok == token {
			out = append(out, ch)
		}
	}
	return out
}

func (c *Connector) unbind(channel string) {
	c.mu.Lock()
	delete(c.bound, channel)
	c.mu.Unlock()
}

func (c *Connector) closeIfUnused(token string) {
	c.mu.Lock()
	sess, ok := c.sessions[token]
	if !ok {
		c.mu.Unlock()
		return
	}
	for _, tok := range c.bound {
		if tok == token {
			c.mu.Unlock()
			return
		}
	}
	delete(c.sessions, token)
	c.mu.Unlock()

	if err := sess.Close(); err != nil {
		c.logger.Warn("close session failed", zap.Error(err))
	}
}

// Disconnect stops relaying channel, or every channel when channel is empty.
// A session is closed once none of its channels remain.
func (c *Connector) Disconnect(_ context.Context, channel string) error {
	c.mu.Lock()
	var departing []string
	if channel == "" {
		for ch := range c.bound {
			departing = append(departing, ch)
		}
	} else {
		departing = []string{channel}
	}
	tokens := make(map[string]bool)
	for _, ch := range departing {
		if tok, ok := c.bound[ch]; ok {
			tokens[tok] = true
			delete(c.bound, ch)
		}
	}
	c.mu.Unlock()

	for tok := range tokens {
		c.closeIfUnused(tok)
	}
	if len(departing) == 0 {
		departing = []string{channel}
	}
	for _, ch := range departing {
		c.Lifecycle(platform.EventDisconnected, ch, nil)
	}
	return nil
}

// Close shuts every session
func (c *Connector) Close() {
	c.Emitter.Close()
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*discordgo.Session)
	c.bound = make(map[string]string)
	c.mu.Unlock()
	for _, s := range sessions {
		_ = s.Close()
	}
}

// Package twitch connects to Twitch chat over IRC.
package twitch

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/gempir/go-twitch-irc/v4"
	"go.uber.org/zap"

	"github.com/john/chatmux/internal/message"
	"github.com/john/chatmux/internal/platform"
)

// ircClient is the subset of *twitch.Client the connector drives.
type ircClient interface {
	OnConnect(func())
	OnSelfJoinMessage(func(twitch.UserJoinMessage))
	OnSelfPartMessage(func(twitch.UserPartMessage))
	OnPrivateMessage(func(twitch.PrivateMessage))
	OnReconnectMessage(func(twitch.ReconnectMessage))
	Join(channels ...string)
	Depart(channel string)
	Connect() error
	Disconnect() error
}

// Connector manages a Twitch IRC session. One client serves every joined
// channel; it is created on the first Connect and closed when the last
// channel is departed.
type Connector struct {
	*platform.Emitter

	username  string
	oauth     string
	logger    *zap.Logger
	newClient func(username, oauth string) ircClient

	mu     sync.Mutex
	client ircClient
	joined map[string]bool
}

// New creates a new Twitch connector. With an empty oauth token the
// connection is anonymous (read only).
func New(username, oauth string, logger *zap.Logger) *Connector {
	return &Connector{
		Emitter:   platform.NewEmitter(message.Twitch, 0),
		username:  username,
		oauth:     oauth,
		logger:    logger.With(zap.String("component", "twitch")),
		newClient: defaultClient,
		joined:    make(map[string]bool),
	}
}

func defaultClient(username, oauth string) ircClient {
	if oauth == "" {
		return twitch.NewAnonymousClient()
	}
	return twitch.NewClient(username, oauth)
}

// Platform implements platform.Adapter.
func (c *Connector) Platform() message.Platform { return message.Twitch }

// Connect joins channel, opening the IRC connection if needed. The join is
// confirmed asynchronously with an EventConnected.
func (c *Connector) Connect(_ context.Context, channel string) error {
	channel = normalizeChannel(channel)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		c.client = c.newClient(c.username, c.oauth)
		c.register(c.client)
		go c.run(c.client)
	}
	c.client.Join(channel)
	c.joined[channel] = true
	c.logger.Info("joining channel", zap.String("channel", channel))
	return nil
}

// Disconnect departs channel, or every joined channel when channel is empty.
func (c *Connector) Disconnect(_ context.Context, channel string) error {
	departing := c.depart(channel)

	for _, ch := range departing {
		c.Lifecycle(platform.EventDisconnected, ch, nil)
	}
	if len(departing) == 0 {
		c.Lifecycle(platform.EventDisconnected, channel, nil)
	}
	return nil
}

func (c *Connector) depart(channel string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var departing []string
	if channel == "" {
		for ch := range c.joined {
			departing = append(departing, ch)
		}
	} else {
		departing = []string{normalizeChannel(channel)}
	}

	for _, ch := range departing {
		if c.client != nil && c.joined[ch] {
			c.client.Depart(ch)
		}
		delete(c.joined, ch)
	}

	if len(c.joined) == 0 && c.client != nil {
		client := c.client
		c.client = nil
		if err := client.Disconnect(); err != nil && !errors.Is(err, twitch.ErrConnectionIsNotOpen) {
			c.logger.Warn("disconnect failed", zap.Error(err))
		}
	}
	return departing
}

func (c *Connector) register(client ircClient) {
	client.OnConnect(func() {
		c.logger.Info("connected to Twitch IRC")
	})
	client.OnReconnectMessage(func(twitch.ReconnectMessage) {
		c.logger.Info("server requested reconnect")
	})
	client.OnSelfJoinMessage(func(m twitch.UserJoinMessage) {
		c.Lifecycle(platform.EventConnected, m.Channel, nil)
	})
	client.OnSelfPartMessage(func(m twitch.UserPartMessage) {
		c.logger.Debug("departed channel", zap.String("channel", m.Channel))
	})
	client.OnPrivateMessage(func(m twitch.PrivateMessage) {
		c.Emit(platform.Event{
			Kind:    platform.EventMessage,
			Channel: strings.TrimPrefix(m.Channel, "#"),
			Raw:     m,
		})
	})
}

// run blocks on the IRC connection and reports how it ended.
func (c *Connector) run(client ircClient) {
	err := client.Connect()

	c.mu.Lock()
	current := c.client == client
	var channels []string
	if current {
		for ch := range c.joined {
			channels = append(channels, ch)
		}
		c.client = nil
		c.joined = make(map[string]bool)
	}
	c.mu.Unlock()

	switch {
	case err == nil, errors.Is(err, twitch.ErrClientDisconnected), !current:
		return
	case errors.Is(err, twitch.ErrLoginAuthenticationFailed):
		c.logger.Error("authentication failed", zap.Error(err))
		for _, ch := range channels {
			c.Lifecycle(platform.EventAuthFailed, ch, platform.ErrAuthFailure)
		}
	default:
		c.logger.Error("connection error", zap.Error(err))
		for _, ch := range channels {
			c.Lifecycle(platform.EventFailed, ch, err)
		}
	}
}

func normalizeChannel(channel string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#"))
}

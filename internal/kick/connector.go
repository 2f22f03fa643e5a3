// Package kick connects to Kick chatrooms over their Pusher websocket.
package kick

import (
	"context"
	"fmt"
	"strings"
	"sync"

	kickchat "github.com/johanvandegriff/kick-chat-wrapper"
	"go.uber.org/zap"

	"github.com/john/chatmux/internal/message"
	"github.com/john/chatmux/internal/platform"
)

// Message is the raw payload of a Kick EventMessage
type Message struct {
	Channel string
	Chat    kickchat.ChatMessage
}

// chatClient is the subset of *kickchat.Client the connector drives
type chatClient interface {
	JoinChannelByID(id int) error
	ListenForMessages() <-chan kickchat.ChatMessage
	Close()
}

// Connector manages Kick chat connections. One websocket client is shared by
// every joined chatroom.
type Connector struct {
	*platform.Emitter

	resolver  *Resolver
	preset    map[string]int // slug -> chatroom ID from config
	logger    *zap.Logger
	newClient func() (chatClient, error)

	mu       sync.Mutex
	client   chatClient
	stop     chan struct{}
	slugToID map[string]int
	idToSlug map[int]string
}

// New creates a new Kick connector. preset holds chatroom IDs known ahead of
// time; other slugs are resolved through r on connect.
func New(r *Resolver, preset map[string]int, logger *zap.Logger) *Connector {
	p := make(map[string]int, len(preset))
	for slug, id := range preset {
		p[strings.ToLower(slug)] = id
	}
	return &Connector{
		Emitter:   platform.NewEmitter(message.Kick, 0),
		resolver:  r,
		preset:    p,
		logger:    logger.With(zap.String("component", "kick")),
		newClient: defaultClient,
		slugToID:  make(map[string]int),
		idToSlug:  make(map[int]string),
	}
}

func defaultClient() (chatClient, error) {
	client, err := kickchat.NewClient()
	if err != nil {
		return nil, err
	}
	return wsClient{client}, nil
}

type wsClient struct{ c *kickchat.Client }

func (w wsClient) JoinChannelByID(id int) error { return w.c.JoinChannelByID(id) }

func (w wsClient) ListenForMessages() <-chan kickchat.ChatMessage { return w.c.ListenForMessages() }

func (w wsClient) Close() { w.c.Close() }

// Platform implements platform.Adapter.
func (c *Connector) Platform() message.Platform { return message.Kick }

// Connect resolves the channel's chatroom and joins it
func (c *Connector) Connect(ctx context.Context, channel string) error {
	slug := strings.ToLower(strings.TrimSpace(channel))

	chatroomID, ok := c.preset[slug]
	if ok {
		c.logger.Info("using pre-configured chatroom", zap.String("channel", slug), zap.Int("chatroom_id", chatroomID))
	} else {
		var err error
		chatroomID, slug, err = c.resolver.Resolve(ctx, slug)
		if err != nil {
			return fmt.Errorf("resolve kick channel: %w", err)
		}
		c.logger.Info("resolved channel", zap.String("channel", slug), zap.Int("chatroom_id", chatroomID))
	}

	if err := c.join(slug, chatroomID); err != nil {
		return err
	}
	c.Lifecycle(platform.EventConnected, slug, nil)
	return nil
}

func (c *Connector) join(slug string, chatroomID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		client, err := c.newClient()
		if err != nil {
			return fmt.Errorf("create kick client: %w", err)
		}
		c.client = client
		c.stop = make(chan struct{})
		go c.listen(client.ListenForMessages(), c.stop)
	}

	if err := c.client.JoinChannelByID(chatroomID); err != nil {
		return fmt.Errorf("join kick chatroom %d: %w", chatroomID, err)
	}
	c.slugToID[slug] = chatroomID
	c.idToSlug[chatroomID] = slug
	return nil
}

// Disconnect stops delivering messages for channel, or all channels when
// channel is empty. The websocket is closed with the last channel; the
// client library has no way to leave a single chatroom, so messages for
// departed rooms are dropped on arrival instead.
func (c *Connector) Disconnect(_ context.Context, channel string) error {
	slug := strings.ToLower(strings.TrimSpace(channel))

	c.mu.Lock()
	var departing []string
	if slug == "" {
		for s := range c.slugToID {
			departing = append(departing, s)
		}
	} else {
		departing = []string{slug}
	}
	for _, s := range departing {
		if id, ok := c.slugToID[s]; ok {
			delete(c.idToSlug, id)
			delete(c.slugToID, s)
		}
	}
	if len(c.slugToID) == 0 && c.client != nil {
		close(c.stop)
		c.client.Close()
		c.client = nil
		c.logger.Info("closed kick websocket")
	}
	c.mu.Unlock()

	if len(departing) == 0 {
		departing = []string{slug}
	}
	for _, s := range departing {
		c.Lifecycle(platform.EventDisconnected, s, nil)
	}
	return nil
}

func (c *Connector) listen(messages <-chan kickchat.ChatMessage, stop <-chan struct{}) {
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				c.logger.Info("kick message channel closed")
				return
			}
			c.mu.Lock()
			slug, known := c.idToSlug[msg.ChatroomID]
			c.mu.Unlock()
			if !known {
				c.logger.Debug("message from unknown chatroom", zap.Int("chatroom_id", msg.ChatroomID))
				continue
			}
			c.Emit(platform.Event{
				Kind:    platform.EventMessage,
				Channel: slug,
				Raw:     Message{Channel: slug, Chat: msg},
			})
		case <-stop:
			return
		}
	}
}

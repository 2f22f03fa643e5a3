package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/john/chatmux/internal/message"
	"github.com/john/chatmux/internal/platform"
	"github.com/john/chatmux/internal/recorder"
	"github.com/john/chatmux/internal/telemetry"
)

// handleEvent turns one raw adapter message into a canonical message and
// delivers it everywhere it goes.
func (a *App) handleEvent(ev platform.Event) {
	msg, err := a.normalizer.Normalize(ev.Platform, ev.Raw)
	if err != nil {
		telemetry.IncVec(telemetry.MessagesDropped, string(ev.Platform))
		a.logger.Warn("dropping message",
			zap.String("platform", string(ev.Platform)),
			zap.String("channel", ev.Channel),
			zap.Error(err))
		return
	}
	a.users.Remember(msg)

	a.pipeMu.Lock()
	if err := a.history.Append(context.Background(), msg); err != nil {
		// already logged and counted by the store; viewers still get the message
		a.logger.Debug("history append failed", zap.String("id", msg.ID))
	}
	a.hub.PublishMessage(msg)
	a.pipeMu.Unlock()

	telemetry.IncVec(telemetry.MessagesTotal, string(msg.Platform))

	if a.entries != nil {
		select {
		case a.entries <- recorder.Entry{Channel: ev.Channel, Message: msg}:
		default:
			a.logger.Warn("transcript buffer full, message not recorded", zap.String("id", msg.ID))
		}
	}
}

// UserCache remembers the last seen author per user
type UserCache struct {
	mu    sync.RWMutex
	users map[string]message.ChatPerson
}

// NewUserCache creates an empty cache
func NewUserCache() *UserCache {
	return &UserCache{users: make(map[string]message.ChatPerson)}
}

// UserKey is the author ID when the platform has one, else platform-nickname
func UserKey(msg message.ChatMessage) string {
	if msg.Author.ID != "" {
		return msg.Author.ID
	}
	return string(msg.Platform) + "-" + msg.Author.Nickname
}

// Remember stores msg's author
func (c *UserCache) Remember(msg message.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[UserKey(msg)] = msg.Author
}

// Lookup returns the cached author for key
func (c *UserCache) Lookup(key string) (message.ChatPerson, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.users[key]
	return p, ok
}

// Len returns the number of cached users
func (c *UserCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.users)
}

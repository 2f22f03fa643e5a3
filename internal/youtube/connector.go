// Package youtube reads YouTube live chat through the Data API v3.
//
// YouTube has no push signal for "chat is available": a channel is only
// joinable while it is broadcasting. Connect registers interest and the
// supervisor polls Confirm until the channel is live.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/john/chatmux/internal/message"
	"github.com/john/chatmux/internal/platform"
)

// ErrNoAPIKey is returned by Connect when no API key was configured
var ErrNoAPIKey = errors.New("youtube API key not configured")

const (
	defaultMinInterval = 2 * time.Second
	errorBackoff       = 10 * time.Second
)

// Message is the raw payload of a YouTube EventMessage
type Message struct {
	Channel string
	Item    *yt.LiveChatMessage
}

// Connector polls live chat for YouTube channels
type Connector struct {
	*platform.Emitter

	svc         *yt.Service
	logger      *zap.Logger
	minInterval time.Duration

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	targets map[string]bool
	pollers map[string]context.CancelFunc
}

// New creates a connector authenticated with apiKey. Extra options are
// appended, e.g. option.WithEndpoint in tests.
func New(ctx context.Context, apiKey string, logger *zap.Logger, opts ...option.ClientOption) (*Connector, error) {
	c := &Connector{
		Emitter:     platform.NewEmitter(message.YouTube, 0),
		logger:      logger.With(zap.String("component", "youtube")),
		minInterval: defaultMinInterval,
		targets:     make(map[string]bool),
		pollers:     make(map[string]context.CancelFunc),
	}
	c.base, c.cancel = context.WithCancel(context.Background())

	if apiKey == "" {
		return c, nil
	}
	svc, err := yt.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	c.svc = svc
	return c, nil
}

// Platform implements platform.Adapter.
func (c *Connector) Platform() message.Platform { return message.YouTube }

// Connect registers channel (a YouTube channel ID) for polling
func (c *Connector) Connect(_ context.Context, channel string) error {
	if c.svc == nil {
		return ErrNoAPIKey
	}
	c.mu.Lock()
	c.targets[channel] = true
	c.mu.Unlock()
	c.logger.Info("waiting for channel to go live", zap.String("channel", channel))
	return nil
}

// Confirm reports whether channel is live. When it is, the chat poller is
// started and messages begin to flow.
func (c *Connector) Confirm(ctx context.Context, channel string) (bool, error) {
	c.mu.Lock()
	_, polling := c.pollers[channel]
	registered := c.targets[channel]
	c.mu.Unlock()
	if polling {
		return true, nil
	}
	if !registered {
		return false, fmt.Errorf("channel %q is not registered", channel)
	}

	chatID, err := c.liveChatID(ctx, channel)
	if err != nil {
		if apiCode(err) == http.StatusForbidden && !throttled(err) {
			return false, fmt.Errorf("look up live chat: %w: %v", platform.ErrAuthFailure, err)
		}
		return false, fmt.Errorf("look up live chat: %w", err)
	}
	if chatID == "" {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.targets[channel] {
		return false, nil
	}
	if _, ok := c.pollers[channel]; ok {
		return true, nil
	}
	pollCtx, cancel := context.WithCancel(c.base)
	c.pollers[channel] = cancel
	c.wg.Add(1)
	go c.poll(pollCtx, channel, chatID)
	c.logger.Info("channel is live", zap.String("channel", channel), zap.String("live_chat_id", chatID))
	return true, nil
}

func (c *Connector) liveChatID(ctx context.Context, channel string) (string, error) {
	search, err := c.svc.Search.List([]string{"id"}).
		ChannelId(channel).
		EventType("live").
		Type("video").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("search live broadcast: %w", err)
	}
	if len(search.Items) == 0 || search.Items[0].Id == nil || search.Items[0].Id.VideoId == "" {
		return "", nil
	}

	videoID := search.Items[0].Id.VideoId
	videos, err := c.svc.Videos.List([]string{"liveStreamingDetails"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get video %s: %w", videoID, err)
	}
	if len(videos.Items) == 0 || videos.Items[0].LiveStreamingDetails == nil {
		return "", nil
	}
	return videos.Items[0].LiveStreamingDetails.ActiveLiveChatId, nil
}

// poll reads chat pages until cancelled or the chat ends. The first page is
// backlog from before the connection and is skipped.
func (c *Connector) poll(ctx context.Context, channel, chatID string) {
	defer c.wg.Done()
	defer c.release(ctx, channel)

	var token string
	first := true
	for {
		call := c.svc.LiveChatMessages.List(chatID, []string{"snippet", "authorDetails"}).Context(ctx)
		if token != "" {
			call = call.PageToken(token)
		}
		resp, err := call.Do()

		wait := c.minInterval
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil && ended(err):
			c.logger.Info("live chat ended", zap.String("channel", channel), zap.Error(err))
			return
		case err != nil:
			c.logger.Warn("poll live chat failed", zap.String("channel", channel), zap.Error(err))
			wait = errorBackoff
		default:
			token = resp.NextPageToken
			if !first {
				for _, item := range resp.Items {
					c.Emit(platform.Event{Kind: platform.EventMessage, Channel: channel, Raw: Message{Channel: channel, Item: item}})
				}
			}
			first = false
			if d := time.Duration(resp.PollingIntervalMillis) * time.Millisecond; d > wait {
				wait = d
			}
			if resp.OfflineAt != "" {
				c.logger.Info("broadcast went offline", zap.String("channel", channel))
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// release forgets a poller that stopped on its own so the next Confirm
// looks for a new broadcast.
func (c *Connector) release(ctx context.Context, channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// a cancelled poller was already removed, and its slot may be reused
	if ctx.Err() != nil {
		return
	}
	if cancel, ok := c.pollers[channel]; ok {
		cancel()
		delete(c.pollers, channel)
	}
}

func apiCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

// throttled reports quota and rate limit errors, which YouTube sends as 403
func throttled(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "quotaExceeded", "rateLimitExceeded", "userRateLimitExceeded", "dailyLimitExceeded":
			return true
		}
	}
	return false
}

// ended reports API errors that mean the chat is gone or forbidden
func ended(err error) bool {
	if throttled(err) {
		return false
	}
	code := apiCode(err)
	return code == http.StatusForbidden || code == http.StatusNotFound
}

// Disconnect stops polling channel, or every channel when channel is empty
func (c *Connector) Disconnect(_ context.Context, channel string) error {
	c.mu.Lock()
	var departing []string
	if channel == "" {
		for ch := range c.targets {
			departing = append(departing, ch)
		}
	} else {
		departing = []string{channel}
	}
	for _, ch := range departing {
		if cancel, ok := c.pollers[ch]; ok {
			cancel()
			delete(c.pollers, ch)
		}
		delete(c.targets, ch)
	}
	c.mu.Unlock()

	if len(departing) == 0 {
		departing = []string{channel}
	}
	for _, ch := range departing {
		c.Lifecycle(platform.EventDisconnected, ch, nil)
	}
	return nil
}

// Close stops every poller and waits for them to exit
func (c *Connector) Close() {
	c.Emitter.Close()
	c.cancel()
	c.wg.Wait()
}

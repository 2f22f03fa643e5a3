// Package normalize converts raw platform events into canonical chat messages.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/john/chatmux/internal/markup"
	"github.com/john/chatmux/internal/message"
)

// ErrUnsupportedEvent is returned for raw payloads that do not carry a chat message.
var ErrUnsupportedEvent = errors.New("unsupported event")

// DefaultNewThreshold is how recent a join or account creation must be for
// the author to be flagged as new.
const DefaultNewThreshold = 7 * 24 * time.Hour

var hexColor = regexp.MustCompile(`^#?([0-9a-fA-F]{6})$`)

// Renderer turns markup into display HTML.
type Renderer interface {
	Render(nodes []markup.Node, snap markup.EntitySnapshot) string
}

// Options tune normalization.
type Options struct {
	NewThreshold time.Duration
	Now          func() time.Time
}

// Normalizer maps raw events from every platform onto message.ChatMessage.
type Normalizer struct {
	renderer     Renderer
	newThreshold time.Duration
	now          func() time.Time
}

// New creates a Normalizer
func New(r Renderer, opts Options) *Normalizer {
	if opts.NewThreshold <= 0 {
		opts.NewThreshold = DefaultNewThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Normalizer{renderer: r, newThreshold: opts.NewThreshold, now: opts.Now}
}

// Normalize converts raw into a ChatMessage. raw must be the payload type the
// platform's adapter emits.
func (n *Normalizer) Normalize(p message.Platform, raw any) (message.ChatMessage, error) {
	var (
		msg message.ChatMessage
		err error
	)
	switch p {
	case message.Twitch:
		msg, err = n.twitch(raw)
	case message.Kick:
		msg, err = n.kick(raw)
	case message.YouTube:
		msg, err = n.youtube(raw)
	case message.Discord:
		msg, err = n.discord(raw)
	default:
		return message.ChatMessage{}, fmt.Errorf("normalize %q: %w", p, message.ErrUnknownPlatform)
	}
	if err != nil {
		return message.ChatMessage{}, fmt.Errorf("normalize %s event: %w", p, err)
	}

	msg.Platform = p
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = n.now()
	}
	msg.Timestamp = msg.Timestamp.UTC()
	return msg, nil
}

func (n *Normalizer) isNew(since time.Time) bool {
	if since.IsZero() {
		return false
	}
	return n.now().Sub(since) < n.newThreshold
}

func unsupported(raw any) error {
	return fmt.Errorf("%w: %T", ErrUnsupportedEvent, raw)
}

// ColorFromInt formats a 24-bit color. Zero means "no color" and yields "".
func ColorFromInt(c int) string {
	if c <= 0 {
		return ""
	}
	return fmt.Sprintf("#%06x", c&0xffffff)
}

// ColorFromString lower-cases a "#RRGGBB" string. Anything else yields "".
func ColorFromString(s string) string {
	m := hexColor.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return ""
	}
	return "#" + strings.ToLower(m[1])
}

var shortcode = regexp.MustCompile(`:([A-Za-z0-9_+-]+):`)

// shortcodes splits text on ":name:" tokens.
func shortcodes(s string) []markup.Node {
	var out []markup.Node
	last := 0
	for _, m := range shortcode.FindAllStringSubmatchIndex(s, -1) {
		if m[0] > last {
			out = append(out, markup.Text{Value: s[last:m[0]]})
		}
		out = append(out, markup.GenericEmoji{Name: s[m[2]:m[3]]})
		last = m[1]
	}
	if last < len(s) {
		out = append(out, markup.Text{Value: s[last:]})
	}
	return out
}

package message

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownPlatform is returned for platform names outside the supported set
var ErrUnknownPlatform = errors.New("unknown platform")

// Platform identifies one upstream chat source
type Platform string

const (
	YouTube Platform = "youtube"
	Twitch  Platform = "twitch"
	Kick    Platform = "kick"
	Discord Platform = "discord"
)

// Platforms returns every supported platform in display order
func Platforms() []Platform {
	return []Platform{YouTube, Twitch, Kick, Discord}
}

// ParsePlatform converts a viewer-supplied name into a Platform
func ParsePlatform(name string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Platforms() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
}

// ChatStatus summarizes the roles an author holds; flags are independent
type ChatStatus struct {
	Owner      bool `json:"owner"`
	Moderator  bool `json:"moderator"`
	Member     bool `json:"member"`
	Subscribed bool `json:"subscribed"`
	Verified   bool `json:"verified"`
	New        bool `json:"new"`
}

// ChatPerson is the author of a canonical message
type ChatPerson struct {
	Nickname    string     `json:"nickname"`            // Display name
	AvatarURL   string     `json:"avatarURL,omitempty"` // Absolute image URL, if the platform has one
	Color       string     `json:"color,omitempty"`     // "#rrggbb"; empty means platform default
	ID          string     `json:"id,omitempty"`        // Platform-specific user ID
	StatusFlags ChatStatus `json:"statusFlags"`
}

// ChatMessage represents a chat message from any platform after normalization.
// Contents is sanitized HTML.
type ChatMessage struct {
	ID        string     `json:"id"`
	Platform  Platform   `json:"platform"`
	Timestamp time.Time  `json:"timestamp"`
	Contents  string     `json:"contents"`
	Author    ChatPerson `json:"author"`
}

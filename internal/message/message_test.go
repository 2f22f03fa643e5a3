package message

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in      string
		want    Platform
		wantErr bool
	}{
		{in: "twitch", want: Twitch},
		{in: " YouTube ", want: YouTube},
		{in: "KICK", want: Kick},
		{in: "discord", want: Discord},
		{in: "picarto", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePlatform(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnknownPlatform))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChatMessageJSONOmitsEmptyAuthorFields(t *testing.T) {
	msg := ChatMessage{
		ID:        "1",
		Platform:  Twitch,
		Timestamp: time.Date(2024, 5, 30, 0, 58, 0, 0, time.UTC),
		Contents:  "hi",
		Author:    ChatPerson{Nickname: "bob"},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	author := raw["author"].(map[string]any)
	assert.Equal(t, "bob", author["nickname"])
	assert.NotContains(t, author, "color")
	assert.NotContains(t, author, "avatarURL")
	assert.Contains(t, author, "statusFlags")
	assert.Equal(t, "twitch", raw["platform"])
}

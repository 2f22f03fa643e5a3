package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/john/chatmux/internal/message"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	s, err := Load(path, zap.NewNop())
	require.NoError(t, err)

	got := s.Get()
	assert.Equal(t, Version, got.Version)
	assert.Equal(t, 50, got.Chat.HistorySize)
	assert.Equal(t, DefaultTheme, got.Chat.Theme)
	assert.Len(t, got.Platforms, len(message.Platforms()))
	assert.FileExists(t, path)
}

func TestChannelRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	s, err := Load(path, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.SetChannel(message.Twitch, "xqc"))
	assert.Equal(t, "xqc", s.Channel(message.Twitch))
	assert.Empty(t, s.Channel(message.Kick))

	reloaded, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "xqc", reloaded.Channel(message.Twitch))
}

func TestOlderVersionIsMergedAndRewritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	legacy := "chat:\n  theme: Dark\nplatforms:\n  kick:\n    channel: trainwreckstv\n  myspace:\n    channel: tom\n"
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	s, err := Load(path, zap.NewNop())
	require.NoError(t, err)

	got := s.Get()
	assert.Equal(t, Version, got.Version)
	assert.Equal(t, "Dark", got.Chat.Theme)
	assert.Equal(t, 50, got.Chat.HistorySize)
	assert.Equal(t, "trainwreckstv", got.Platforms[message.Kick].Channel)
	assert.NotContains(t, got.Platforms, message.Platform("myspace"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "version: 1")
}

func TestSaveFillsDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "settings.yaml"), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Save(Settings{Chat: Chat{HistorySize: 10}}))
	got := s.Get()
	assert.Equal(t, 10, got.Chat.HistorySize)
	assert.Equal(t, DefaultTheme, got.Chat.Theme)
	assert.Len(t, got.Platforms, len(message.Platforms()))
}

func TestGetReturnsCopy(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "settings.yaml"), zap.NewNop())
	require.NoError(t, err)

	got := s.Get()
	got.Platforms[message.Twitch] = PlatformSettings{Channel: "changed"}
	assert.Empty(t, s.Channel(message.Twitch))
}

func TestSetTheme(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "settings.yaml"), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.SetTheme("Neon"))
	assert.Equal(t, "Neon", s.Get().Chat.Theme)
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chat: [unterminated"), 0o600))

	_, err := Load(path, zap.NewNop())
	assert.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CHATMUX_ADDR", "")
	t.Setenv("LOG_LEVEL", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout())
	assert.Equal(t, 5*time.Second, cfg.PollInterval())
	assert.Equal(t, "./history.db", cfg.Data.HistoryPath)
	assert.False(t, cfg.UploadEnabled())
	assert.True(t, cfg.DeleteAfterUpload())
}

func TestLoadFile(t *testing.T) {
	t.Setenv("CHATMUX_ADDR", "")
	t.Setenv("TWITCH_OAUTH", "")
	path := writeConfig(t, `
server:
  addr: ":9000"
twitch:
  username: bot
  oauth: oauth:abc
kick:
  chatrooms:
    xqc: 668
discord:
  token: default
  tokens:
    "111": special
supervisor:
  connect_timeout_seconds: 10
uploader:
  delete_after_upload: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "bot", cfg.Twitch.Username)
	assert.Equal(t, 668, cfg.Kick.Chatrooms["xqc"])
	assert.Equal(t, "special", cfg.Discord.Tokens["111"])
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout())
	assert.False(t, cfg.DeleteAfterUpload())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TWITCH_OAUTH", "oauth:env")
	t.Setenv("DISCORD_TOKEN", "discord-env")
	t.Setenv("YOUTUBE_API_KEY", "yt-env")
	t.Setenv("CHATMUX_ADDR", ":7000")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "twitch:\n  username: bot\n  oauth: from-file\n"))
	require.NoError(t, err)

	assert.Equal(t, "oauth:env", cfg.Twitch.OAuth)
	assert.Equal(t, "discord-env", cfg.Discord.Token)
	assert.Equal(t, "yt-env", cfg.YouTube.APIKey)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"oauth without username", "twitch:\n  oauth: oauth:abc\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"bad log format", "log:\n  format: xml\n"},
		{"bad chatroom", "kick:\n  chatrooms:\n    xqc: 0\n"},
		{"bucket without region", "s3:\n  bucket: logs\n"},
		{"bucket without credentials", "s3:\n  bucket: logs\n  region: us-east-1\n"},
		{"key without secret", "s3:\n  bucket: logs\n  region: us-east-1\n  access_key_id: AKIA\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestUploadEnabled(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
recorder:
  enabled: true
s3:
  bucket: logs
  region: us-east-1
  access_key_id: AKIA
  secret_access_key: secret
`))
	require.NoError(t, err)
	assert.True(t, cfg.UploadEnabled())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [oops"))
	assert.Error(t, err)
}

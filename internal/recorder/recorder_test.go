package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/john/chatmux/internal/message"
)

func entry(id, channel string) Entry {
	return Entry{Channel: channel, Message: message.ChatMessage{
		ID:       id,
		Platform: message.Twitch,
		Contents: "hi",
		Author:   message.ChatPerson{Nickname: "viewer"},
	}}
}

func readLines(t *testing.T, path string) []message.ChatMessage {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []message.ChatMessage
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m message.ChatMessage
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRecordBuffersUntilFull(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 2, 60, 100, zap.NewNop())
	r.now = fixedClock(time.Date(2025, 12, 30, 10, 30, 0, 0, time.UTC))

	require.NoError(t, r.record(entry("1", "ludwig")))
	path := filepath.Join(dir, "twitch_ludwig_20251230_1030.jsonl")
	assert.Empty(t, readLines(t, path))

	require.NoError(t, r.record(entry("2", "ludwig")))
	got := readLines(t, path)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "2", got[1].ID)
}

func TestChannelNamesAreSanitized(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 1, 60, 100, zap.NewNop())
	r.now = fixedClock(time.Date(2025, 1, 2, 3, 4, 0, 0, time.UTC))

	require.NoError(t, r.record(entry("1", "../evil name")))
	assert.FileExists(t, filepath.Join(dir, "twitch_-evil-name_20250102_0304.jsonl"))
}

func TestRotationBySize(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 1, 60, 0, zap.NewNop())
	r.rotateBytes = 10
	start := time.Date(2025, 12, 30, 10, 30, 0, 0, time.UTC)
	r.now = fixedClock(start)

	require.NoError(t, r.record(entry("1", "ludwig")))
	files := make(chan string, 4)
	r.now = fixedClock(start.Add(time.Minute))
	r.checkRotation(files)

	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(dir, "twitch_ludwig_20251230_1030.jsonl"), <-files)

	require.NoError(t, r.record(entry("2", "ludwig")))
	got := readLines(t, filepath.Join(dir, "twitch_ludwig_20251230_1031.jsonl"))
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)
}

func TestRotationByAge(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 1, 60, 100, zap.NewNop())
	start := time.Date(2025, 12, 30, 10, 30, 0, 0, time.UTC)
	r.now = fixedClock(start)
	require.NoError(t, r.record(entry("1", "ludwig")))

	files := make(chan string, 4)
	r.now = fixedClock(start.Add(59 * time.Minute))
	r.checkRotation(files)
	assert.Empty(t, files)

	r.now = fixedClock(start.Add(61 * time.Minute))
	r.checkRotation(files)
	assert.Len(t, files, 1)
}

func TestRunFlushesOnShutdown(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 100, 60, 100, zap.NewNop())

	entries := make(chan Entry)
	files := make(chan string, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, entries, files) }()

	entries <- entry("1", "a")
	entries <- entry("2", "b")
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	require.Len(t, files, 2)
	total := 0
	for len(files) > 0 {
		total += len(readLines(t, <-files))
	}
	assert.Equal(t, 2, total)
}

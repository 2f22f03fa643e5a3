package hub

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/john/chatmux/internal/message"
	"github.com/john/chatmux/internal/supervisor"
)

type received struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func startHub(t *testing.T, opts Options) (*Hub, *httptest.Server) {
	t.Helper()
	h := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		srv.Close()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev received
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestBroadcastReachesEveryViewer(t *testing.T) {
	h, srv := startHub(t, Options{})
	a := dial(t, srv)
	b := dial(t, srv)
	require.Eventually(t, func() bool { return h.Viewers() == 2 }, time.Second, 5*time.Millisecond)

	h.PublishAlert("chat", "hello")
	for _, conn := range []*websocket.Conn{a, b} {
		ev := read(t, conn)
		assert.Equal(t, EventAlert, ev.Type)
		assert.JSONEq(t, `{"dest":"chat","text":"hello"}`, string(ev.Payload))
	}
}

func TestStateTableEncoding(t *testing.T) {
	h, srv := startHub(t, Options{})
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return h.Viewers() == 1 }, time.Second, 5*time.Millisecond)

	h.PublishStateChange(map[message.Platform]supervisor.State{
		message.Twitch: supervisor.Connected,
		message.Kick:   supervisor.Disconnected,
	})
	ev := read(t, conn)
	assert.Equal(t, EventStateChanged, ev.Type)
	assert.JSONEq(t, `{"twitch":"connected","kick":"disconnected"}`, string(ev.Payload))
}

func TestOnConnectGreetsViewer(t *testing.T) {
	_, srv := startHub(t, Options{OnConnect: func(c *Client) {
		c.Send(EventThemeList, []string{"Plain"})
	}})
	conn := dial(t, srv)

	ev := read(t, conn)
	assert.Equal(t, EventThemeList, ev.Type)
	assert.JSONEq(t, `["Plain"]`, string(ev.Payload))
}

func TestCommandsAreDispatched(t *testing.T) {
	got := make(chan Command, 4)
	_, srv := startHub(t, Options{OnCommand: func(_ context.Context, c *Client, cmd Command) {
		got <- cmd
		c.Alert("settings", "handled "+cmd.Type)
	}})
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"payload":{}}`)))
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    CmdRequestConnect,
		"payload": map[string]string{"platform": "twitch", "channel": "xqc"},
	}))

	select {
	case cmd := <-got:
		assert.Equal(t, CmdRequestConnect, cmd.Type)
		assert.JSONEq(t, `{"platform":"twitch","channel":"xqc"}`, string(cmd.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("command not dispatched")
	}
	assert.Empty(t, got, "malformed frames are ignored")

	ev := read(t, conn)
	assert.Equal(t, EventAlert, ev.Type)
	assert.Contains(t, string(ev.Payload), "handled requestConnect")
}

func TestSlowViewerIsDropped(t *testing.T) {
	h := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	slow := &Client{ID: "slow", hub: h, send: make(chan []byte, 1)}
	h.register <- slow
	require.Eventually(t, func() bool { return h.Viewers() == 1 }, time.Second, 5*time.Millisecond)

	h.PublishThemeChange("Neon")
	h.PublishThemeChange("Dark")
	require.Eventually(t, func() bool { return h.Viewers() == 0 }, time.Second, 5*time.Millisecond)

	first, ok := <-slow.send
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"themeChange","payload":"Neon"}`, string(first))
	_, ok = <-slow.send
	assert.False(t, ok, "queue is closed after the drop")
	assert.False(t, slow.Send(EventThemeChange, "Plain"))
}

func TestShutdownClosesViewers(t *testing.T) {
	h := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return h.Viewers() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// publishing after shutdown must not block
	h.PublishAlert("chat", "late")
}

package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	twitchirc "github.com/gempir/go-twitch-irc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/john/chatmux/internal/config"
	"github.com/john/chatmux/internal/hub"
	"github.com/john/chatmux/internal/message"
	"github.com/john/chatmux/internal/platform"
	"github.com/john/chatmux/internal/platform/platformtest"
	"github.com/john/chatmux/internal/recorder"
	"github.com/john/chatmux/internal/settings"
	"github.com/john/chatmux/internal/supervisor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sent struct {
	eventType string
	payload   any
}

type fakeViewer struct {
	mu     sync.Mutex
	sent   []sent
	alerts []hub.Alert
}

func (v *fakeViewer) Send(eventType string, payload any) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sent = append(v.sent, sent{eventType, payload})
	return true
}

func (v *fakeViewer) Alert(dest, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.alerts = append(v.alerts, hub.Alert{Dest: dest, Text: text})
}

func (v *fakeViewer) Sent() []sent {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]sent(nil), v.sent...)
}

func (v *fakeViewer) Alerts() []hub.Alert {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]hub.Alert(nil), v.alerts...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	themesDir := filepath.Join(dir, "themes")
	require.NoError(t, os.Mkdir(themesDir, 0o755))
	return &config.Config{
		Server: config.ServerConfig{Addr: "127.0.0.1:0", ThemesDir: themesDir},
		Data: config.DataConfig{
			HistoryPath:  filepath.Join(dir, "history.db"),
			SettingsPath: filepath.Join(dir, "settings.yaml"),
		},
	}
}

// start assembles an App over fake adapters and runs its hub and supervisor
// for the duration of the test.
func start(t *testing.T, cfg *config.Config, adapters ...platform.Adapter) *App {
	t.Helper()
	a, err := assemble(cfg, zap.NewNop(), adapters)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.hub.Run(ctx) })
	g.Go(func() error { return a.supervisor.Run(ctx) })

	t.Cleanup(func() {
		cancel()
		require.NoError(t, g.Wait())
		a.close()
	})
	return a
}

func command(t *testing.T, typ string, payload any) hub.Command {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return hub.Command{Type: typ, Payload: raw}
}

func lastOf(t *testing.T, v *fakeViewer, eventType string) any {
	t.Helper()
	msgs := v.Sent()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].eventType == eventType {
			return msgs[i].payload
		}
	}
	t.Fatalf("no %s event sent", eventType)
	return nil
}

func privmsg(id, text string) twitchirc.PrivateMessage {
	return twitchirc.PrivateMessage{
		User: twitchirc.User{
			ID:          "42",
			Name:        "ludwig",
			DisplayName: "Ludwig",
			Color:       "#FF0000",
			Badges:      map[string]int{"moderator": 1},
		},
		ID:      id,
		Channel: "ludwig",
		Message: text,
		Time:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Tags:    map[string]string{},
	}
}

func TestHandleEventStoresAndRemembers(t *testing.T) {
	a := start(t, testConfig(t), platformtest.New(message.Twitch))

	a.handleEvent(platform.Event{
		Platform: message.Twitch,
		Kind:     platform.EventMessage,
		Channel:  "ludwig",
		Raw:      privmsg("m1", "hello chat"),
	})

	stored := a.history.All()
	require.Len(t, stored, 1)
	assert.Equal(t, "m1", stored[0].ID)
	assert.Equal(t, message.Twitch, stored[0].Platform)
	assert.Contains(t, stored[0].Contents, "hello chat")
	assert.True(t, stored[0].Author.StatusFlags.Moderator)

	person, ok := a.users.Lookup("42")
	require.True(t, ok)
	assert.Equal(t, "Ludwig", person.Nickname)
}

func TestHandleEventDropsUnsupportedPayload(t *testing.T) {
	a := start(t, testConfig(t), platformtest.New(message.Twitch))

	a.handleEvent(platform.Event{Platform: message.Twitch, Kind: platform.EventMessage, Raw: "not a privmsg"})

	assert.Zero(t, a.history.Len())
	assert.Zero(t, a.users.Len())
}

func TestHandleEventQueuesTranscriptEntry(t *testing.T) {
	a := start(t, testConfig(t), platformtest.New(message.Twitch))
	a.entries = make(chan recorder.Entry, 1)

	a.handleEvent(platform.Event{Platform: message.Twitch, Kind: platform.EventMessage, Channel: "ludwig", Raw: privmsg("m1", "hi")})
	// buffer full: the message still reaches history
	a.handleEvent(platform.Event{Platform: message.Twitch, Kind: platform.EventMessage, Channel: "ludwig", Raw: privmsg("m2", "hi again")})

	entry := <-a.entries
	assert.Equal(t, "ludwig", entry.Channel)
	assert.Equal(t, "m1", entry.Message.ID)
	assert.Equal(t, 2, a.history.Len())
}

func TestGreetAndGetStates(t *testing.T) {
	a := start(t, testConfig(t), platformtest.New(message.Twitch), platformtest.New(message.Kick))
	v := &fakeViewer{}

	a.handleCommand(context.Background(), v, hub.Command{Type: hub.CmdGetStates})

	states, ok := lastOf(t, v, hub.EventStateChanged).(map[message.Platform]supervisor.State)
	require.True(t, ok)
	assert.Equal(t, map[message.Platform]supervisor.State{
		message.Twitch: supervisor.Disconnected,
		message.Kick:   supervisor.Disconnected,
	}, states)
}

func TestRequestConnectAndDisconnect(t *testing.T) {
	tw := platformtest.New(message.Twitch)
	tw.AutoConfirm = true
	a := start(t, testConfig(t), tw)
	v := &fakeViewer{}
	ctx := context.Background()

	a.handleCommand(ctx, v, command(t, hub.CmdRequestConnect, connectPayload{Platform: "twitch", Channel: "ludwig"}))
	require.Eventually(t, func() bool {
		return a.supervisor.CurrentStates()[message.Twitch] == supervisor.Connected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "ludwig", a.settings.Channel(message.Twitch))

	a.handleCommand(ctx, v, command(t, hub.CmdRequestDisconnect, connectPayload{Platform: "twitch"}))
	require.Eventually(t, func() bool {
		return a.supervisor.CurrentStates()[message.Twitch] == supervisor.Disconnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, v.Alerts())
}

func TestRequestConnectUnknownPlatformAlertsViewer(t *testing.T) {
	a := start(t, testConfig(t), platformtest.New(message.Twitch))
	v := &fakeViewer{}

	a.handleCommand(context.Background(), v, command(t, hub.CmdRequestConnect, connectPayload{Platform: "myspace", Channel: "tom"}))

	alerts := v.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, supervisor.AlertChat, alerts[0].Dest)
}

func TestMissingCredentialIsNotRepeatedToViewer(t *testing.T) {
	dc := platformtest.NewCredentialed(message.Discord, map[string]string{})
	a := start(t, testConfig(t), dc)
	v := &fakeViewer{}

	a.handleCommand(context.Background(), v, command(t, hub.CmdRequestConnect, connectPayload{Platform: "discord", Channel: "123"}))

	assert.Empty(t, v.Alerts())
	assert.Equal(t, supervisor.Disconnected, a.supervisor.CurrentStates()[message.Discord])
}

func TestGetSettingsReportsConfiguredTokens(t *testing.T) {
	cfg := testConfig(t)
	cfg.Twitch.OAuth = "oauth:abc"
	cfg.Discord.Tokens = map[string]string{"123": "bot"}
	a := start(t, cfg, platformtest.New(message.Twitch))
	v := &fakeViewer{}

	a.handleCommand(context.Background(), v, hub.Command{Type: hub.CmdGetSettings})

	got, ok := lastOf(t, v, hub.EventSettings).(settings.Settings)
	require.True(t, ok)
	assert.True(t, got.Platforms[message.Twitch].TokenAdded)
	assert.True(t, got.Platforms[message.Discord].TokenAdded)
	assert.False(t, got.Platforms[message.YouTube].TokenAdded)
	assert.False(t, got.Platforms[message.Kick].TokenAdded)
}

func TestSaveSettingsResizesHistory(t *testing.T) {
	a := start(t, testConfig(t), platformtest.New(message.Twitch))
	for i := 0; i < 5; i++ {
		a.handleEvent(platform.Event{Platform: message.Twitch, Kind: platform.EventMessage, Raw: privmsg(string(rune('a'+i)), "hi")})
	}
	require.Equal(t, 5, a.history.Len())

	next := settings.Defaults()
	next.Chat.HistorySize = 2
	next.Chat.Theme = "Dark"
	v := &fakeViewer{}
	a.handleCommand(context.Background(), v, command(t, hub.CmdSaveSettings, next))

	assert.Equal(t, 2, a.history.Len())
	assert.Equal(t, "Dark", a.settings.Get().Chat.Theme)
	got, ok := lastOf(t, v, hub.EventSettings).(settings.Settings)
	require.True(t, ok)
	assert.Equal(t, 2, got.Chat.HistorySize)
}

func TestThemeCommands(t *testing.T) {
	cfg := testConfig(t)
	for _, name := range []string{"Dark.css", "Dark.html", "Orphan.css"} {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Server.ThemesDir, name), nil, 0o600))
	}
	a := start(t, cfg, platformtest.New(message.Twitch))
	v := &fakeViewer{}
	ctx := context.Background()

	a.handleCommand(ctx, v, hub.Command{Type: hub.CmdGetThemes})
	assert.Equal(t, []string{"Dark"}, lastOf(t, v, hub.EventThemeList))

	a.handleCommand(ctx, v, command(t, hub.CmdThemeChange, "Dark"))
	assert.Equal(t, "Dark", a.settings.Get().Chat.Theme)

	a.handleCommand(ctx, v, command(t, hub.CmdThemeChange, "  "))
	assert.Equal(t, "Dark", a.settings.Get().Chat.Theme)
}

func TestGetHistory(t *testing.T) {
	a := start(t, testConfig(t), platformtest.New(message.Twitch))
	a.handleEvent(platform.Event{Platform: message.Twitch, Kind: platform.EventMessage, Raw: privmsg("m1", "hi")})
	v := &fakeViewer{}

	a.handleCommand(context.Background(), v, hub.Command{Type: hub.CmdGetHistory})

	msgs, ok := lastOf(t, v, hub.EventHistory).([]message.ChatMessage)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestMalformedAndUnknownCommandsAreIgnored(t *testing.T) {
	a := start(t, testConfig(t), platformtest.New(message.Twitch))
	v := &fakeViewer{}
	ctx := context.Background()

	a.handleCommand(ctx, v, hub.Command{Type: hub.CmdRequestConnect, Payload: json.RawMessage(`[1,2`)})
	a.handleCommand(ctx, v, hub.Command{Type: hub.CmdSaveSettings, Payload: json.RawMessage(`"nope"`)})
	a.handleCommand(ctx, v, hub.Command{Type: "launchRockets"})

	assert.Empty(t, v.Sent())
	assert.Empty(t, v.Alerts())
}

func TestUserKey(t *testing.T) {
	withID := message.ChatMessage{Platform: message.Twitch, Author: message.ChatPerson{ID: "42", Nickname: "a"}}
	withoutID := message.ChatMessage{Platform: message.Kick, Author: message.ChatPerson{Nickname: "xqc"}}

	assert.Equal(t, "42", UserKey(withID))
	assert.Equal(t, "kick-xqc", UserKey(withoutID))

	c := NewUserCache()
	c.Remember(withoutID)
	c.Remember(withoutID)
	assert.Equal(t, 1, c.Len())
	_, ok := c.Lookup("kick-xqc")
	assert.True(t, ok)
}

package discord

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/john/chatmux/internal/platform"
)

func TestHasCredential(t *testing.T) {
	c := New("", map[string]string{"111": "tok-a"}, zap.NewNop())
	defer c.Close()

	assert.True(t, c.HasCredential("111"))
	assert.False(t, c.HasCredential("222"))

	withDefault := New("tok-default", nil, zap.NewNop())
	defer withDefault.Close()
	assert.True(t, withDefault.HasCredential("222"))
	assert.Equal(t, "tok-default", withDefault.tokenFor("222"))
}

func TestConnectWithoutToken(t *testing.T) {
	c := New("", nil, zap.NewNop())
	defer c.Close()

	assert.ErrorIs(t, c.Connect(context.Background(), "111"), ErrNoToken)
	assert.Empty(t, c.bound)
}

func TestIsAuthFailure(t *testing.T) {
	assert.True(t, isAuthFailure(&websocket.CloseError{Code: 4004, Text: "Authentication failed."}))
	assert.True(t, isAuthFailure(fmt.Errorf("open: %w", &websocket.CloseError{Code: 4004})))
	assert.False(t, isAuthFailure(&websocket.CloseError{Code: 4000}))
	assert.False(t, isAuthFailure(fmt.Errorf("dial failed")))
}

func TestGuildView(t *testing.T) {
	state := discordgo.NewState()
	guild := &discordgo.Guild{
		ID:       "g1",
		OwnerID:  "owner",
		Channels: []*discordgo.Channel{{ID: "c1", Name: "general"}},
		Roles:    []*discordgo.Role{{ID: "r1", Name: "mods", Color: 0xff0000}},
	}
	require.NoError(t, state.GuildAdd(guild))

	view := guildView(state, "g1")
	require.NotNil(t, view)
	assert.Equal(t, "owner", view.OwnerID)
	assert.Len(t, view.Channels, 1)
	assert.Len(t, view.Roles, 1)

	view.Roles = nil
	g, err := state.Guild("g1")
	require.NoError(t, err)
	assert.Len(t, g.Roles, 1, "the view is a copy")

	assert.Nil(t, guildView(state, ""))
	assert.Nil(t, guildView(state, "missing"))
}

func TestDisconnectUnknownChannel(t *testing.T) {
	c := New("tok", nil, zap.NewNop())
	defer c.Close()

	require.NoError(t, c.Disconnect(context.Background(), "999"))
	select {
	case ev := <-c.Events():
		assert.Equal(t, platform.EventDisconnected, ev.Kind)
		assert.Equal(t, "999", ev.Channel)
	case <-time.After(time.Second):
		t.Fatal("no disconnect event")
	}
}

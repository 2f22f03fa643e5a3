package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/john/chatmux/internal/hub"
	"github.com/john/chatmux/internal/message"
	"github.com/john/chatmux/internal/settings"
	"github.com/john/chatmux/internal/supervisor"
	"github.com/john/chatmux/internal/themes"
)

// viewer is the reply side of one connected viewer
type viewer interface {
	Send(eventType string, payload any) bool
	Alert(dest, text string)
}

type connectPayload struct {
	Platform string `json:"platform"`
	Channel  string `json:"channel"`
}

// greet sends a new viewer what it needs to draw its first frame
func (a *App) greet(c *hub.Client) {
	c.Send(hub.EventStateChanged, a.supervisor.CurrentStates())
}

func (a *App) handleCommand(ctx context.Context, v viewer, cmd hub.Command) {
	log := a.logger.With(zap.String("command", cmd.Type))

	switch cmd.Type {
	case hub.CmdRequestConnect, hub.CmdRequestDisconnect:
		var p connectPayload
		if !decode(log, cmd, &p) {
			return
		}
		var err error
		if cmd.Type == hub.CmdRequestConnect {
			err = a.supervisor.RequestConnect(ctx, p.Platform, p.Channel)
		} else {
			err = a.supervisor.RequestDisconnect(ctx, p.Platform, p.Channel)
		}
		// the supervisor already told every viewer about missing credentials
		if err != nil && !errors.Is(err, supervisor.ErrMissingCredential) {
			log.Info("request rejected", zap.Error(err))
			v.Alert(supervisor.AlertChat, err.Error())
		}

	case hub.CmdGetStates:
		v.Send(hub.EventStateChanged, a.supervisor.CurrentStates())

	case hub.CmdGetSettings:
		v.Send(hub.EventSettings, a.settingsView())

	case hub.CmdSaveSettings:
		var next settings.Settings
		if !decode(log, cmd, &next) {
			return
		}
		prevTheme := a.settings.Get().Chat.Theme
		if err := a.settings.Save(next); err != nil {
			log.Error("failed to save settings", zap.Error(err))
			v.Alert(supervisor.AlertSettings, "Could not save settings: "+err.Error())
			return
		}
		saved := a.settings.Get()
		a.history.SetMaxSize(saved.Chat.HistorySize)
		if saved.Chat.Theme != prevTheme {
			a.hub.PublishThemeChange(saved.Chat.Theme)
		}
		v.Send(hub.EventSettings, a.settingsView())

	case hub.CmdGetThemes:
		names, err := themes.List(a.cfg.Server.ThemesDir)
		if err != nil {
			log.Warn("failed to list themes", zap.Error(err))
		}
		v.Send(hub.EventThemeList, names)

	case hub.CmdThemeChange:
		var name string
		if !decode(log, cmd, &name) {
			return
		}
		name = strings.TrimSpace(name)
		if name == "" {
			log.Warn("ignoring empty theme")
			return
		}
		if err := a.settings.SetTheme(name); err != nil {
			log.Error("failed to save theme", zap.Error(err))
			v.Alert(supervisor.AlertSettings, "Could not save theme: "+err.Error())
		}
		a.hub.PublishThemeChange(name)

	case hub.CmdGetHistory:
		v.Send(hub.EventHistory, a.history.All())

	default:
		log.Warn("ignoring unknown command")
	}
}

func decode(log *zap.Logger, cmd hub.Command, into any) bool {
	if err := json.Unmarshal(cmd.Payload, into); err != nil {
		log.Warn("ignoring malformed command payload", zap.Error(err))
		return false
	}
	return true
}

// settingsView is the stored settings with tokenAdded reflecting the
// credentials actually configured.
func (a *App) settingsView() settings.Settings {
	s := a.settings.Get()
	tokens := map[message.Platform]bool{
		message.Twitch:  a.cfg.Twitch.OAuth != "",
		message.YouTube: a.cfg.YouTube.APIKey != "",
		message.Discord: a.cfg.Discord.Token != "" || len(a.cfg.Discord.Tokens) > 0,
	}
	for p, ps := range s.Platforms {
		ps.TokenAdded = tokens[p]
		s.Platforms[p] = ps
	}
	return s
}

// Package app wires the chat sources, normalization, persistence and the
// viewer hub into one running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/john/chatmux/internal/config"
	"github.com/john/chatmux/internal/discord"
	"github.com/john/chatmux/internal/history"
	"github.com/john/chatmux/internal/hub"
	"github.com/john/chatmux/internal/kick"
	"github.com/john/chatmux/internal/normalize"
	"github.com/john/chatmux/internal/platform"
	"github.com/john/chatmux/internal/recorder"
	"github.com/john/chatmux/internal/render"
	"github.com/john/chatmux/internal/server"
	"github.com/john/chatmux/internal/settings"
	"github.com/john/chatmux/internal/supervisor"
	"github.com/john/chatmux/internal/telemetry"
	"github.com/john/chatmux/internal/themes"
	"github.com/john/chatmux/internal/twitch"
	"github.com/john/chatmux/internal/uploader"
	"github.com/john/chatmux/internal/youtube"
)

const shutdownTimeout = 10 * time.Second

// App is the assembled process
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	adapters   []platform.Adapter
	settings   *settings.Store
	history    *history.Store
	normalizer *normalize.Normalizer
	hub        *hub.Hub
	supervisor *supervisor.Supervisor
	server     *server.Server
	themes     *themes.Watcher
	users      *UserCache

	// keeps history order and broadcast order identical across adapters
	pipeMu sync.Mutex

	recorder *recorder.Recorder
	entries  chan recorder.Entry
	uploader *uploader.Uploader
	files    chan string
}

// New builds every component from cfg
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	yt, err := youtube.New(ctx, cfg.YouTube.APIKey, logger)
	if err != nil {
		return nil, fmt.Errorf("create youtube connector: %w", err)
	}
	resolver := kick.NewResolver()
	if cfg.Kick.APIBase != "" {
		resolver.BaseURL = cfg.Kick.APIBase
	}
	adapters := []platform.Adapter{
		yt,
		twitch.New(cfg.Twitch.Username, cfg.Twitch.OAuth, logger),
		kick.New(resolver, cfg.Kick.Chatrooms, logger),
		discord.New(cfg.Discord.Token, cfg.Discord.Tokens, logger),
	}

	a, err := assemble(cfg, logger, adapters)
	if err != nil {
		return nil, err
	}

	if cfg.UploadEnabled() {
		a.uploader, err = uploader.New(ctx, uploader.Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			RoleARN:         cfg.S3.RoleARN,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Endpoint:        cfg.S3.Endpoint,
			DeleteAfter:     cfg.DeleteAfterUpload(),
			MaxRetries:      cfg.Uploader.MaxRetries,
			Logger:          logger,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("create uploader: %w", err)
		}
		a.files = make(chan string, 100)
	}
	return a, nil
}

// assemble builds everything that does not talk to the outside world
func assemble(cfg *config.Config, logger *zap.Logger, adapters []platform.Adapter) (*App, error) {
	telemetry.Init()

	st, err := settings.Load(cfg.Data.SettingsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	hist, err := history.Open(cfg.Data.HistoryPath, st.Get().Chat.HistorySize, logger)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	a := &App{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "app")),
		adapters:   adapters,
		settings:   st,
		history:    hist,
		normalizer: normalize.New(render.New(render.WithLogger(logger)), normalize.Options{}),
		users:      NewUserCache(),
	}

	a.hub = hub.New(hub.Options{
		OnConnect: a.greet,
		OnCommand: func(ctx context.Context, c *hub.Client, cmd hub.Command) {
			a.handleCommand(ctx, c, cmd)
		},
		Logger: logger,
	})
	a.supervisor = supervisor.New(adapters, st, a.hub, supervisor.Options{
		ConnectTimeout: cfg.ConnectTimeout(),
		PollInterval:   cfg.PollInterval(),
		OnMessage:      a.handleEvent,
		Logger:         logger,
	})
	a.server = server.New(cfg.Server.Addr, a.hub, logger)
	a.themes = themes.NewWatcher(cfg.Server.ThemesDir, logger, a.hub.PublishThemes)

	if cfg.Recorder.Enabled {
		a.recorder = recorder.New(cfg.Recorder.OutputDir, cfg.Recorder.BufferSize,
			cfg.Recorder.RotateMinutes, cfg.Recorder.RotateMegabytes, logger)
		a.entries = make(chan recorder.Entry, cfg.Recorder.BufferSize)
	}
	return a, nil
}

// Run starts every component and blocks until ctx is done or one of them
// fails.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.hub.Run(ctx) })
	g.Go(func() error { return a.supervisor.Run(ctx) })
	g.Go(func() error { return a.server.Run(ctx) })
	g.Go(func() error {
		if err := a.themes.Run(ctx); err != nil {
			// overlays still work with the themes they already have
			a.logger.Warn("theme watcher stopped", zap.Error(err))
		}
		return nil
	})

	if a.recorder != nil {
		g.Go(func() error { return ignoreCanceled(a.recorder.Run(ctx, a.entries, a.files)) })
	}
	if a.uploader != nil {
		if err := a.uploader.ScanAndUploadExisting(ctx, a.cfg.Recorder.OutputDir); err != nil {
			a.logger.Warn("failed to scan for leftover transcripts", zap.Error(err))
		}
		g.Go(func() error { return ignoreCanceled(a.uploader.Run(ctx, a.files)) })
	}

	a.logger.Info("all components started", zap.Int("platforms", len(a.adapters)))
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type closer interface{ Close() }

// close releases adapters and storage. Emitters are closed first so that
// Disconnect never blocks on an event nobody reads.
func (a *App) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, ad := range a.adapters {
		if c, ok := ad.(closer); ok {
			c.Close()
		}
		if err := ad.Disconnect(ctx, ""); err != nil {
			a.logger.Warn("disconnect on shutdown failed", zap.String("platform", string(ad.Platform())), zap.Error(err))
		}
	}
	if err := a.history.Close(); err != nil {
		a.logger.Warn("failed to close history", zap.Error(err))
	}
	a.logger.Info("stopped")
}

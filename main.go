package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/john/chatmux/internal/app"
	"github.com/john/chatmux/internal/config"
	"github.com/john/chatmux/internal/kick"
	"github.com/john/chatmux/internal/logging"
)

var (
	configPath string
	logLevel   string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:           "chatmux",
	Short:         "Merge live chat from several platforms into one overlay feed",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var resolveKickCmd = &cobra.Command{
	Use:   "resolve-kick <slug>...",
	Short: "Print the Kick chatroom IDs for kick.chatrooms in config.yaml",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResolveKick,
}

func init() {
	rootCmd.AddCommand(resolveKickCmd)

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig, "path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("chatmux starting",
		zap.String("config", configPath),
		zap.String("addr", cfg.Server.Addr),
		zap.Bool("recorder", cfg.Recorder.Enabled),
		zap.Bool("upload", cfg.UploadEnabled()))

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("chatmux stopped")
	return nil
}

func runResolveKick(cmd *cobra.Command, args []string) error {
	resolver := kick.NewResolver()
	if cfg, err := config.Load(configPath); err == nil && cfg.Kick.APIBase != "" {
		resolver.BaseURL = cfg.Kick.APIBase
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "kick:")
	fmt.Fprintln(out, "  chatrooms:")
	var failed int
	for _, slug := range args {
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		id, canonical, err := resolver.Resolve(ctx, slug)
		cancel()
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "# %s: %v\n", slug, err)
			continue
		}
		fmt.Fprintf(out, "    %s: %d\n", canonical, id)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d channels could not be resolved", failed, len(args))
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "chatmux:", err)
		os.Exit(1)
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Data       DataConfig       `yaml:"data"`
	Twitch     TwitchConfig     `yaml:"twitch"`
	Kick       KickConfig       `yaml:"kick"`
	YouTube    YouTubeConfig    `yaml:"youtube"`
	Discord    DiscordConfig    `yaml:"discord"`
	S3         S3Config         `yaml:"s3"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Uploader   UploaderConfig   `yaml:"uploader"`
}

// ServerConfig holds the viewer-facing HTTP server configuration
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	ThemesDir string `yaml:"themes_dir"`
}

// LogConfig selects the zap preset
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// SupervisorConfig holds connection supervision timings
type SupervisorConfig struct {
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
	PollIntervalSeconds   int `yaml:"poll_interval_seconds"`
}

// DataConfig locates persisted state
type DataConfig struct {
	HistoryPath  string `yaml:"history_path"`
	SettingsPath string `yaml:"settings_path"`
}

// TwitchConfig holds Twitch-specific configuration. Without OAuth the
// connection is anonymous and read-only.
type TwitchConfig struct {
	Username string `yaml:"username"`
	OAuth    string `yaml:"oauth"`
}

// KickConfig holds Kick-specific configuration
type KickConfig struct {
	APIBase   string         `yaml:"api_base"`  // Override for the channel lookup API
	Chatrooms map[string]int `yaml:"chatrooms"` // Pre-resolved slug -> chatroom ID
}

// YouTubeConfig holds YouTube Data API configuration
type YouTubeConfig struct {
	APIKey string `yaml:"api_key"`
}

// DiscordConfig holds bot tokens. Tokens maps channel IDs to the bot that
// relays them; Token is used for channels without an entry.
type DiscordConfig struct {
	Token  string            `yaml:"token"`
	Tokens map[string]string `yaml:"tokens"`
}

// S3Config holds S3 upload configuration
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	RoleARN         string `yaml:"role_arn"`          // IAM role ARN for OIDC authentication
	AccessKeyID     string `yaml:"access_key_id"`     // Legacy: static credentials
	SecretAccessKey string `yaml:"secret_access_key"` // Legacy: static credentials
	Endpoint        string `yaml:"endpoint"`          // For S3-compatible services
}

// RecorderConfig holds transcript recorder configuration
type RecorderConfig struct {
	Enabled         bool   `yaml:"enabled"`
	OutputDir       string `yaml:"output_dir"`
	RotateMinutes   int    `yaml:"rotate_minutes"`
	RotateMegabytes int    `yaml:"rotate_megabytes"`
	BufferSize      int    `yaml:"buffer_size"`
}

// UploaderConfig holds uploader configuration
type UploaderConfig struct {
	CheckIntervalSeconds int   `yaml:"check_interval_seconds"`
	DeleteAfterUpload    *bool `yaml:"delete_after_upload"`
	MaxRetries           int   `yaml:"max_retries"`
}

// ConnectTimeout returns the supervisor connect deadline
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Supervisor.ConnectTimeoutSeconds) * time.Second
}

// PollInterval returns the supervisor poll interval
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Supervisor.PollIntervalSeconds) * time.Second
}

// UploadEnabled reports whether transcripts go to S3
func (c *Config) UploadEnabled() bool {
	return c.Recorder.Enabled && c.S3.Bucket != ""
}

// DeleteAfterUpload defaults to true when not set
func (c *Config) DeleteAfterUpload() bool {
	return c.Uploader.DeleteAfterUpload == nil || *c.Uploader.DeleteAfterUpload
}

// Load loads configuration from a file. A missing file yields the defaults
// so a fresh install starts without one.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := []struct {
		env string
		dst *string
	}{
		{"TWITCH_OAUTH", &cfg.Twitch.OAuth},
		{"DISCORD_TOKEN", &cfg.Discord.Token},
		{"YOUTUBE_API_KEY", &cfg.YouTube.APIKey},
		{"AWS_ROLE_ARN", &cfg.S3.RoleARN},
		{"S3_ACCESS_KEY_ID", &cfg.S3.AccessKeyID},
		{"S3_SECRET_ACCESS_KEY", &cfg.S3.SecretAccessKey},
		{"CHATMUX_ADDR", &cfg.Server.Addr},
		{"LOG_LEVEL", &cfg.Log.Level},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ThemesDir == "" {
		cfg.Server.ThemesDir = "./themes"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Supervisor.ConnectTimeoutSeconds == 0 {
		cfg.Supervisor.ConnectTimeoutSeconds = 30
	}
	if cfg.Supervisor.PollIntervalSeconds == 0 {
		cfg.Supervisor.PollIntervalSeconds = 5
	}
	if cfg.Data.HistoryPath == "" {
		cfg.Data.HistoryPath = "./history.db"
	}
	if cfg.Data.SettingsPath == "" {
		cfg.Data.SettingsPath = "./settings.yaml"
	}
	if cfg.Recorder.BufferSize == 0 {
		cfg.Recorder.BufferSize = 100
	}
	if cfg.Recorder.RotateMinutes == 0 {
		cfg.Recorder.RotateMinutes = 60
	}
	if cfg.Recorder.RotateMegabytes == 0 {
		cfg.Recorder.RotateMegabytes = 100
	}
	if cfg.Recorder.OutputDir == "" {
		cfg.Recorder.OutputDir = "./data"
	}
	if cfg.Uploader.CheckIntervalSeconds == 0 {
		cfg.Uploader.CheckIntervalSeconds = 60
	}
	if cfg.Uploader.MaxRetries == 0 {
		cfg.Uploader.MaxRetries = 3
	}
}

// Validate checks field combinations that cannot work
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q must be json or console", c.Log.Format)
	}
	if c.Supervisor.ConnectTimeoutSeconds < 0 || c.Supervisor.PollIntervalSeconds < 0 {
		return fmt.Errorf("supervisor timings must not be negative")
	}
	if c.Twitch.OAuth != "" && c.Twitch.Username == "" {
		return fmt.Errorf("twitch.username is required when twitch.oauth is set")
	}
	for slug, id := range c.Kick.Chatrooms {
		if id <= 0 {
			return fmt.Errorf("kick.chatrooms.%s must be a positive chatroom ID", slug)
		}
	}

	if c.S3.Bucket == "" {
		return nil
	}
	if c.S3.Region == "" {
		return fmt.Errorf("s3.region is required")
	}
	// Either OIDC role or static credentials required
	if c.S3.RoleARN == "" && c.S3.AccessKeyID == "" {
		return fmt.Errorf("either s3.role_arn (OIDC) or s3.access_key_id (legacy) is required")
	}
	// If using static credentials, both key and secret are required
	if c.S3.AccessKeyID != "" && c.S3.SecretAccessKey == "" {
		return fmt.Errorf("s3.secret_access_key is required when using access_key_id")
	}
	return nil
}

// Package settings holds the viewer-editable preferences that survive restarts:
// history size, theme and the last channel requested per platform.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/john/chatmux/internal/message"
)

// Version is the current layout of the settings file
const Version = 1

// DefaultTheme is used when none is saved
const DefaultTheme = "Plain"

// Settings is the persisted document. JSON tags match what viewers send.
type Settings struct {
	Version   int                                  `yaml:"version" json:"version"`
	Chat      Chat                                 `yaml:"chat" json:"chat"`
	Platforms map[message.Platform]PlatformSettings `yaml:"platforms" json:"platforms"`
}

// Chat holds display preferences
type Chat struct {
	HistorySize int    `yaml:"historySize" json:"historySize"`
	Theme       string `yaml:"theme" json:"theme"`
}

// PlatformSettings holds per-platform preferences
type PlatformSettings struct {
	Channel    string `yaml:"channel" json:"channel"`
	TokenAdded bool   `yaml:"tokenAdded" json:"tokenAdded"`
}

// Defaults returns a fresh default document
func Defaults() Settings {
	s := Settings{
		Version:   Version,
		Chat:      Chat{HistorySize: 50, Theme: DefaultTheme},
		Platforms: make(map[message.Platform]PlatformSettings),
	}
	for _, p := range message.Platforms() {
		s.Platforms[p] = PlatformSettings{}
	}
	return s
}

// withDefaults fills zero fields of s from the defaults
func withDefaults(s Settings) Settings {
	d := Defaults()
	if s.Chat.HistorySize <= 0 {
		s.Chat.HistorySize = d.Chat.HistorySize
	}
	if strings.TrimSpace(s.Chat.Theme) == "" {
		s.Chat.Theme = d.Chat.Theme
	}
	platforms := d.Platforms
	for p, ps := range s.Platforms {
		if _, known := platforms[p]; !known {
			continue
		}
		platforms[p] = ps
	}
	s.Platforms = platforms
	s.Version = Version
	return s
}

func (s Settings) clone() Settings {
	out := s
	out.Platforms = make(map[message.Platform]PlatformSettings, len(s.Platforms))
	for p, ps := range s.Platforms {
		out.Platforms[p] = ps
	}
	return out
}

// Store is a settings document backed by a YAML file
type Store struct {
	path   string
	logger *zap.Logger

	mu  sync.Mutex
	cur Settings
}

// Load reads path, creating it with defaults when missing. A file from an
// older layout is merged with the defaults and rewritten.
func Load(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{path: path, logger: logger.With(zap.String("component", "settings"))}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.cur = Defaults()
		s.logger.Info("no settings file; writing defaults", zap.String("path", path))
		if err := s.write(s.cur); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var loaded Settings
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	version := loaded.Version
	s.cur = withDefaults(loaded)
	if version != Version {
		s.logger.Info("upgrading settings", zap.Int("from", version), zap.Int("to", Version))
		if err := s.write(s.cur); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Get returns a copy of the current settings
func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.clone()
}

// Save replaces the settings and writes them to disk. Missing fields keep
// their defaults.
func (s *Store) Save(next Settings) error {
	next = withDefaults(next.clone())
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(next); err != nil {
		return err
	}
	s.cur = next
	return nil
}

// Update applies fn to a copy of the settings and saves the result
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur.clone()
	fn(&next)
	next = withDefaults(next)
	if err := s.write(next); err != nil {
		return err
	}
	s.cur = next
	return nil
}

// Channel returns the stored channel for p
func (s *Store) Channel(p message.Platform) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.Platforms[p].Channel
}

// SetChannel stores channel for p
func (s *Store) SetChannel(p message.Platform, channel string) error {
	return s.Update(func(st *Settings) {
		ps := st.Platforms[p]
		ps.Channel = channel
		st.Platforms[p] = ps
	})
}

// SetTheme stores the selected theme
func (s *Store) SetTheme(theme string) error {
	return s.Update(func(st *Settings) { st.Chat.Theme = theme })
}

// write saves doc atomically; caller holds mu or owns s exclusively
func (s *Store) write(doc Settings) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

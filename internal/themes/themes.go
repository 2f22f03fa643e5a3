// Package themes discovers viewer themes on disk and reports when they change.
// A theme is a basename present as both a stylesheet and an HTML template.
package themes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Fallback is reported when the themes directory is missing or empty
const Fallback = "Plain"

var templateExt = regexp.MustCompile(`(?i)\.html?$`)

// List returns the theme names in dir, sorted
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{Fallback}, fmt.Errorf("list themes: %w", err)
	}

	styles := make(map[string]bool)
	templates := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		base := strings.TrimSuffix(name, ext)
		if base == "" {
			continue
		}
		switch {
		case strings.EqualFold(ext, ".css"):
			styles[base] = true
		case templateExt.MatchString(ext):
			templates[base] = true
		}
	}

	var out []string
	for name := range styles {
		if templates[name] {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return []string{Fallback}, nil
	}
	slices.Sort(out)
	return out, nil
}

// Watcher calls OnChange with a fresh list whenever the directory changes.
// Bursts of events are collapsed.
type Watcher struct {
	dir      string
	logger   *zap.Logger
	onChange func([]string)
	debounce time.Duration
}

// NewWatcher creates a watcher for dir
func NewWatcher(dir string, logger *zap.Logger, onChange func([]string)) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		dir:      dir,
		logger:   logger.With(zap.String("component", "themes")),
		onChange: onChange,
		debounce: 250 * time.Millisecond,
	}
}

// Run watches until ctx is done. A missing directory is created.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create themes dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create themes watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch themes dir: %w", err)
	}
	w.logger.Info("watching themes", zap.String("dir", w.dir))

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("themes changed", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("themes watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			names, err := List(w.dir)
			if err != nil {
				w.logger.Warn("failed to list themes", zap.Error(err))
			}
			if w.onChange != nil {
				w.onChange(names)
			}
		}
	}
}

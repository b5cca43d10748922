package cliconfig

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/opstream/pkg/log"
)

// DefaultDebounceDelay is how long the watcher waits after the last change
// before re-reading the file.
const DefaultDebounceDelay = 100 * time.Millisecond

// Watcher re-reads a config file whenever it changes on disk.
type Watcher struct {
	path     string
	delay    time.Duration
	onChange func(FileConfig)
	logger   log.Logger

	mu       sync.Mutex
	debounce *time.Timer
}

// NewWatcher creates a watcher for path. onChange receives every
// successfully parsed version of the file.
func NewWatcher(path string, delay time.Duration, onChange func(FileConfig), logger log.Logger) *Watcher {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	return &Watcher{
		path:     path,
		delay:    delay,
		onChange: onChange,
		logger:   log.OrNoop(logger).With(log.Component("configwatcher")),
	}
}

// Run watches until ctx is done. The parent directory is watched so that
// editors replacing the file by rename are noticed.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Debug("watching config file", log.String("path", w.path))

	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			w.stop()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.debounceReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", log.Err(err))
		}
	}
}

func (w *Watcher) debounceReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.delay, func() {
		if ctx.Err() != nil {
			return
		}
		w.reload()
	})
}

func (w *Watcher) reload() {
	fc, err := LoadFileConfig(w.path)
	if err != nil {
		// Half-written files are common; the next write triggers again.
		w.logger.Warn("reload config failed", log.String("path", w.path), log.Err(err))
		return
	}
	w.logger.Info("config file changed", log.String("path", w.path))
	w.onChange(fc)
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
}

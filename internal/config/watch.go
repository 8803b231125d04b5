package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events an editor save produces.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads the file at path whenever it changes and hands every valid
// configuration to onChange. Invalid files are logged and ignored. Watch
// blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create config watcher")
	}
	defer watcher.Close()

	// watch the directory so atomic rename-into-place saves are seen
	dir, file := filepath.Split(filepath.Clean(path))
	if dir == "" {
		dir = "."
	}
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "failed to watch %s", dir)
	}
	logger.Debug("config watcher started", "path", path)

	var (
		mu    sync.Mutex
		timer *time.Timer

		// held while onChange runs, stopped is set once Watch returns
		deliverMu sync.Mutex
		stopped   bool
	)
	reload := func() {
		if ctx.Err() != nil {
			return
		}
		cfg, err := LoadFromFile(path)
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			logger.Warn("config reload failed, keeping current config", "path", path, "error", err)
			return
		}

		deliverMu.Lock()
		defer deliverMu.Unlock()
		if stopped || ctx.Err() != nil {
			return
		}
		logger.Info("config reloaded", "path", path)
		onChange(cfg)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()

		// waits for a reload that already fired
		deliverMu.Lock()
		stopped = true
		deliverMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("config watcher closed")
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, reload)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("config watcher closed")
			}
			logger.Warn("config watcher error", "path", path, "error", err)
		}
	}
}

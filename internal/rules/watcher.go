package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads path whenever it changes until ctx is done. The directory is
// watched rather than the file so editors that replace the file are followed.
// A file that fails to load is logged and the previous rules stay active.
func (e *Engine) Watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	go e.watchLoop(ctx, watcher, abs)
	e.log.Infof("Watching %s for rule changes", abs)
	return nil
}

func (e *Engine) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer watcher.Close()

	timer := time.NewTimer(reloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			e.log.Errorf("Rules watcher error: %v", err)
		case <-timer.C:
			if err := e.LoadFile(path); err != nil {
				e.log.Errorf("Reloading rules from %s failed, keeping previous rules: %v", path, err)
				continue
			}
			e.log.Infof("Reloaded rules from %s", path)
		}
	}
}

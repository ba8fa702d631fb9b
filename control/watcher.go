// control/watcher.go
// Author: momentics <momentics@gmail.com>
//
// Configuration file watcher. The parent directory is watched rather than
// the file so that editors replacing the file by rename keep triggering.

package control

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/momentics/hioload-dp/internal/log"
)

// DefaultSettle is how long the watcher waits for writes to stop.
const DefaultSettle = 100 * time.Millisecond

// Watcher calls Load whenever the watched file changes.
type Watcher struct {
	path   string
	load   func(path string) error
	settle time.Duration
}

// NewWatcher watches path and calls load after each burst of changes.
func NewWatcher(path string, load func(path string) error) *Watcher {
	return &Watcher{path: filepath.Clean(path), load: load, settle: DefaultSettle}
}

// SetSettle overrides the quiet period before load runs.
func (w *Watcher) SetSettle(d time.Duration) { w.settle = d }

// Run blocks until ctx is done. A failing load is logged and the old
// configuration stays in effect.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}

	timer := time.NewTimer(w.settle)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.settle)
		case <-timer.C:
			if err := w.load(w.path); err != nil {
				log.Warnf("reload %s: %v", w.path, err)
				continue
			}
			log.Infof("configuration reloaded from %s", w.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("config watcher: %w", err)
		}
	}
}

// Copyright 2024 Ingest Harness Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package watch re-runs a scenario whenever its input document or expected
// fixture tree changes. Re-runs are sequential; there is exactly one writer
// to the output directory at any time.
package watch

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces editor save bursts into one re-run.
const DefaultDebounce = 500 * time.Millisecond

// Watcher triggers a callback when any of the watched paths change.
type Watcher struct {
	paths    []string
	debounce time.Duration
	accept   func(name string) bool
	logger   *zap.Logger
}

// New creates a watcher over the given directories.
func New(paths []string, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		paths:    append([]string(nil), paths...),
		debounce: DefaultDebounce,
		logger:   logger,
	}
}

// SetDebounce overrides the debounce window, mainly for tests.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// SetFilter restricts which event paths trigger the callback. fsnotify can
// only watch whole directories, so a caller watching one file's parent uses
// this to drop events for sibling files.
func (w *Watcher) SetFilter(accept func(name string) bool) {
	w.accept = accept
}

// Run blocks until ctx is canceled, invoking onChange after each debounced
// batch of filesystem events. onChange runs on the watch goroutine, so
// re-runs never overlap.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	for _, path := range w.paths {
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		w.logger.Info("Watching for changes", zap.String("path", path))
	}

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if w.accept != nil && !w.accept(event.Name) {
				continue
			}
			w.logger.Debug("Filesystem event", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", zap.Error(err))

		case <-timerCh:
			timer = nil
			timerCh = nil
			w.rearm(fsw)
			onChange()
			w.rearm(fsw)
		}
	}
}

// rearm re-adds watches the kernel dropped because a watched directory was
// removed. Fixture updates rewrite the golden tree with a remove-and-recreate,
// which would otherwise leave the watch dead with no error. Adding a path that
// is already watched is a no-op; paths that do not exist yet are retried after
// the next callback.
func (w *Watcher) rearm(fsw *fsnotify.Watcher) {
	for _, path := range w.paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := fsw.Add(path); err != nil {
			w.logger.Warn("Failed to re-add watch", zap.String("path", path), zap.Error(err))
		}
	}
}

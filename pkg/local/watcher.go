// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-objsync.
//
// go-objsync is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeremyhahn/go-objsync/pkg/adapters"
)

// DefaultWatchDebounce collapses bursts of filesystem events, such as the
// write and rename of one upload, into one notification.
const DefaultWatchDebounce = 100 * time.Millisecond

// WatcherError represents an error from the filesystem watcher.
type WatcherError struct {
	Op   string
	Path string
	Err  error
}

func (e *WatcherError) Error() string {
	return fmt.Sprintf("watcher %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WatcherError) Unwrap() error {
	return e.Err
}

// Watch calls onChange after files of the store change, until ctx is done.
// Subdirectories created later are watched too.
func (l *Local) Watch(ctx context.Context, store string, onChange func()) error {
	dir, err := l.storeDir(store)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return &WatcherError{Op: "create", Path: dir, Err: err}
	}
	defer func() { _ = w.Close() }()

	dw := &dirWatcher{
		watcher:  w,
		logger:   l.logger,
		watching: make(map[string]bool),
	}
	if err := dw.addTree(ctx, dir); err != nil {
		return err
	}
	l.logger.Info(ctx, "Started watching store",
		adapters.Field{Key: "store", Value: store},
		adapters.Field{Key: "path", Value: dir})

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	notify := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(DefaultWatchDebounce, func() {
			if ctx.Err() == nil {
				onChange()
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if dw.handle(ctx, event) {
				notify()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.logger.Error(ctx, "Filesystem watcher error",
				adapters.Field{Key: "error", Value: err.Error()})
		case <-ctx.Done():
			l.logger.Debug(ctx, "Watcher context cancelled",
				adapters.Field{Key: "store", Value: store})
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}
	}
}

type dirWatcher struct {
	watcher  *fsnotify.Watcher
	logger   adapters.Logger
	watching map[string]bool
}

// addTree watches root and every directory below it.
func (d *dirWatcher) addTree(ctx context.Context, root string) error {
	return filepath.WalkDir(root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			d.logger.Warn(ctx, "Error walking path",
				adapters.Field{Key: "path", Value: p},
				adapters.Field{Key: "error", Value: err.Error()})
			return nil // Continue walking
		}
		if !e.IsDir() || d.watching[p] {
			return nil
		}
		if err := d.watcher.Add(p); err != nil {
			if p == root {
				return &WatcherError{Op: "watch", Path: p, Err: err}
			}
			d.logger.Warn(ctx, "Failed to watch subdirectory",
				adapters.Field{Key: "path", Value: p},
				adapters.Field{Key: "error", Value: err.Error()})
			return nil
		}
		d.watching[p] = true
		return nil
	})
}

// handle reports whether event changes the store's content.
func (d *dirWatcher) handle(ctx context.Context, event fsnotify.Event) bool {
	if shouldIgnore(event.Name) {
		return false
	}
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// Handles os.MkdirAll creating several levels at once
			_ = d.addTree(ctx, event.Name) // #nosec G104 -- Best-effort subdirectory watch
		}
		return true
	case event.Op&fsnotify.Write == fsnotify.Write,
		event.Op&fsnotify.Remove == fsnotify.Remove,
		event.Op&fsnotify.Rename == fsnotify.Rename:
		return true
	default:
		// Ignore chmod events
		return false
	}
}

// shouldIgnore skips hidden and in-progress files.
func shouldIgnore(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, tmpSuffix) || strings.HasSuffix(base, "~")
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for a burst of events to
// settle before re-sending files.
const DefaultDebounce = 100 * time.Millisecond

// Watcher re-sends files to the sink when they are written or created.
//
// # Description
//
// Every directory under the root, except the skipped ones, is watched.
// Events are collected until DefaultDebounce passes without a new one; each
// changed file is then sent once. Directories created later are added to
// the watch list as they appear. Removals are ignored: the analysis
// service has no way to forget a file.
//
// # Thread Safety
//
// Run must be called at most once. Sent and Stop are safe from any
// goroutine.
type Watcher struct {
	loader   *Loader
	watcher  *fsnotify.Watcher
	debounce time.Duration

	changes  chan string
	done     chan struct{}
	stopOnce sync.Once

	mu   sync.Mutex
	sent int
}

// NewWatcher creates a watcher that sends through loader. debounce <= 0
// takes DefaultDebounce.
func NewWatcher(loader *Loader, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &Watcher{
		loader:   loader,
		watcher:  fw,
		debounce: debounce,
		changes:  make(chan string, 1000),
		done:     make(chan struct{}),
	}, nil
}

// Run watches until ctx is cancelled or Stop is called. It returns nil on
// either; a failure to register the root is returned immediately.
func (w *Watcher) Run(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	defer w.Stop()

	if err := w.addRecursive(w.loader.root); err != nil {
		return fmt.Errorf("watching %s: %w", w.loader.root, err)
	}
	slog.Info("Watching corpus for changes", slog.String("root", w.loader.root))

	go w.processEvents(ctx)
	w.debounceLoop(ctx)
	return nil
}

// Stop ends watching. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
}

// Sent returns how many files have been re-sent.
func (w *Watcher) Sent() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sent
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && slices.Contains(SkipDirs, d.Name()) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !slices.Contains(SkipDirs, info.Name()) {
						if err := w.addRecursive(event.Name); err != nil {
							slog.Warn("Failed to watch new directory",
								slog.String("path", event.Name),
								slog.String("error", err.Error()),
							)
						}
					}
					continue
				}
			}

			if !Eligible(w.loader.rel(event.Name)) {
				continue
			}
			select {
			case w.changes <- event.Name:
			default:
				slog.Warn("Corpus change buffer full, dropping event", slog.String("path", event.Name))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Corpus watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	pending := make(map[string]struct{})
	var order []string
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	flush := func() {
		for _, path := range order {
			if err := w.loader.send(ctx, path); err != nil {
				if !errors.Is(err, errUnreadable) {
					slog.Warn("Failed to re-send changed file",
						slog.String("path", path),
						slog.String("error", err.Error()),
					)
				}
				continue
			}
			w.mu.Lock()
			w.sent++
			w.mu.Unlock()
			slog.Debug("Re-sent changed file", slog.String("path", path))
		}
		clear(pending)
		order = order[:0]
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-w.done:
			timer.Stop()
			return
		case path := <-w.changes:
			if _, seen := pending[path]; !seen {
				pending[path] = struct{}{}
				order = append(order, path)
			}
			timer.Reset(w.debounce)
		case <-timer.C:
			flush()
		}
	}
}

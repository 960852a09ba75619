// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch triggers a callback when input files change on disk.
//
// The watcher subscribes to the parent directories of the watched files, so
// files replaced by rename (as most editors and copy tools do) keep being
// observed. Bursts of events are collapsed into one trigger per debounce
// window.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a trigger fires.
const DefaultDebounce = 2 * time.Second

// ErrNoFiles indicates New was called without files to watch.
var ErrNoFiles = errors.New("no files to watch")

// Trigger is invoked once per debounced burst with the changed paths, sorted.
type Trigger func(ctx context.Context, changed []string) error

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher observes a fixed set of files.
type Watcher struct {
	files    map[string]struct{}
	dirs     []string
	watcher  *fsnotify.Watcher
	trigger  Trigger
	debounce time.Duration
	logger   *slog.Logger

	changes  chan string
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	watching bool
}

// New creates a Watcher for files. Nothing is observed until Start.
func New(files []string, trigger Trigger, opts Options) (*Watcher, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	set := make(map[string]struct{}, len(files))
	var dirs []string
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", f, err)
		}
		set[abs] = struct{}{}
		if dir := filepath.Dir(abs); !slices.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		files:    set,
		dirs:     dirs,
		watcher:  fw,
		trigger:  trigger,
		debounce: opts.Debounce,
		logger:   opts.Logger.With(slog.String("component", "watch")),
		changes:  make(chan string, 256),
		done:     make(chan struct{}),
	}, nil
}

// Start subscribes to the file directories and begins processing events.
// Calling Start on a running Watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching {
		return nil
	}

	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.watching = true

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	w.logger.Info("watching input files", slog.Any("dirs", w.dirs), slog.Duration("debounce", w.debounce))
	return nil
}

// Run starts the watcher and blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

// Stop ends event processing. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
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
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			path := filepath.Clean(event.Name)
			if _, ok := w.files[path]; !ok {
				continue
			}
			select {
			case w.changes <- path:
			default:
				// Buffer full means a trigger is already pending.
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	pending := map[string]struct{}{}
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case path := <-w.changes:
			pending[path] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			slices.Sort(changed)
			clear(pending)
			timerC = nil

			w.logger.Info("input files changed", slog.Any("files", changed))
			if err := w.trigger(ctx, changed); err != nil {
				w.logger.Warn("watch trigger failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/cairnlabs/cairn/services/snapshot/filter"
)

// Watcher tracks filesystem changes under the workspace root so the
// automatic snapshot policy can skip captures when nothing changed.
//
// The watcher is advisory. fsnotify can drop events under load, so a
// clean state is only trusted while the watcher reports Healthy; once
// degraded, the AutoManager falls back to always capturing.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Watcher struct {
	root    string
	filter  *filter.FileFilter
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	dirty   map[string]struct{}
	started bool
	healthy bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher builds a watcher rooted at root. Excluded subtrees are
// never watched.
func NewWatcher(root string, f *filter.FileFilter, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		root:    root,
		filter:  f,
		logger:  logger.With("component", "workspace_watcher"),
		watcher: fw,
		dirty:   make(map[string]struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start registers the root and its non-excluded subdirectories, then
// begins consuming events. Start may be called once.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel := w.rel(path)
		if rel != "." && w.filter.IsSubtreeExcluded(rel) {
			return filepath.SkipDir
		}
		if addErr := w.watcher.Add(path); addErr != nil {
			w.logger.Warn("Watch registration failed", "path", path, "error", addErr)
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.healthy = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				w.degrade("event channel closed")
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.degrade("error channel closed")
				return
			}
			w.degrade(err.Error())
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	rel := w.rel(ev.Name)
	if rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	if w.filter.IsExcluded(rel) {
		return
	}

	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			if !w.filter.IsSubtreeExcluded(rel) {
				if err := w.watcher.Add(ev.Name); err != nil {
					w.logger.Warn("Watch registration failed", "path", ev.Name, "error", err)
				}
			}
			return
		}
	}

	w.mu.Lock()
	w.dirty[rel] = struct{}{}
	w.mu.Unlock()
}

// degrade marks the watcher unhealthy. Once degraded, Healthy stays
// false and callers fall back to always capturing.
func (w *Watcher) degrade(reason string) {
	w.mu.Lock()
	already := !w.healthy
	w.healthy = false
	w.mu.Unlock()
	if !already {
		w.logger.Warn("Workspace watcher degraded", "reason", reason)
	}
}

// Healthy reports whether the watcher is still delivering events.
func (w *Watcher) Healthy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.healthy
}

// Dirty reports whether any non-excluded path changed since the last
// MarkClean.
func (w *Watcher) Dirty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirty) > 0
}

// DirtyPaths returns the changed paths since the last MarkClean.
func (w *Watcher) DirtyPaths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.dirty))
	for p := range w.dirty {
		paths = append(paths, p)
	}
	return paths
}

// MarkClean resets the dirty set, typically right after a capture.
func (w *Watcher) MarkClean() {
	w.mu.Lock()
	w.dirty = make(map[string]struct{})
	w.mu.Unlock()
}

// Close stops the event loop and releases the inotify resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	err := w.watcher.Close()
	if started {
		close(w.done)
		w.wg.Wait()
	}
	return err
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return filter.NormalizePath(rel)
}

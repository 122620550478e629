// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cairnlabs/cairn/services/snapshot/backup"
	"github.com/cairnlabs/cairn/services/snapshot/filter"
	"github.com/cairnlabs/cairn/services/snapshot/store"
)

// Service is the composition root for the snapshot subsystem. It owns
// the filter, the store, the capture engine, the Manager, and the
// AutoManager, all wired from one ConfigProvider.
type Service struct {
	root    string
	manager *Manager
	auto    *AutoManager
	watcher *Watcher
	store   *store.MemoryStore
	logger  *slog.Logger
}

// NewService wires the subsystem for the workspace at root. The root
// must be an existing directory.
func NewService(root string, provider ConfigProvider, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}

	filterCfg := provider.FileFiltering()
	shared, err := filter.NewExclusionSet(filterCfg.CustomExclusions, filterCfg.CaseSensitive)
	if err != nil {
		return nil, fmt.Errorf("custom exclusions: %w", err)
	}
	f, err := filter.New(filterCfg, shared)
	if err != nil {
		return nil, fmt.Errorf("file filter: %w", err)
	}

	behavior := provider.Behavior()

	st := store.New(provider.Storage(),
		store.WithLogger(logger),
		store.WithEvictionCallback(func(evicted store.Summary) {
			snapshotsEvicted.Inc()
		}),
	)

	engine := backup.NewEngine(abs, f, provider.Backup(), logger)
	manager := NewManager(engine, st, f, behavior, logger)

	var watcher *Watcher
	if behavior.WatchWorkspace {
		watcher, err = NewWatcher(abs, f, logger)
		if err != nil {
			// The watcher is an optimization; run without it.
			logger.Warn("Workspace watcher unavailable", "error", err)
			watcher = nil
		} else if err := watcher.Start(); err != nil {
			logger.Warn("Workspace watcher failed to start", "error", err)
			_ = watcher.Close()
			watcher = nil
		}
	}

	auto := NewAutoManager(manager, behavior, watcher, logger)

	return &Service{
		root:    abs,
		manager: manager,
		auto:    auto,
		watcher: watcher,
		store:   st,
		logger:  logger.With("component", "snapshot_service"),
	}, nil
}

// Root returns the absolute workspace root.
func (s *Service) Root() string { return s.root }

// Manager returns the user-facing snapshot operations.
func (s *Service) Manager() *Manager { return s.manager }

// Auto returns the automatic snapshot policy hooks.
func (s *Service) Auto() *AutoManager { return s.auto }

// Initialize takes the baseline snapshot per the behavior config.
func (s *Service) Initialize(ctx context.Context) error {
	return s.auto.Initialize(ctx)
}

// Ready reports whether the service can serve requests.
func (s *Service) Ready() bool {
	info, err := os.Stat(s.root)
	return err == nil && info.IsDir()
}

// Close releases the watcher. The in-memory store needs no teardown.
func (s *Service) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

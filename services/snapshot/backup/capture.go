// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cairnlabs/cairn/services/snapshot/filter"
)

// Config configures the backup engine's restore-time backup behavior.
type Config struct {
	// BackupDir is where pre-restore backups are written, relative to
	// the workspace root unless absolute.
	// Default: ".cairn/backups"
	BackupDir string `yaml:"backup_dir"`

	// MaxBackups is the number of backups retained per file; older
	// ones are pruned after each new backup. Zero means keep all.
	MaxBackups int `yaml:"max_backups" validate:"min=0"`
}

// DefaultConfig returns the backup engine defaults.
func DefaultConfig() Config {
	return Config{
		BackupDir:  ".cairn/backups",
		MaxBackups: 5,
	}
}

// Engine captures, diffs, and restores snapshots of one workspace
// root. It holds no mutable state of its own; concurrency control
// (per-snapshot restore locks) belongs to the manager above it.
type Engine struct {
	root   string
	filter *filter.FileFilter
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates an engine rooted at root. A nil logger falls back
// to slog.Default().
func NewEngine(root string, f *filter.FileFilter, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = DefaultConfig().BackupDir
	}
	return &Engine{root: root, filter: f, cfg: cfg, logger: logger}
}

// Root returns the workspace root the engine operates on.
func (e *Engine) Root() string {
	return e.root
}

// Capture enumerates the non-excluded file tree under the engine's
// root and records it into a new Snapshot.
//
// A single unreadable file is recorded in CaptureStats.Errors and
// skipped; it does not abort the capture. Only a root that cannot be
// read at all fails with a *CaptureError. Enumeration order within a
// directory is unspecified; callers must not depend on it.
func (e *Engine) Capture(ctx context.Context, description, trigger string) (*Snapshot, *CaptureStats, error) {
	start := time.Now()

	if _, err := os.ReadDir(e.root); err != nil {
		return nil, nil, &CaptureError{Root: e.root, Err: fmt.Errorf("%w: %v", ErrRootUnreadable, err)}
	}

	snap := &Snapshot{
		ID:          uuid.New().String(),
		Description: description,
		Timestamp:   time.Now().UTC(),
		TriggerType: trigger,
		Files:       make(map[string]*FileRecord),
	}
	stats := &CaptureStats{}

	walkErr := filepath.WalkDir(e.root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if path == e.root {
				return err
			}
			rel := e.relPath(path)
			stats.Errors = append(stats.Errors, FileError{Path: rel, Message: err.Error()})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel := e.relPath(path)
		if rel == "." || rel == "" {
			return nil
		}

		if d.IsDir() {
			if e.filter.IsSubtreeExcluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		e.captureFile(path, rel, d, snap, stats)
		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return nil, nil, &CaptureError{Root: e.root, Err: ctx.Err()}
		}
		return nil, nil, &CaptureError{Root: e.root, Err: walkErr}
	}

	snap.FileCount = len(snap.Files)
	snap.TotalSize = snap.ContentBytes()
	stats.FileCount = snap.FileCount
	stats.TotalSize = snap.TotalSize
	stats.CaptureTime = time.Since(start)

	e.logger.Debug("capture complete",
		"snapshot_id", snap.ID,
		"trigger", trigger,
		"files", stats.FileCount,
		"bytes", stats.TotalSize,
		"skipped", stats.SkippedFiles,
		"errors", len(stats.Errors),
		"elapsed", stats.CaptureTime)

	return snap, stats, nil
}

// captureFile evaluates one directory entry and, if eligible, adds
// its record to the snapshot. Filtering skips are counted, read
// failures are recorded as errors; neither aborts the capture.
func (e *Engine) captureFile(path, rel string, d fs.DirEntry, snap *Snapshot, stats *CaptureStats) {
	if e.filter.IsExcluded(rel) {
		return
	}

	info, err := d.Info()
	if err != nil {
		stats.Errors = append(stats.Errors, FileError{Path: rel, Message: err.Error()})
		return
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		if !e.filter.FollowSymlinks() {
			stats.SkippedFiles++
			return
		}
		// Resolve the target; a dangling or directory symlink is
		// never captured as a reference.
		resolved, err := os.Stat(path)
		if err != nil || resolved.IsDir() {
			stats.SkippedFiles++
			return
		}
		info = resolved
	} else if !info.Mode().IsRegular() {
		// Sockets, devices, pipes
		stats.SkippedFiles++
		return
	}

	if e.filter.ExceedsSizeLimit(info.Size()) {
		stats.SkippedFiles++
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		stats.Errors = append(stats.Errors, FileError{Path: rel, Message: err.Error()})
		return
	}

	prefix := content
	if len(prefix) > filter.BinarySniffLen {
		prefix = prefix[:filter.BinarySniffLen]
	}
	skip, err := e.filter.BinaryAction(rel, prefix)
	if err != nil {
		stats.Errors = append(stats.Errors, FileError{Path: rel, Message: err.Error()})
		return
	}
	if skip {
		stats.SkippedFiles++
		return
	}

	encoding := EncodingUTF8
	if filter.IsBinary(prefix) {
		encoding = EncodingBinary
	}

	sum := sha256.Sum256(content)
	snap.Files[rel] = &FileRecord{
		Path:         rel,
		Content:      content,
		Size:         int64(len(content)),
		Encoding:     encoding,
		Mode:         info.Mode().Perm(),
		ModifiedTime: info.ModTime(),
		Checksum:     hex.EncodeToString(sum[:]),
	}
}

// relPath converts an absolute walk path to the snapshot's normalized
// relative form.
func (e *Engine) relPath(path string) string {
	rel, err := filepath.Rel(e.root, path)
	if err != nil {
		return filter.NormalizePath(path)
	}
	return filter.NormalizePath(rel)
}

// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cairnlabs/cairn/pkg/validation"
)

// ApplyOptions configures one restore call.
type ApplyOptions struct {
	// CreateBackup copies the current content of every file about to
	// be overwritten to the backup directory first.
	CreateBackup bool

	// OverwriteExisting allows replacing files that exist on disk
	// with different content. When false such files are skipped and
	// counted, not failed.
	OverwriteExisting bool

	// PreservePermissions reapplies each record's captured mode bits
	// after writing.
	PreservePermissions bool

	// RollbackOnFailure stops at the first per-file failure and
	// reverts every file already written in this call. Without it,
	// failures are collected and processing continues.
	RollbackOnFailure bool
}

// DefaultApplyOptions returns the restore defaults: backups on,
// overwrite on, permissions preserved, no rollback.
func DefaultApplyOptions() ApplyOptions {
	return ApplyOptions{
		CreateBackup:        true,
		OverwriteExisting:   true,
		PreservePermissions: true,
	}
}

// writeUndo records how to revert one written file during rollback.
// For overwritten files the pre-write content comes from the on-disk
// backup when one was taken, otherwise from prior, retained in memory
// for the duration of the call.
type writeUndo struct {
	rel        string
	dest       string
	existed    bool
	backupPath string
	prior      []byte
	mode       os.FileMode
}

// Apply restores the snapshot's files onto the live tree.
//
// For each file the snapshot would create or modify: an optional
// backup of the current content is written first, then the captured
// content replaces the file whole (parent directories are created as
// needed). Per-file failures are collected into the result and
// processing continues, unless RollbackOnFailure is set, in which
// case the call stops and reverts everything it wrote.
//
// The context is the externally supplied abort signal: it is polled
// between files, and on cancellation the call stops cleanly with a
// partial result reflecting exactly the files already written.
//
// The returned error is non-nil only for the fatal case: rollback
// itself failed (*RollbackFailedError). Every other outcome is
// reported through RestoreResult.State.
func (e *Engine) Apply(ctx context.Context, snap *Snapshot, opts ApplyOptions) (*RestoreResult, error) {
	result := &RestoreResult{State: StatePending}

	preview, err := e.ComputeDiff(context.Background(), snap)
	if err != nil {
		result.State = StatePartiallyFailed
		result.Errors = append(result.Errors, FileError{Path: ".", Message: err.Error()})
		return result, nil
	}

	targets := make([]string, 0, len(preview.ToCreate)+len(preview.ToModify))
	for _, rec := range preview.ToCreate {
		targets = append(targets, rec.Path)
	}
	for _, plan := range preview.ToModify {
		targets = append(targets, plan.Path)
	}
	sort.Strings(targets)

	result.State = StateWriting
	var undos []writeUndo

	for _, rel := range targets {
		if err := ctx.Err(); err != nil {
			// Abort signal: stop cleanly, report exactly what was
			// already written.
			result.Errors = append(result.Errors, FileError{
				Path:    rel,
				Message: fmt.Sprintf("%v: not written", ErrRestoreAborted),
			})
			result.State = StatePartiallyFailed
			return result, nil
		}

		undo, fileErr := e.restoreFile(rel, snap.Files[rel], opts, result)
		if fileErr != nil {
			result.Errors = append(result.Errors, *fileErr)
			if opts.RollbackOnFailure {
				return e.rollback(result, undos)
			}
			continue
		}
		if undo != nil {
			undos = append(undos, *undo)
			result.RestoredFiles++
		}
	}

	if len(result.Errors) > 0 {
		result.State = StatePartiallyFailed
	} else {
		result.State = StateCompleted
	}
	return result, nil
}

// restoreFile writes one snapshot record to disk. A nil undo with nil
// error means the file was skipped by policy.
func (e *Engine) restoreFile(rel string, rec *FileRecord, opts ApplyOptions, result *RestoreResult) (*writeUndo, *FileError) {
	if err := validation.ValidateRelativePath(rel); err != nil {
		return nil, &FileError{Path: rel, Message: err.Error()}
	}
	dest := filepath.Join(e.root, filepath.FromSlash(rel))

	info, statErr := os.Lstat(dest)
	exists := statErr == nil

	if exists && !opts.OverwriteExisting {
		// The diff already established the content differs.
		result.SkippedFiles++
		return nil, nil
	}

	undo := writeUndo{rel: rel, dest: dest, existed: exists}
	if exists {
		undo.mode = info.Mode().Perm()
	}

	switch {
	case opts.CreateBackup && exists:
		backupPath, err := e.backupFile(dest, rel, info.Mode().Perm())
		if err != nil {
			return nil, &FileError{Path: rel, Message: fmt.Sprintf("backup: %v", err)}
		}
		undo.backupPath = backupPath
		result.Backups = append(result.Backups, BackupRef{Path: rel, BackupPath: backupPath})
	case opts.RollbackOnFailure && exists:
		// No backup requested, but rollback must still be able to put
		// the overwritten content back.
		prior, err := os.ReadFile(dest)
		if err != nil {
			return nil, &FileError{Path: rel, Message: fmt.Sprintf("reading current content: %v", err)}
		}
		undo.prior = prior
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, &FileError{Path: rel, Message: fmt.Sprintf("mkdir: %v", err)}
	}

	mode := os.FileMode(0644)
	if opts.PreservePermissions && rec.Mode != 0 {
		mode = rec.Mode
	}
	if err := os.WriteFile(dest, rec.Content, mode); err != nil {
		return nil, &FileError{Path: rel, Message: err.Error()}
	}
	if opts.PreservePermissions && rec.Mode != 0 {
		// WriteFile's mode only applies on create; reassert on
		// overwrite.
		if err := os.Chmod(dest, rec.Mode); err != nil {
			return nil, &FileError{Path: rel, Message: fmt.Sprintf("chmod: %v", err)}
		}
	}

	return &undo, nil
}

// rollback reverts, in reverse order, every file this call wrote.
// Files that existed before are restored to their pre-write content,
// from the on-disk backup or the retained bytes; files created by
// this call are removed. An overwritten file with no recorded
// content is never deleted, it stays as written and is reported.
func (e *Engine) rollback(result *RestoreResult, undos []writeUndo) (*RestoreResult, error) {
	writeErrors := append([]FileError(nil), result.Errors...)
	var rollbackErrors []FileError

	for i := len(undos) - 1; i >= 0; i-- {
		undo := undos[i]
		if !undo.existed {
			if err := os.Remove(undo.dest); err != nil && !os.IsNotExist(err) {
				rollbackErrors = append(rollbackErrors, FileError{Path: undo.rel, Message: err.Error()})
			}
			continue
		}

		content := undo.prior
		if undo.backupPath != "" {
			read, err := os.ReadFile(undo.backupPath)
			if err != nil {
				rollbackErrors = append(rollbackErrors, FileError{Path: undo.rel, Message: fmt.Sprintf("reading backup: %v", err)})
				continue
			}
			content = read
		} else if content == nil {
			rollbackErrors = append(rollbackErrors, FileError{Path: undo.rel, Message: "no pre-write content recorded, file left as written"})
			continue
		}
		mode := undo.mode
		if mode == 0 {
			mode = 0644
		}
		if err := os.WriteFile(undo.dest, content, mode); err != nil {
			rollbackErrors = append(rollbackErrors, FileError{Path: undo.rel, Message: fmt.Sprintf("restoring backup: %v", err)})
			continue
		}
		if err := os.Chmod(undo.dest, mode); err != nil {
			rollbackErrors = append(rollbackErrors, FileError{Path: undo.rel, Message: fmt.Sprintf("chmod: %v", err)})
		}
	}

	if len(rollbackErrors) > 0 {
		result.State = StateRollbackFailed
		result.Errors = append(result.Errors, rollbackErrors...)
		e.logger.Error("rollback failed, manual recovery required",
			"write_errors", len(writeErrors),
			"rollback_errors", len(rollbackErrors))
		return result, &RollbackFailedError{WriteErrors: writeErrors, RollbackErrors: rollbackErrors}
	}

	result.State = StateRolledBack
	result.RestoredFiles = 0
	e.logger.Warn("restore rolled back",
		"reverted_files", len(undos),
		"write_errors", len(writeErrors))
	return result, nil
}

// backupFile copies a file's current bytes to the backup directory,
// preserving permission bits, and prunes old backups past the
// retention limit. The backup name encodes the relative path so an
// operator can find it.
func (e *Engine) backupFile(dest, rel string, mode os.FileMode) (string, error) {
	backupDir := e.cfg.BackupDir
	if !filepath.IsAbs(backupDir) {
		backupDir = filepath.Join(e.root, backupDir)
	}
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return "", err
	}

	content, err := os.ReadFile(dest)
	if err != nil {
		return "", err
	}

	flat := strings.ReplaceAll(rel, "/", "__")
	backupPath := filepath.Join(backupDir, fmt.Sprintf("%s.%d.bak", flat, time.Now().UnixNano()))
	if mode == 0 {
		mode = 0644
	}
	if err := os.WriteFile(backupPath, content, mode); err != nil {
		return "", err
	}

	e.pruneBackups(backupDir, flat)
	return backupPath, nil
}

// pruneBackups enforces the per-file retention limit. Best effort;
// pruning failures never fail a restore.
func (e *Engine) pruneBackups(backupDir, flat string) {
	if e.cfg.MaxBackups <= 0 {
		return
	}

	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return
	}

	var matches []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, flat+".") && strings.HasSuffix(name, ".bak") {
			matches = append(matches, name)
		}
	}
	if len(matches) <= e.cfg.MaxBackups {
		return
	}

	// Names embed a nanosecond timestamp of equal width in practice;
	// lexicographic order is oldest-first.
	sort.Strings(matches)
	for _, name := range matches[:len(matches)-e.cfg.MaxBackups] {
		if err := os.Remove(filepath.Join(backupDir, name)); err != nil {
			e.logger.Debug("backup prune failed", "backup", name, "error", err)
		}
	}
}

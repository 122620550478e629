// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package backup captures a filtered file tree into immutable
// snapshots, computes read-only diffs against the live tree, and
// applies restores with backup-before-overwrite and rollback.
package backup

import (
	"io/fs"
	"time"
)

// Trigger values for Snapshot.TriggerType. Automatic snapshots use
// the triggering tool's name instead.
const (
	// TriggerManual marks a user-requested snapshot.
	TriggerManual = "manual"

	// TriggerInitial marks the baseline snapshot taken before any
	// tool runs in a workspace.
	TriggerInitial = "initial"
)

// Encoding values for FileRecord.Encoding.
const (
	EncodingUTF8   = "utf-8"
	EncodingBinary = "binary"
)

// FileRecord is one captured file within a snapshot.
type FileRecord struct {
	// Path is relative to the workspace root, normalized to forward
	// slashes.
	Path string `json:"path"`

	// Content holds the captured bytes. Omitted from JSON: service
	// surfaces expose metadata only, never raw content.
	Content []byte `json:"-"`

	// Size is the captured content length in bytes.
	Size int64 `json:"size"`

	// Encoding is EncodingUTF8 or EncodingBinary.
	Encoding string `json:"encoding"`

	// Mode holds the permission bits recorded at capture time.
	Mode fs.FileMode `json:"mode"`

	// ModifiedTime is the file's mtime at capture time.
	ModifiedTime time.Time `json:"modified_time"`

	// Checksum is the hex SHA-256 of Content.
	Checksum string `json:"checksum,omitempty"`
}

// Snapshot is an immutable point-in-time capture of a filtered file
// tree plus metadata. After Capture returns, neither the snapshot nor
// its records are mutated.
type Snapshot struct {
	// ID is unique for the lifetime of the store.
	ID string `json:"id"`

	// Description is the human-readable reason for the snapshot.
	Description string `json:"description"`

	// Timestamp is the capture creation time.
	Timestamp time.Time `json:"timestamp"`

	// TriggerType is TriggerManual, TriggerInitial, or a tool name.
	TriggerType string `json:"trigger_type"`

	// FileCount is len(Files).
	FileCount int `json:"file_count"`

	// TotalSize is the sum of record sizes in bytes.
	TotalSize int64 `json:"total_size"`

	// Files maps relative path to its captured record.
	Files map[string]*FileRecord `json:"files"`
}

// ContentBytes returns the total captured content length. The store
// adds its fixed per-record overhead on top of this for memory
// accounting.
func (s *Snapshot) ContentBytes() int64 {
	var total int64
	for _, rec := range s.Files {
		total += int64(len(rec.Content))
	}
	return total
}

// FileError records a single-file capture or restore failure. These
// accumulate into statistics and results rather than aborting the
// whole operation.
type FileError struct {
	Path    string `json:"path"`
	Message string `json:"error"`
}

// CaptureStats reports the outcome of one capture.
type CaptureStats struct {
	// FileCount is the number of files captured.
	FileCount int `json:"file_count"`

	// TotalSize is the captured byte total.
	TotalSize int64 `json:"total_size"`

	// CaptureTime is the elapsed wall time of the capture.
	CaptureTime time.Duration `json:"capture_time"`

	// SkippedFiles counts files left out by filtering policy (size
	// cap, binary policy, symlink policy). Not errors.
	SkippedFiles int `json:"skipped_files"`

	// Errors holds per-file read failures. A non-empty list does not
	// fail the capture.
	Errors []FileError `json:"errors,omitempty"`
}

// RiskLevel classifies the blast radius of a restore.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ModifyPlan describes one file a restore would overwrite.
type ModifyPlan struct {
	Path        string `json:"path"`
	CurrentSize int64  `json:"current_size"`
	NewSize     int64  `json:"new_size"`
}

// Impact summarizes how much a restore would touch.
type Impact struct {
	// TotalSize is the combined byte size of files to create or
	// modify.
	TotalSize int64 `json:"total_size"`

	// RiskLevel is derived from the affected file count and byte
	// size.
	RiskLevel RiskLevel `json:"risk_level"`
}

// RestorePreview is the read-only diff between a snapshot and the
// live tree. Computing it mutates neither the filesystem nor the
// store.
type RestorePreview struct {
	// ToCreate lists snapshot files absent on disk (metadata only).
	ToCreate []FileRecord `json:"to_create"`

	// ToModify lists files present on disk with differing content.
	ToModify []ModifyPlan `json:"to_modify"`

	// Unchanged lists paths whose live content is identical.
	Unchanged []string `json:"unchanged"`

	// Impact summarizes the restore's blast radius.
	Impact Impact `json:"impact"`
}

// RestoreState is the terminal (or in-flight) state of an apply call.
//
// State machine: pending -> writing -> {completed | partially_failed
// | rolled_back | rollback_failed}.
type RestoreState string

const (
	StatePending         RestoreState = "pending"
	StateWriting         RestoreState = "writing"
	StateCompleted       RestoreState = "completed"
	StatePartiallyFailed RestoreState = "partially_failed"
	StateRolledBack      RestoreState = "rolled_back"
	StateRollbackFailed  RestoreState = "rollback_failed"
)

// BackupRef records one backup written during a restore.
type BackupRef struct {
	// Path is the restored file, relative to the workspace root.
	Path string `json:"path"`

	// BackupPath is the operator-visible location of the pre-restore
	// content.
	BackupPath string `json:"backup_path"`
}

// RestoreResult reports the outcome of one apply call. When a restore
// stops early (per-file failure with rollback, or an abort signal) the
// result reflects exactly the files already written.
type RestoreResult struct {
	// RestoredFiles counts files written successfully.
	RestoredFiles int `json:"restored_files"`

	// SkippedFiles counts files left untouched because they exist
	// with different content and overwriting was disabled.
	SkippedFiles int `json:"skipped_files"`

	// Errors holds per-file write and backup failures.
	Errors []FileError `json:"errors,omitempty"`

	// Backups lists backups written during this call.
	Backups []BackupRef `json:"backups,omitempty"`

	// State is the final restore state.
	State RestoreState `json:"state"`
}

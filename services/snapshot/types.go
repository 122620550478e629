// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"time"

	"github.com/cairnlabs/cairn/services/snapshot/backup"
	"github.com/cairnlabs/cairn/services/snapshot/filter"
	"github.com/cairnlabs/cairn/services/snapshot/store"
)

// CreateResult reports a completed capture.
type CreateResult struct {
	// ID is the new snapshot's identifier.
	ID string `json:"id"`

	// Description is the stored human-readable description.
	Description string `json:"description"`

	// Timestamp is the capture time.
	Timestamp time.Time `json:"timestamp"`

	// TriggerType records what initiated the capture.
	TriggerType string `json:"trigger_type"`

	// Stats is the capture outcome, including per-file read errors.
	Stats backup.CaptureStats `json:"stats"`
}

// FileEntry is the metadata view of one captured file, without content.
type FileEntry struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	Mode         uint32    `json:"mode"`
	ModifiedTime time.Time `json:"modified_time"`
	Checksum     string    `json:"checksum"`
	Encoding     string    `json:"encoding"`
}

// SnapshotDetails is the full metadata view of one snapshot.
type SnapshotDetails struct {
	store.Summary

	// Files lists the captured files sorted by path.
	Files []FileEntry `json:"files"`
}

// DeleteResult identifies a removed snapshot.
type DeleteResult struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// SystemStats aggregates the health of the whole snapshot subsystem.
type SystemStats struct {
	// Storage reports store occupancy.
	Storage store.Stats `json:"storage"`

	// Filtering reports the active exclusion configuration.
	Filtering filter.Stats `json:"filtering"`

	// ActiveOperations counts captures and restores in flight.
	ActiveOperations int `json:"active_operations"`
}

// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"errors"
	"fmt"
)

var (
	// ErrSnapshotNotFound is returned when the requested snapshot ID does
	// not exist in the store.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrRestoreBusy is returned when a restore is requested for a
	// snapshot that already has a restore in flight.
	ErrRestoreBusy = errors.New("restore already in progress for this snapshot")

	// ErrInvalidRequest is returned for malformed inputs such as an
	// empty snapshot ID.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAutoSnapshotDisabled is returned by AutoManager.Initialize when
	// automatic snapshots are configured off.
	ErrAutoSnapshotDisabled = errors.New("automatic snapshots are disabled")
)

// NotFoundError wraps ErrSnapshotNotFound with the ID that was requested.
type NotFoundError struct {
	SnapshotID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("snapshot %q not found", e.SnapshotID)
}

func (e *NotFoundError) Unwrap() error { return ErrSnapshotNotFound }

// BusyError wraps ErrRestoreBusy with the contested snapshot ID.
type BusyError struct {
	SnapshotID string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("restore already in progress for snapshot %q", e.SnapshotID)
}

func (e *BusyError) Unwrap() error { return ErrRestoreBusy }

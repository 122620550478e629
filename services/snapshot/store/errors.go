// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"errors"
	"fmt"
)

// ErrSnapshotTooLarge indicates a snapshot whose own size alone
// exceeds the store's memory budget. Fatal for that insert; nothing
// is evicted.
var ErrSnapshotTooLarge = errors.New("snapshot exceeds store memory budget")

// CapacityError wraps ErrSnapshotTooLarge with the offending sizes.
type CapacityError struct {
	SnapshotID string
	Size       int64
	Budget     int64
}

// Error returns a human-readable error message.
func (e *CapacityError) Error() string {
	return fmt.Sprintf("snapshot %s is %d bytes, store budget is %d bytes: %v",
		e.SnapshotID, e.Size, e.Budget, ErrSnapshotTooLarge)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CapacityError) Unwrap() error {
	return ErrSnapshotTooLarge
}

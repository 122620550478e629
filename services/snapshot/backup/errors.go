// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backup

import (
	"errors"
	"fmt"
)

// Sentinel errors for capture and restore.
var (
	// ErrRootUnreadable indicates the workspace root could not be
	// enumerated at all. Per-file read failures are NOT this error;
	// they degrade to skipped-and-counted.
	ErrRootUnreadable = errors.New("workspace root unreadable")

	// ErrRestoreAborted indicates the externally supplied abort
	// signal fired between files during a restore.
	ErrRestoreAborted = errors.New("restore aborted")
)

// CaptureError wraps a fatal capture failure with its root.
type CaptureError struct {
	Root string
	Err  error
}

// Error returns a human-readable error message.
func (e *CaptureError) Error() string {
	return fmt.Sprintf("capturing %s: %v", e.Root, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CaptureError) Unwrap() error {
	return e.Err
}

// RollbackFailedError is fatal: a forward write failed AND undoing
// the partial restore failed too. Both error sets are preserved for
// the operator; the engine never retries this automatically.
type RollbackFailedError struct {
	// WriteErrors are the forward failures that triggered rollback.
	WriteErrors []FileError

	// RollbackErrors are the failures while reverting backups.
	RollbackErrors []FileError
}

// Error returns a human-readable error message.
func (e *RollbackFailedError) Error() string {
	return fmt.Sprintf("rollback failed: %d write error(s), %d rollback error(s); manual recovery required",
		len(e.WriteErrors), len(e.RollbackErrors))
}

// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package filter

import (
	"errors"
	"fmt"
)

// Sentinel errors for filter construction.
var (
	// ErrInvalidPattern is returned when a glob pattern cannot be
	// compiled.
	ErrInvalidPattern = errors.New("invalid exclusion pattern")

	// ErrInvalidConfig is returned when a filter configuration value
	// is out of range.
	ErrInvalidConfig = errors.New("invalid filter configuration")
)

// BinaryFileError reports a detected-binary file under the
// BinaryError policy.
type BinaryFileError struct {
	Path string
}

// Error returns a human-readable error message.
func (e *BinaryFileError) Error() string {
	return fmt.Sprintf("file %s appears to be binary", e.Path)
}

// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up
// in filesystem operations. Using these validators prevents path
// traversal out of the workspace and malformed identifiers reaching
// the store.
package validation

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// idPattern matches snapshot identifiers as issued by the store:
// RFC 4122 UUID text form, lowercase hex.
var idPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ValidateSnapshotID checks that id has the shape of an issued
// snapshot identifier.
//
// Example:
//
//	if err := validation.ValidateSnapshotID(id); err != nil {
//	    return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
//	}
func ValidateSnapshotID(id string) error {
	if id == "" {
		return fmt.Errorf("snapshot id cannot be empty")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("malformed snapshot id: %q", id)
	}
	return nil
}

// ValidateRelativePath checks that p is a clean forward-slash path
// that stays inside the workspace root. Absolute paths, empty paths,
// and any form of `..` traversal are rejected.
func ValidateRelativePath(p string) error {
	if p == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") {
		return fmt.Errorf("path must be relative: %q", p)
	}
	if len(p) >= 2 && p[1] == ':' {
		return fmt.Errorf("path must be relative: %q", p)
	}
	cleaned := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("path escapes the workspace: %q", p)
	}
	if strings.ContainsRune(p, '\x00') {
		return fmt.Errorf("path contains a NUL byte")
	}
	return nil
}

// ValidateDescription bounds free-text snapshot descriptions so log
// lines and listings stay readable.
func ValidateDescription(desc string) error {
	const maxLen = 500
	if len(desc) > maxLen {
		return fmt.Errorf("description exceeds %d bytes", maxLen)
	}
	if strings.ContainsAny(desc, "\x00") {
		return fmt.Errorf("description contains a NUL byte")
	}
	return nil
}

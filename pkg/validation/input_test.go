// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"strings"
	"testing"
)

func TestValidateSnapshotID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid uuid", "6ba7b810-9dad-11d1-80b4-00c04fd430c8", false},
		{"empty", "", true},
		{"uppercase hex", "6BA7B810-9DAD-11D1-80B4-00C04FD430C8", true},
		{"missing group", "6ba7b810-9dad-11d1-80b4", true},
		{"traversal attempt", "../../../etc/passwd", true},
		{"trailing junk", "6ba7b810-9dad-11d1-80b4-00c04fd430c8x", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSnapshotID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateSnapshotID(%q) = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRelativePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"simple", "src/main.go", false},
		{"single file", "README.md", false},
		{"dot segment", "./src/main.go", false},
		{"empty", "", true},
		{"absolute", "/etc/passwd", true},
		{"windows drive", "C:\\temp\\x", true},
		{"parent traversal", "../secrets", true},
		{"embedded traversal", "src/../../escape", true},
		{"nul byte", "file\x00.txt", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRelativePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateRelativePath(%q) = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDescription(t *testing.T) {
	if err := ValidateDescription("before refactor"); err != nil {
		t.Fatalf("valid description rejected: %v", err)
	}
	if err := ValidateDescription(strings.Repeat("x", 501)); err == nil {
		t.Fatal("overlong description accepted")
	}
	if err := ValidateDescription("bad\x00desc"); err == nil {
		t.Fatal("NUL byte accepted")
	}
}

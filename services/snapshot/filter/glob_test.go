// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package filter

import (
	"errors"
	"testing"
)

func TestCompilePattern_Matching(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		want    bool
	}{
		// Subtree patterns
		{"subtree direct", "node_modules/**", "node_modules/react/index.js", true},
		{"subtree nested", "node_modules/**", "project/node_modules/x", true},
		{"subtree explicit any depth", "**/node_modules/**", "project/node_modules/x", true},
		{"segment boundary respected", "node_modules/**", "src/node_modules_data.txt", false},
		{"segment boundary any depth", "**/node_modules/**", "src/node_modules_data.txt", false},

		// Single-segment wildcard
		{"star in segment", "*.log", "debug.log", true},
		{"star at depth", "*.log", "logs/deep/debug.log", true},
		{"star no cross segment", "src/*.go", "src/sub/main.go", false},
		{"star same segment", "src/*.go", "src/main.go", true},
		{"star nested prefix", "src/*.go", "pkg/src/main.go", true},

		// Recursive wildcard inside a pattern
		{"interior doublestar", "src/**/testdata/**", "src/a/b/testdata/f.txt", true},
		{"interior doublestar zero segments", "src/**/testdata/**", "src/testdata/f.txt", true},
		{"interior doublestar miss", "src/**/testdata/**", "src/a/data/f.txt", false},

		// Question mark
		{"question mark", "file?.txt", "file1.txt", true},
		{"question mark not separator", "a?b", "a/b", false},

		// Literals
		{"literal basename", ".DS_Store", "sub/dir/.DS_Store", true},
		{"literal miss", ".DS_Store", "sub/DS_Store", false},
		{"dot not wildcard", "*.pyc", "mainXpyc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := compilePattern(tt.pattern, true)
			if err != nil {
				t.Fatalf("compilePattern(%q) error: %v", tt.pattern, err)
			}
			if got := p.match(tt.path); got != tt.want {
				t.Errorf("pattern %q path %q: got %v, want %v", tt.pattern, tt.path, got, tt.want)
			}
		})
	}
}

func TestCompilePattern_CaseSensitivity(t *testing.T) {
	t.Run("case sensitive", func(t *testing.T) {
		p, err := compilePattern("*.LOG", true)
		if err != nil {
			t.Fatal(err)
		}
		if p.match("debug.log") {
			t.Error("case-sensitive pattern should not match different case")
		}
	})

	t.Run("case insensitive", func(t *testing.T) {
		p, err := compilePattern("*.LOG", false)
		if err != nil {
			t.Fatal(err)
		}
		if !p.match("debug.log") {
			t.Error("case-insensitive pattern should match different case")
		}
	})
}

func TestCompilePattern_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"doublestar in segment", "foo**bar/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compilePattern(tt.pattern, true)
			if !errors.Is(err, ErrInvalidPattern) {
				t.Errorf("expected ErrInvalidPattern, got %v", err)
			}
		})
	}
}

// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package filter decides which workspace paths are eligible for
// snapshot capture.
//
// A FileFilter combines three independent checks:
//   - glob exclusion patterns (default set plus a shared custom set)
//   - a hard file size cap
//   - binary content detection with a configurable policy
//
// Patterns are compiled once at construction into reusable matchers.
// Custom exclusions live in an ExclusionSet shared by reference, so a
// pattern added through one filter is visible to every filter built
// over the same set, including filters constructed later.
//
// # Thread Safety
//
// FileFilter and ExclusionSet are safe for concurrent use.
package filter

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// BinaryHandling selects what happens to files detected as binary.
type BinaryHandling string

const (
	// BinaryExclude silently skips detected-binary files.
	BinaryExclude BinaryHandling = "exclude"

	// BinaryInclude embeds detected-binary files in the snapshot.
	BinaryInclude BinaryHandling = "include"

	// BinaryError fails the file with a BinaryFileError.
	BinaryError BinaryHandling = "error"
)

// DefaultExclusions is the built-in exclusion set applied when a
// Config does not override it. The `.cairn/**` entry keeps the
// engine's own backup and state directory out of every snapshot.
var DefaultExclusions = []string{
	".git/**",
	".hg/**",
	".svn/**",
	".cairn/**",
	"node_modules/**",
	"vendor/**",
	"dist/**",
	"build/**",
	"target/**",
	"__pycache__/**",
	"*.pyc",
	"*.log",
	"*.tmp",
	"*.swp",
	".DS_Store",
}

// Config configures a FileFilter.
//
// Validation happens once in New; a FileFilter never re-checks its
// configuration per call.
type Config struct {
	// DefaultExclusions is the ordered base pattern set.
	// Empty means the package-level DefaultExclusions.
	DefaultExclusions []string `yaml:"default_exclusions"`

	// CustomExclusions seeds the shared ExclusionSet when the caller
	// does not supply one.
	CustomExclusions []string `yaml:"custom_exclusions"`

	// MaxFileSize is the per-file size cap in bytes. Files over the
	// cap are always excluded, independent of patterns.
	// Default: 1 MiB.
	MaxFileSize int64 `yaml:"max_file_size" validate:"min=0"`

	// BinaryFileHandling decides what to do with detected-binary
	// files. Default: BinaryExclude.
	BinaryFileHandling BinaryHandling `yaml:"binary_file_handling" validate:"omitempty,oneof=exclude include error"`

	// FollowSymlinks controls symlink traversal during capture. When
	// false, symlinks are excluded entirely; they are never captured
	// as dangling references.
	FollowSymlinks bool `yaml:"follow_symlinks"`

	// CaseSensitive controls pattern matching case sensitivity.
	CaseSensitive bool `yaml:"case_sensitive"`
}

// DefaultConfig returns the filter defaults.
func DefaultConfig() Config {
	return Config{
		MaxFileSize:        1 << 20, // 1 MiB
		BinaryFileHandling: BinaryExclude,
		FollowSymlinks:     false,
		CaseSensitive:      true,
	}
}

// Stats summarizes a filter for system statistics reporting.
type Stats struct {
	TotalPatterns      int            `json:"total_patterns"`
	DefaultPatterns    int            `json:"default_patterns"`
	CustomPatterns     int            `json:"custom_patterns"`
	MaxFileSize        int64          `json:"max_file_size"`
	BinaryFileHandling BinaryHandling `json:"binary_file_handling"`
}

// =============================================================================
// Shared custom exclusions
// =============================================================================

// ExclusionSet holds custom exclusion patterns shared across filter
// instances. The composition root constructs one set and hands it to
// every FileFilter; adding a pattern through any filter is visible to
// all of them.
type ExclusionSet struct {
	mu            sync.RWMutex
	caseSensitive bool
	patterns      []compiledPattern
}

// NewExclusionSet creates a set pre-seeded with the given patterns.
func NewExclusionSet(patterns []string, caseSensitive bool) (*ExclusionSet, error) {
	s := &ExclusionSet{caseSensitive: caseSensitive}
	for _, p := range patterns {
		if err := s.Add(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add compiles and appends a pattern. Duplicates are ignored.
func (s *ExclusionSet) Add(pattern string) error {
	compiled, err := compilePattern(pattern, s.caseSensitive)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.patterns {
		if existing.source == compiled.source {
			return nil
		}
	}
	s.patterns = append(s.patterns, compiled)
	return nil
}

// Patterns returns the pattern sources in insertion order.
func (s *ExclusionSet) Patterns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.patterns))
	for i, p := range s.patterns {
		out[i] = p.source
	}
	return out
}

// snapshot returns the compiled patterns for lock-free matching.
func (s *ExclusionSet) snapshot() []compiledPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]compiledPattern, len(s.patterns))
	copy(out, s.patterns)
	return out
}

// =============================================================================
// FileFilter
// =============================================================================

// FileFilter decides path eligibility for capture.
type FileFilter struct {
	cfg      Config
	defaults []compiledPattern
	custom   *ExclusionSet
}

// New creates a FileFilter from cfg. When shared is nil a private
// ExclusionSet is created from cfg.CustomExclusions.
//
// All patterns are compiled here; a bad pattern fails construction
// with ErrInvalidPattern rather than surfacing later per call.
func New(cfg Config, shared *ExclusionSet) (*FileFilter, error) {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultConfig().MaxFileSize
	}
	if cfg.BinaryFileHandling == "" {
		cfg.BinaryFileHandling = BinaryExclude
	}
	switch cfg.BinaryFileHandling {
	case BinaryExclude, BinaryInclude, BinaryError:
	default:
		return nil, fmt.Errorf("%w: unknown binary handling %q", ErrInvalidConfig, cfg.BinaryFileHandling)
	}

	base := cfg.DefaultExclusions
	if base == nil {
		base = DefaultExclusions
	}
	defaults := make([]compiledPattern, 0, len(base))
	for _, p := range base {
		compiled, err := compilePattern(p, cfg.CaseSensitive)
		if err != nil {
			return nil, err
		}
		defaults = append(defaults, compiled)
	}

	if shared == nil {
		var err error
		shared, err = NewExclusionSet(cfg.CustomExclusions, cfg.CaseSensitive)
		if err != nil {
			return nil, err
		}
	}

	return &FileFilter{cfg: cfg, defaults: defaults, custom: shared}, nil
}

// IsExcluded reports whether the relative path matches any exclusion
// pattern. The path is normalized to forward slashes before matching;
// a match against any pattern, default or custom, excludes it.
//
// Size and binary checks are separate (ExceedsSizeLimit, BinaryAction)
// because they need file metadata or content, not just the path.
func (f *FileFilter) IsExcluded(path string) bool {
	normalized := NormalizePath(path)
	if normalized == "" {
		return false
	}

	for _, p := range f.defaults {
		if p.match(normalized) {
			return true
		}
	}
	for _, p := range f.custom.snapshot() {
		if p.match(normalized) {
			return true
		}
	}
	return false
}

// IsSubtreeExcluded reports whether dir is the root of a subtree
// excluded by a `/**` pattern, so capture can skip descending into it.
// Only an optimization: IsExcluded stays authoritative per file.
func (f *FileFilter) IsSubtreeExcluded(dir string) bool {
	normalized := NormalizePath(dir)
	if normalized == "" {
		return false
	}
	for _, p := range f.defaults {
		if p.matchDir(normalized) {
			return true
		}
	}
	for _, p := range f.custom.snapshot() {
		if p.matchDir(normalized) {
			return true
		}
	}
	return false
}

// IsBinary reports whether a content prefix looks binary per the
// NUL-byte / invalid-UTF-8 heuristic, independent of policy.
func IsBinary(prefix []byte) bool {
	return isLikelyBinary(prefix)
}

// ActivePatterns returns the ordered active pattern list: defaults
// first, then custom exclusions in insertion order.
func (f *FileFilter) ActivePatterns() []string {
	out := make([]string, 0, len(f.defaults))
	for _, p := range f.defaults {
		out = append(out, p.source)
	}
	return append(out, f.custom.Patterns()...)
}

// AddCustomExclusion adds a pattern to the shared ExclusionSet, making
// it visible to every filter built over the same set.
func (f *FileFilter) AddCustomExclusion(pattern string) error {
	return f.custom.Add(pattern)
}

// ExceedsSizeLimit reports whether a file of the given size is over
// the configured cap. Always independent of patterns.
func (f *FileFilter) ExceedsSizeLimit(size int64) bool {
	return size > f.cfg.MaxFileSize
}

// BinaryAction inspects a content prefix and applies the configured
// binary policy.
//
// Returns skip=true when the file must be left out of the snapshot.
// Under BinaryError a detected-binary file returns a *BinaryFileError.
func (f *FileFilter) BinaryAction(path string, prefix []byte) (skip bool, err error) {
	if !isLikelyBinary(prefix) {
		return false, nil
	}
	switch f.cfg.BinaryFileHandling {
	case BinaryInclude:
		return false, nil
	case BinaryError:
		return false, &BinaryFileError{Path: path}
	default:
		return true, nil
	}
}

// FollowSymlinks reports the configured symlink policy.
func (f *FileFilter) FollowSymlinks() bool {
	return f.cfg.FollowSymlinks
}

// MaxFileSize returns the configured per-file size cap in bytes.
func (f *FileFilter) MaxFileSize() int64 {
	return f.cfg.MaxFileSize
}

// Stats returns pattern and policy counts for stats reporting.
func (f *FileFilter) Stats() Stats {
	custom := f.custom.Patterns()
	return Stats{
		TotalPatterns:      len(f.defaults) + len(custom),
		DefaultPatterns:    len(f.defaults),
		CustomPatterns:     len(custom),
		MaxFileSize:        f.cfg.MaxFileSize,
		BinaryFileHandling: f.cfg.BinaryFileHandling,
	}
}

// NormalizePath converts a path to the forward-slash relative form
// patterns are matched against.
func NormalizePath(path string) string {
	normalized := filepath.ToSlash(strings.TrimSpace(path))
	normalized = strings.TrimPrefix(normalized, "./")
	return strings.Trim(normalized, "/")
}

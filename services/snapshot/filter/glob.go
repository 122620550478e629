// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// compiledPattern is a glob exclusion pattern compiled to a regular
// expression once at construction, so IsExcluded never re-parses
// pattern text on the hot path.
//
// Pattern syntax:
//   - `*` matches any sequence of non-separator characters
//   - `?` matches a single non-separator character
//   - `**` matches any sequence of characters including separators
//   - a trailing `/**` matches a whole subtree
//
// A pattern matches a path both as the full relative path and at any
// depth: `node_modules/**` and `**/node_modules/**` exclude the same
// nested occurrences. Matching is done on forward-slash paths.
type compiledPattern struct {
	source string
	re     *regexp.Regexp

	// dirRE is set for patterns ending in `/**`. It matches the
	// subtree root directory itself, letting capture prune whole
	// directories instead of testing every descendant.
	dirRE *regexp.Regexp
}

// compilePattern translates a glob pattern into a compiledPattern.
//
// Returns ErrInvalidPattern (wrapped) if the pattern is empty or
// produces an invalid expression.
func compilePattern(pattern string, caseSensitive bool) (compiledPattern, error) {
	trimmed := strings.TrimSpace(pattern)
	if trimmed == "" {
		return compiledPattern{}, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	// Patterns are written against forward-slash paths
	trimmed = strings.ReplaceAll(trimmed, "\\", "/")
	trimmed = strings.TrimPrefix(trimmed, "./")

	expr, err := globToRegexp(trimmed)
	if err != nil {
		return compiledPattern{}, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
	}
	if !caseSensitive {
		expr = "(?i)" + expr
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return compiledPattern{}, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
	}
	compiled := compiledPattern{source: pattern, re: re}

	if root, ok := strings.CutSuffix(trimmed, "/**"); ok && root != "" {
		dirExpr, err := globToRegexp(root)
		if err == nil {
			if !caseSensitive {
				dirExpr = "(?i)" + dirExpr
			}
			// Ignore compile failure; pruning is an optimization,
			// per-file matching stays authoritative.
			if dirRE, err := regexp.Compile(dirExpr); err == nil {
				compiled.dirRE = dirRE
			}
		}
	}
	return compiled, nil
}

// match reports whether the normalized relative path matches.
func (p compiledPattern) match(path string) bool {
	return p.re.MatchString(path)
}

// matchDir reports whether dir is the root of a fully excluded
// subtree.
func (p compiledPattern) matchDir(dir string) bool {
	return p.dirRE != nil && p.dirRE.MatchString(dir)
}

// globToRegexp converts one glob pattern to an anchored regexp source.
//
// The result carries an implicit `(.*/)?` prefix so a pattern without
// a leading `**/` still matches at any depth. Segment boundaries are
// respected: `node_modules/**` must not match `node_modules_data.txt`.
func globToRegexp(pattern string) (string, error) {
	var b strings.Builder
	b.WriteString("^")

	// Implicit any-depth prefix, unless the pattern already starts
	// with a recursive wildcard (which subsumes it).
	if !strings.HasPrefix(pattern, "**/") && pattern != "**" {
		b.WriteString(`(?:.*/)?`)
	}

	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		last := i == len(segments)-1
		switch seg {
		case "**":
			if last {
				// Trailing `/**` (or bare `**`): the rest of the tree
				if i == 0 {
					b.WriteString(`.*`)
				} else {
					b.WriteString(`.+`)
				}
				b.WriteString("$")
				return b.String(), nil
			}
			// Interior `**/` spans zero or more whole segments
			b.WriteString(`(?:[^/]+/)*`)
		default:
			if strings.Contains(seg, "**") {
				return "", fmt.Errorf("`**` must occupy a whole path segment")
			}
			b.WriteString(segmentToRegexp(seg))
			if !last {
				b.WriteString("/")
			}
		}
	}

	b.WriteString("$")
	return b.String(), nil
}

// segmentToRegexp converts a single glob segment (no `**`) to regexp.
func segmentToRegexp(seg string) string {
	var b strings.Builder
	for _, r := range seg {
		switch r {
		case '*':
			b.WriteString(`[^/]*`)
		case '?':
			b.WriteString(`[^/]`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

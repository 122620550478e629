// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package filter

import "unicode/utf8"

// BinarySniffLen is how many leading bytes of a file the capture
// engine should feed to BinaryAction.
const BinarySniffLen = 8192

// isLikelyBinary applies a NUL-byte / invalid-UTF-8 heuristic to a
// content prefix. A NUL anywhere is a strong binary signal; otherwise
// the prefix must mostly decode as valid UTF-8.
func isLikelyBinary(prefix []byte) bool {
	if len(prefix) == 0 {
		return false
	}

	for _, b := range prefix {
		if b == 0 {
			return true
		}
	}

	// The prefix may end mid-rune; trim up to utf8.UTFMax-1 trailing
	// bytes of an incomplete sequence before validating.
	trimmed := prefix
	for i := 0; i < utf8.UTFMax-1 && len(trimmed) > 0; i++ {
		if utf8.Valid(trimmed) {
			return false
		}
		if r, _ := utf8.DecodeLastRune(trimmed); r == utf8.RuneError {
			trimmed = trimmed[:len(trimmed)-1]
			continue
		}
		break
	}
	return !utf8.Valid(trimmed)
}

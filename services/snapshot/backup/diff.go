// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backup

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
)

// Risk thresholds for Impact.RiskLevel. Crossing either the count or
// the byte threshold promotes the level.
const (
	riskMediumFiles = 10
	riskMediumBytes = 1 << 20 // 1 MiB
	riskHighFiles   = 50
	riskHighBytes   = 10 << 20 // 10 MiB
)

// ComputeDiff classifies every file in the snapshot against the live
// tree: absent on disk (to create), present with differing content
// (to modify), or identical (unchanged).
//
// Strictly read-only: it mutates neither the filesystem nor the
// store, and calling it twice with no intervening filesystem change
// yields identical previews. Output slices are sorted by path.
func (e *Engine) ComputeDiff(ctx context.Context, snap *Snapshot) (*RestorePreview, error) {
	preview := &RestorePreview{
		ToCreate:  []FileRecord{},
		ToModify:  []ModifyPlan{},
		Unchanged: []string{},
	}

	paths := make([]string, 0, len(snap.Files))
	for p := range snap.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := snap.Files[rel]
		dest := filepath.Join(e.root, filepath.FromSlash(rel))

		info, err := os.Lstat(dest)
		if err != nil {
			// Absent (or unreadable) on disk
			meta := *rec
			meta.Content = nil
			preview.ToCreate = append(preview.ToCreate, meta)
			continue
		}

		if info.Size() != rec.Size {
			preview.ToModify = append(preview.ToModify, ModifyPlan{
				Path:        rel,
				CurrentSize: info.Size(),
				NewSize:     rec.Size,
			})
			continue
		}

		live, err := os.ReadFile(dest)
		if err != nil || !bytes.Equal(live, rec.Content) {
			preview.ToModify = append(preview.ToModify, ModifyPlan{
				Path:        rel,
				CurrentSize: info.Size(),
				NewSize:     rec.Size,
			})
			continue
		}

		preview.Unchanged = append(preview.Unchanged, rel)
	}

	preview.Impact = computeImpact(preview)
	return preview, nil
}

// computeImpact derives the combined size and risk level of the
// affected set (toCreate ∪ toModify).
func computeImpact(preview *RestorePreview) Impact {
	var total int64
	for _, rec := range preview.ToCreate {
		total += rec.Size
	}
	for _, plan := range preview.ToModify {
		total += plan.NewSize
	}

	count := len(preview.ToCreate) + len(preview.ToModify)
	level := RiskLow
	switch {
	case count > riskHighFiles || total > riskHighBytes:
		level = RiskHigh
	case count > riskMediumFiles || total > riskMediumBytes:
		level = RiskMedium
	}

	return Impact{TotalSize: total, RiskLevel: level}
}

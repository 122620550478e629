// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store holds captured snapshots in memory under count and
// memory-size bounds, evicting oldest-first when either bound is
// exceeded.
//
// The default backend is memory-only; the Store interface exists so a
// different backend can be swapped in by the composition root.
//
// # Thread Safety
//
// MemoryStore is safe for concurrent use. Every mutating operation
// runs inside one mutual-exclusion section, so two concurrent inserts
// cannot both pass the capacity check and jointly overshoot the
// memory bound.
package store

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cairnlabs/cairn/services/snapshot/backup"
)

// recordOverhead is the fixed per-record memory accounting constant,
// covering path strings and record metadata. Content bytes are
// counted exactly; everything else is this constant per file.
const recordOverhead = 256

// Config bounds a MemoryStore.
type Config struct {
	// MaxSnapshots is the maximum number of retained snapshots.
	// Default: 10.
	MaxSnapshots int `yaml:"max_snapshots" validate:"min=1"`

	// MaxMemoryMB is the total memory budget in MiB.
	// Default: 100.
	MaxMemoryMB int `yaml:"max_memory_mb" validate:"min=1"`
}

// DefaultConfig returns the storage defaults.
func DefaultConfig() Config {
	return Config{
		MaxSnapshots: 10,
		MaxMemoryMB:  100,
	}
}

// SortField selects the List ordering key.
type SortField string

const (
	SortByTimestamp SortField = "timestamp"
	SortBySize      SortField = "size"
	SortByFileCount SortField = "file_count"
)

// ListOptions controls List output.
type ListOptions struct {
	// Limit caps the number of summaries returned. Zero means all.
	Limit int

	// SortBy is the ordering key. Default: SortByTimestamp.
	SortBy SortField

	// Ascending flips the default newest/largest-first order.
	Ascending bool
}

// Summary is the lightweight listing form of a snapshot: metadata
// only, no file content.
type Summary struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	TriggerType string    `json:"trigger_type"`
	FileCount   int       `json:"file_count"`
	TotalSize   int64     `json:"total_size"`
}

// Stats reports store occupancy.
type Stats struct {
	TotalSnapshots     int       `json:"total_snapshots"`
	MaxSnapshots       int       `json:"max_snapshots"`
	MemoryUsageMB      float64   `json:"memory_usage_mb"`
	MaxMemoryMB        int       `json:"max_memory_mb"`
	UtilizationPercent float64   `json:"utilization_percent"`
	LastCleanup        time.Time `json:"last_cleanup,omitempty"`
}

// Store is the snapshot storage contract. MemoryStore is the default
// implementation; alternate backends may be substituted by the
// composition root.
type Store interface {
	Insert(snap *backup.Snapshot) (string, error)
	Get(id string) (*backup.Snapshot, bool)
	List(opts ListOptions) []Summary
	Remove(id string) bool
	Stats() Stats
}

// entry pairs a snapshot with its memory accounting, computed once at
// insert.
type entry struct {
	snap *backup.Snapshot
	size int64
}

// MemoryStore is the bounded in-memory Store.
type MemoryStore struct {
	mu          sync.RWMutex
	cfg         Config
	entries     map[string]*entry
	memoryUsage int64
	lastCleanup time.Time
	logger      *slog.Logger

	// onEvict, when set, is called for every snapshot removed by
	// eviction. Runs under the store lock; must not call back into
	// the store.
	onEvict func(Summary)
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithEvictionCallback registers a callback invoked for each evicted
// snapshot. The callback runs under the store lock and must not call
// back into the store.
func WithEvictionCallback(fn func(Summary)) Option {
	return func(s *MemoryStore) { s.onEvict = fn }
}

// WithLogger sets the store's logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *MemoryStore) { s.logger = logger }
}

// New creates a MemoryStore with the given bounds. Zero config fields
// fall back to DefaultConfig values.
func New(cfg Config, opts ...Option) *MemoryStore {
	defaults := DefaultConfig()
	if cfg.MaxSnapshots <= 0 {
		cfg.MaxSnapshots = defaults.MaxSnapshots
	}
	if cfg.MaxMemoryMB <= 0 {
		cfg.MaxMemoryMB = defaults.MaxMemoryMB
	}

	s := &MemoryStore{
		cfg:     cfg,
		entries: make(map[string]*entry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// snapshotSize is the store's memory accounting: exact content bytes
// plus the fixed per-record overhead constant.
func snapshotSize(snap *backup.Snapshot) int64 {
	return snap.ContentBytes() + int64(len(snap.Files))*recordOverhead
}

// Insert stores a snapshot and enforces both capacity bounds by
// evicting the oldest surviving snapshots until count and memory hold.
//
// Insert never fails because of other snapshots' size. It fails with
// ErrSnapshotTooLarge only when the new snapshot's own size alone
// exceeds the memory budget; in that case nothing is evicted.
func (s *MemoryStore) Insert(snap *backup.Snapshot) (string, error) {
	size := snapshotSize(snap)
	budget := s.memoryBudget()

	s.mu.Lock()
	defer s.mu.Unlock()

	if size > budget {
		return "", &CapacityError{
			SnapshotID: snap.ID,
			Size:       size,
			Budget:     budget,
		}
	}

	s.entries[snap.ID] = &entry{snap: snap, size: size}
	s.memoryUsage += size
	s.evictLocked()

	return snap.ID, nil
}

// evictLocked removes oldest-first until both bounds hold. Caller
// must hold the write lock.
func (s *MemoryStore) evictLocked() {
	for len(s.entries) > s.cfg.MaxSnapshots || s.memoryUsage > s.memoryBudget() {
		oldest := s.oldestLocked()
		if oldest == nil {
			return
		}
		s.removeLocked(oldest.snap.ID)
		s.lastCleanup = time.Now()

		s.logger.Debug("evicted snapshot",
			"snapshot_id", oldest.snap.ID,
			"trigger", oldest.snap.TriggerType,
			"bytes", oldest.size)
		if s.onEvict != nil {
			s.onEvict(summarize(oldest.snap))
		}
	}
}

// oldestLocked finds the smallest-timestamp entry. Ties break on ID
// so eviction stays deterministic.
func (s *MemoryStore) oldestLocked() *entry {
	var oldest *entry
	for _, e := range s.entries {
		if oldest == nil ||
			e.snap.Timestamp.Before(oldest.snap.Timestamp) ||
			(e.snap.Timestamp.Equal(oldest.snap.Timestamp) && e.snap.ID < oldest.snap.ID) {
			oldest = e
		}
	}
	return oldest
}

// removeLocked deletes an entry and releases its memory accounting.
func (s *MemoryStore) removeLocked(id string) {
	if e, ok := s.entries[id]; ok {
		s.memoryUsage -= e.size
		delete(s.entries, id)
	}
}

// memoryBudget returns the byte budget.
func (s *MemoryStore) memoryBudget() int64 {
	return int64(s.cfg.MaxMemoryMB) << 20
}

// Get returns the full snapshot for id.
func (s *MemoryStore) Get(id string) (*backup.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.snap, true
}

// List returns lightweight summaries ordered per opts. Default order
// is timestamp-descending (newest first).
func (s *MemoryStore) List(opts ListOptions) []Summary {
	s.mu.RLock()
	summaries := make([]Summary, 0, len(s.entries))
	for _, e := range s.entries {
		summaries = append(summaries, summarize(e.snap))
	}
	s.mu.RUnlock()

	less := func(a, b Summary) bool {
		switch opts.SortBy {
		case SortBySize:
			if a.TotalSize != b.TotalSize {
				return a.TotalSize < b.TotalSize
			}
		case SortByFileCount:
			if a.FileCount != b.FileCount {
				return a.FileCount < b.FileCount
			}
		default:
			if !a.Timestamp.Equal(b.Timestamp) {
				return a.Timestamp.Before(b.Timestamp)
			}
		}
		return a.ID < b.ID
	}
	sort.Slice(summaries, func(i, j int) bool {
		if opts.Ascending {
			return less(summaries[i], summaries[j])
		}
		return less(summaries[j], summaries[i])
	})

	if opts.Limit > 0 && len(summaries) > opts.Limit {
		summaries = summaries[:opts.Limit]
	}
	return summaries
}

// Remove deletes a snapshot, immediately releasing its memory budget.
// Irreversible. Returns false for an unknown id.
func (s *MemoryStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return false
	}
	s.removeLocked(id)
	return true
}

// Stats reports current occupancy.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	usageMB := float64(s.memoryUsage) / (1 << 20)
	return Stats{
		TotalSnapshots:     len(s.entries),
		MaxSnapshots:       s.cfg.MaxSnapshots,
		MemoryUsageMB:      usageMB,
		MaxMemoryMB:        s.cfg.MaxMemoryMB,
		UtilizationPercent: 100 * usageMB / float64(s.cfg.MaxMemoryMB),
		LastCleanup:        s.lastCleanup,
	}
}

// summarize strips a snapshot to its listing form.
func summarize(snap *backup.Snapshot) Summary {
	return Summary{
		ID:          snap.ID,
		Description: snap.Description,
		Timestamp:   snap.Timestamp,
		TriggerType: snap.TriggerType,
		FileCount:   snap.FileCount,
		TotalSize:   snap.TotalSize,
	}
}

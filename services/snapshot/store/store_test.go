// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cairnlabs/cairn/services/snapshot/backup"
)

// makeSnapshot builds a snapshot with n files of contentSize bytes
// each, stamped at ts.
func makeSnapshot(id string, ts time.Time, n int, contentSize int) *backup.Snapshot {
	snap := &backup.Snapshot{
		ID:          id,
		Description: "test " + id,
		Timestamp:   ts,
		TriggerType: backup.TriggerManual,
		Files:       make(map[string]*backup.FileRecord),
	}
	for i := 0; i < n; i++ {
		path := fmt.Sprintf("file%d.txt", i)
		content := bytes.Repeat([]byte{'x'}, contentSize)
		snap.Files[path] = &backup.FileRecord{
			Path:    path,
			Content: content,
			Size:    int64(contentSize),
		}
	}
	snap.FileCount = n
	snap.TotalSize = int64(n * contentSize)
	return snap
}

func TestMemoryStore_InsertGetRemove(t *testing.T) {
	s := New(Config{MaxSnapshots: 5, MaxMemoryMB: 10})
	base := time.Now()

	snap := makeSnapshot("snap-1", base, 3, 100)
	id, err := s.Insert(snap)
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if id != "snap-1" {
		t.Errorf("Insert returned %q, want snap-1", id)
	}

	got, ok := s.Get("snap-1")
	if !ok || got.ID != "snap-1" {
		t.Fatalf("Get(snap-1) = %v, %v", got, ok)
	}

	if !s.Remove("snap-1") {
		t.Error("Remove should return true for a known id")
	}
	if s.Remove("snap-1") {
		t.Error("Remove should return false for a deleted id")
	}
	if _, ok := s.Get("snap-1"); ok {
		t.Error("deleted snapshot must be gone")
	}

	stats := s.Stats()
	if stats.TotalSnapshots != 0 || stats.MemoryUsageMB != 0 {
		t.Errorf("memory must be released immediately on delete: %+v", stats)
	}
}

func TestMemoryStore_ListOrderingAndLimit(t *testing.T) {
	s := New(Config{MaxSnapshots: 10, MaxMemoryMB: 10})
	base := time.Now()

	for i := 0; i < 5; i++ {
		snap := makeSnapshot(fmt.Sprintf("snap-%d", i), base.Add(time.Duration(i)*time.Second), i+1, 10)
		if _, err := s.Insert(snap); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("default newest first", func(t *testing.T) {
		list := s.List(ListOptions{})
		if len(list) != 5 {
			t.Fatalf("len = %d, want 5", len(list))
		}
		for i := 1; i < len(list); i++ {
			if list[i].Timestamp.After(list[i-1].Timestamp) {
				t.Errorf("list not timestamp-descending at %d", i)
			}
		}
		if list[0].ID != "snap-4" {
			t.Errorf("newest first, got %s", list[0].ID)
		}
	})

	t.Run("limit", func(t *testing.T) {
		list := s.List(ListOptions{Limit: 2})
		if len(list) != 2 {
			t.Fatalf("len = %d, want 2", len(list))
		}
	})

	t.Run("sort by file count ascending", func(t *testing.T) {
		list := s.List(ListOptions{SortBy: SortByFileCount, Ascending: true})
		if list[0].FileCount != 1 || list[4].FileCount != 5 {
			t.Errorf("unexpected file count order: %+v", list)
		}
	})

	t.Run("summaries carry no content", func(t *testing.T) {
		list := s.List(ListOptions{Limit: 1})
		if list[0].TotalSize == 0 || list[0].Description == "" {
			t.Errorf("summary metadata incomplete: %+v", list[0])
		}
	})
}

func TestMemoryStore_CountEviction(t *testing.T) {
	// "baseline" scenario: capacity for two snapshots, three inserts,
	// the oldest is evicted.
	s := New(Config{MaxSnapshots: 2, MaxMemoryMB: 10})
	base := time.Now()

	var evicted []string
	s.onEvict = func(sum Summary) { evicted = append(evicted, sum.ID) }

	for i, id := range []string{"baseline", "second", "third"} {
		snap := makeSnapshot(id, base.Add(time.Duration(i)*time.Second), 3, 20)
		if _, err := s.Insert(snap); err != nil {
			t.Fatal(err)
		}
	}

	if _, ok := s.Get("baseline"); ok {
		t.Error("baseline should have been evicted")
	}
	list := s.List(ListOptions{})
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].ID != "third" || list[1].ID != "second" {
		t.Errorf("surviving snapshots = %s, %s; want third, second", list[0].ID, list[1].ID)
	}
	if len(evicted) != 1 || evicted[0] != "baseline" {
		t.Errorf("eviction callback saw %v, want [baseline]", evicted)
	}
}

func TestMemoryStore_MemoryEviction(t *testing.T) {
	// 1 MiB budget; each snapshot ~400 KiB. Two fit, the third insert
	// must evict the oldest.
	s := New(Config{MaxSnapshots: 100, MaxMemoryMB: 1})
	base := time.Now()

	for i, id := range []string{"old", "mid", "new"} {
		snap := makeSnapshot(id, base.Add(time.Duration(i)*time.Second), 1, 400<<10)
		if _, err := s.Insert(snap); err != nil {
			t.Fatal(err)
		}
	}

	if _, ok := s.Get("old"); ok {
		t.Error("oldest snapshot should have been evicted on memory pressure")
	}
	stats := s.Stats()
	if stats.TotalSnapshots != 2 {
		t.Errorf("TotalSnapshots = %d, want 2", stats.TotalSnapshots)
	}
	if stats.MemoryUsageMB > float64(stats.MaxMemoryMB) {
		t.Errorf("memory bound violated after insert: %+v", stats)
	}
	if stats.LastCleanup.IsZero() {
		t.Error("LastCleanup must be stamped after an eviction")
	}
}

func TestMemoryStore_OversizedInsertFailsWithoutEviction(t *testing.T) {
	s := New(Config{MaxSnapshots: 10, MaxMemoryMB: 1})
	base := time.Now()

	if _, err := s.Insert(makeSnapshot("resident", base, 1, 100<<10)); err != nil {
		t.Fatal(err)
	}

	huge := makeSnapshot("huge", base.Add(time.Second), 1, 2<<20)
	_, err := s.Insert(huge)
	if !errors.Is(err, ErrSnapshotTooLarge) {
		t.Fatalf("expected ErrSnapshotTooLarge, got %v", err)
	}
	var capErr *CapacityError
	if !errors.As(err, &capErr) || capErr.SnapshotID != "huge" {
		t.Errorf("expected CapacityError for huge, got %v", err)
	}

	// Nothing was evicted and the reject is not stored
	if _, ok := s.Get("resident"); !ok {
		t.Error("resident snapshot must survive a failed oversized insert")
	}
	if _, ok := s.Get("huge"); ok {
		t.Error("rejected snapshot must not be stored")
	}
}

func TestMemoryStore_MemoryAccounting(t *testing.T) {
	s := New(Config{MaxSnapshots: 10, MaxMemoryMB: 10})
	base := time.Now()

	const files = 4
	const contentSize = 1000
	if _, err := s.Insert(makeSnapshot("acct", base, files, contentSize)); err != nil {
		t.Fatal(err)
	}

	stats := s.Stats()
	gotBytes := stats.MemoryUsageMB * (1 << 20)
	wantBytes := float64(files*contentSize + files*recordOverhead)
	if gotBytes < wantBytes-1 || gotBytes > wantBytes+1 {
		t.Errorf("memory usage %.0f bytes, want %.0f (content + fixed overhead)", gotBytes, wantBytes)
	}
	if stats.UtilizationPercent <= 0 {
		t.Error("utilization must be positive")
	}
}

func TestMemoryStore_ListCountMatchesSurvivors(t *testing.T) {
	s := New(Config{MaxSnapshots: 3, MaxMemoryMB: 10})
	base := time.Now()

	for i := 0; i < 7; i++ {
		snap := makeSnapshot(fmt.Sprintf("s%d", i), base.Add(time.Duration(i)*time.Second), 2, 50)
		if _, err := s.Insert(snap); err != nil {
			t.Fatal(err)
		}
		list := s.List(ListOptions{})
		stats := s.Stats()
		if len(list) != stats.TotalSnapshots {
			t.Fatalf("list length %d != stats count %d", len(list), stats.TotalSnapshots)
		}
		if stats.TotalSnapshots > 3 {
			t.Fatalf("count bound violated: %d", stats.TotalSnapshots)
		}
	}
}

func TestMemoryStore_ConcurrentInsertsHoldBounds(t *testing.T) {
	s := New(Config{MaxSnapshots: 4, MaxMemoryMB: 1})
	base := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap := makeSnapshot(fmt.Sprintf("c%02d", i), base.Add(time.Duration(i)*time.Millisecond), 1, 200<<10)
			_, _ = s.Insert(snap)
		}(i)
	}
	wg.Wait()

	stats := s.Stats()
	if stats.TotalSnapshots > 4 {
		t.Errorf("count bound violated under concurrency: %d", stats.TotalSnapshots)
	}
	if stats.MemoryUsageMB > float64(stats.MaxMemoryMB) {
		t.Errorf("memory bound violated under concurrency: %+v", stats)
	}
}

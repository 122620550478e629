// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/cairnlabs/cairn/services/snapshot/backup"
	"github.com/cairnlabs/cairn/services/snapshot/store"
)

func boolPtr(b bool) *bool { return &b }

func snapshotCount(svc *Service) int {
	return len(svc.Manager().ListSnapshots(store.ListOptions{}))
}

func TestAutoInitializeBaseline(t *testing.T) {
	svc := newTestService(t, nil)
	writeWorkspaceFile(t, svc.Root(), "a.txt", "a")

	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	summaries := svc.Manager().ListSnapshots(store.ListOptions{})
	if len(summaries) != 1 {
		t.Fatalf("snapshots = %d, want 1 baseline", len(summaries))
	}
	if summaries[0].TriggerType != backup.TriggerInitial {
		t.Fatalf("TriggerType = %q, want %q", summaries[0].TriggerType, backup.TriggerInitial)
	}

	// Idempotent.
	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if got := snapshotCount(svc); got != 1 {
		t.Fatalf("snapshots after second Initialize = %d, want 1", got)
	}
}

func TestAutoInitializeSkipsWhenSnapshotsExist(t *testing.T) {
	svc := newTestService(t, nil)
	writeWorkspaceFile(t, svc.Root(), "a.txt", "a")

	if _, err := svc.Manager().CreateSnapshot(context.Background(), "pre-existing"); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := snapshotCount(svc); got != 1 {
		t.Fatalf("snapshots = %d, want 1 (no baseline added)", got)
	}
}

func TestAutoInitializeDisabled(t *testing.T) {
	svc := newTestService(t, func(cfg *Config) {
		cfg.Behavior.AutoSnapshot = false
	})
	writeWorkspaceFile(t, svc.Root(), "a.txt", "a")

	if err := svc.Initialize(context.Background()); !errors.Is(err, ErrAutoSnapshotDisabled) {
		t.Fatalf("Initialize = %v, want ErrAutoSnapshotDisabled", err)
	}
	if got := snapshotCount(svc); got != 0 {
		t.Fatalf("snapshots = %d, want 0", got)
	}
}

func TestAutoBeforeToolExecution(t *testing.T) {
	svc := newTestService(t, func(cfg *Config) {
		cfg.Behavior.RequireActualChanges = false
	})
	writeWorkspaceFile(t, svc.Root(), "a.txt", "a")

	pending, err := svc.Auto().BeforeToolExecution(
		context.Background(), "write_file", boolPtr(true), []string{"a.txt"})
	if err != nil {
		t.Fatalf("BeforeToolExecution: %v", err)
	}
	if pending == nil || pending.SnapshotID == "" {
		t.Fatal("expected a pending snapshot")
	}

	details, err := svc.Manager().GetSnapshotDetails(pending.SnapshotID)
	if err != nil {
		t.Fatalf("GetSnapshotDetails: %v", err)
	}
	if details.TriggerType != "write_file" {
		t.Fatalf("TriggerType = %q, want tool name", details.TriggerType)
	}
	if svc.Auto().SessionCount() != 1 {
		t.Fatalf("SessionCount = %d, want 1", svc.Auto().SessionCount())
	}
}

func TestAutoSkipsReadOnlyTools(t *testing.T) {
	svc := newTestService(t, nil)
	writeWorkspaceFile(t, svc.Root(), "a.txt", "a")

	pending, err := svc.Auto().BeforeToolExecution(
		context.Background(), "read_file", boolPtr(false), []string{"a.txt"})
	if err != nil {
		t.Fatalf("BeforeToolExecution: %v", err)
	}
	if pending != nil {
		t.Fatal("read-only tool must not snapshot")
	}
	if got := snapshotCount(svc); got != 0 {
		t.Fatalf("snapshots = %d, want 0", got)
	}
}

func TestAutoUndeclaredToolDefaultsToModifying(t *testing.T) {
	svc := newTestService(t, func(cfg *Config) {
		cfg.Behavior.RequireActualChanges = false
	})
	writeWorkspaceFile(t, svc.Root(), "a.txt", "a")

	pending, err := svc.Auto().BeforeToolExecution(
		context.Background(), "mystery_tool", nil, nil)
	if err != nil {
		t.Fatalf("BeforeToolExecution: %v", err)
	}
	if pending == nil {
		t.Fatal("undeclared tool must be treated as modifying")
	}
}

func TestAutoUndeclaredToolSkippedWhenPolicyFlipped(t *testing.T) {
	svc := newTestService(t, func(cfg *Config) {
		cfg.Behavior.TreatUndeclaredAsModifying = false
	})
	writeWorkspaceFile(t, svc.Root(), "a.txt", "a")

	pending, err := svc.Auto().BeforeToolExecution(
		context.Background(), "mystery_tool", nil, nil)
	if err != nil {
		t.Fatalf("BeforeToolExecution: %v", err)
	}
	if pending != nil {
		t.Fatal("flipped policy must skip undeclared tools")
	}
}

func TestAutoDisabledSkipsEverything(t *testing.T) {
	svc := newTestService(t, func(cfg *Config) {
		cfg.Behavior.AutoSnapshot = false
	})
	writeWorkspaceFile(t, svc.Root(), "a.txt", "a")

	pending, err := svc.Auto().BeforeToolExecution(
		context.Background(), "write_file", boolPtr(true), []string{"a.txt"})
	if err != nil {
		t.Fatalf("BeforeToolExecution: %v", err)
	}
	if pending != nil || snapshotCount(svc) != 0 {
		t.Fatal("disabled auto snapshots must not capture")
	}
}

func TestAutoSessionCap(t *testing.T) {
	svc := newTestService(t, func(cfg *Config) {
		cfg.Behavior.MaxSnapshotsPerSession = 2
		cfg.Behavior.RequireActualChanges = false
	})
	writeWorkspaceFile(t, svc.Root(), "a.txt", "a")

	taken := 0
	for i := 0; i < 5; i++ {
		pending, err := svc.Auto().BeforeToolExecution(
			context.Background(), "write_file", boolPtr(true), []string{"a.txt"})
		if err != nil {
			t.Fatalf("BeforeToolExecution: %v", err)
		}
		if pending != nil {
			taken++
		}
	}
	if taken != 2 {
		t.Fatalf("snapshots taken = %d, want 2 (session cap)", taken)
	}
}

func TestAutoCooldown(t *testing.T) {
	svc := newTestService(t, func(cfg *Config) {
		cfg.Behavior.CooldownPeriod = Duration(time.Hour)
		cfg.Behavior.RequireActualChanges = false
	})
	writeWorkspaceFile(t, svc.Root(), "a.txt", "a")

	taken := 0
	for i := 0; i < 5; i++ {
		pending, err := svc.Auto().BeforeToolExecution(
			context.Background(), "write_file", boolPtr(true), []string{"a.txt"})
		if err != nil {
			t.Fatalf("BeforeToolExecution: %v", err)
		}
		if pending != nil {
			taken++
		}
	}
	if taken != 1 {
		t.Fatalf("snapshots taken = %d, want 1 (cooldown)", taken)
	}
}

func TestAutoDiscardWhenNothingChanged(t *testing.T) {
	svc := newTestService(t, func(cfg *Config) {
		cfg.Behavior.RequireActualChanges = true
	})
	writeWorkspaceFile(t, svc.Root(), "a.txt", "original")

	pending, err := svc.Auto().BeforeToolExecution(
		context.Background(), "edit_file", boolPtr(true), []string{"a.txt"})
	if err != nil {
		t.Fatalf("BeforeToolExecution: %v", err)
	}
	if pending == nil {
		t.Fatal("expected a pending snapshot")
	}

	// Tool ran but changed nothing.
	if err := svc.Auto().AfterToolExecution(pending); err != nil {
		t.Fatalf("AfterToolExecution: %v", err)
	}
	if got := snapshotCount(svc); got != 0 {
		t.Fatalf("snapshots = %d, want 0 (no-op discarded)", got)
	}
	if svc.Auto().SessionCount() != 0 {
		t.Fatalf("SessionCount = %d, want 0 after discard", svc.Auto().SessionCount())
	}
}

func TestAutoKeepsWhenFilesChanged(t *testing.T) {
	svc := newTestService(t, func(cfg *Config) {
		cfg.Behavior.RequireActualChanges = true
	})
	writeWorkspaceFile(t, svc.Root(), "a.txt", "original")

	pending, err := svc.Auto().BeforeToolExecution(
		context.Background(), "edit_file", boolPtr(true), []string{"a.txt"})
	if err != nil {
		t.Fatalf("BeforeToolExecution: %v", err)
	}
	if pending == nil {
		t.Fatal("expected a pending snapshot")
	}

	// Size change guarantees the fingerprint differs even at coarse
	// mtime resolution.
	writeWorkspaceFile(t, svc.Root(), "a.txt", "original plus more")

	if err := svc.Auto().AfterToolExecution(pending); err != nil {
		t.Fatalf("AfterToolExecution: %v", err)
	}
	if got := snapshotCount(svc); got != 1 {
		t.Fatalf("snapshots = %d, want 1 (kept)", got)
	}
}

func TestAutoKeepsWhenFileCreated(t *testing.T) {
	svc := newTestService(t, func(cfg *Config) {
		cfg.Behavior.RequireActualChanges = true
	})
	writeWorkspaceFile(t, svc.Root(), "a.txt", "a")

	pending, err := svc.Auto().BeforeToolExecution(
		context.Background(), "write_file", boolPtr(true), []string{"new.txt"})
	if err != nil {
		t.Fatalf("BeforeToolExecution: %v", err)
	}
	if pending == nil {
		t.Fatal("expected a pending snapshot")
	}

	writeWorkspaceFile(t, svc.Root(), "new.txt", "created")

	if err := svc.Auto().AfterToolExecution(pending); err != nil {
		t.Fatalf("AfterToolExecution: %v", err)
	}
	if got := snapshotCount(svc); got != 1 {
		t.Fatalf("snapshots = %d, want 1 (creation is a change)", got)
	}
}

func TestAutoKeepsWithoutTargetPaths(t *testing.T) {
	// No target paths means fingerprinting cannot run; the snapshot
	// must be kept rather than guessed away.
	svc := newTestService(t, func(cfg *Config) {
		cfg.Behavior.RequireActualChanges = true
	})
	writeWorkspaceFile(t, svc.Root(), "a.txt", "a")

	pending, err := svc.Auto().BeforeToolExecution(
		context.Background(), "run_script", boolPtr(true), nil)
	if err != nil {
		t.Fatalf("BeforeToolExecution: %v", err)
	}
	if pending == nil {
		t.Fatal("expected a pending snapshot")
	}
	if err := svc.Auto().AfterToolExecution(pending); err != nil {
		t.Fatalf("AfterToolExecution: %v", err)
	}
	if got := snapshotCount(svc); got != 1 {
		t.Fatalf("snapshots = %d, want 1 (degrade to keep)", got)
	}
}

func TestAutoDiscardUsesWatcherDirtyPaths(t *testing.T) {
	// A tool without declared targets can still be fingerprinted for
	// no-op discard when a healthy watcher knows which paths changed.
	svc := newTestService(t, func(cfg *Config) {
		cfg.Behavior.RequireActualChanges = true
	})
	writeWorkspaceFile(t, svc.Root(), "a.txt", "a")

	w := &Watcher{
		root:    svc.Root(),
		logger:  slog.Default(),
		dirty:   map[string]struct{}{"a.txt": {}},
		healthy: true,
	}
	svc.Auto().watcher = w

	pending, err := svc.Auto().BeforeToolExecution(
		context.Background(), "run_script", boolPtr(true), nil)
	if err != nil {
		t.Fatalf("BeforeToolExecution: %v", err)
	}
	if pending == nil {
		t.Fatal("expected a pending snapshot")
	}
	// The capture marked the watcher clean; the pending snapshot must
	// have kept the pre-capture dirty set for its check.
	if w.Dirty() {
		t.Fatal("capture must mark the watcher clean")
	}
	if len(pending.paths) != 1 || pending.paths[0] != "a.txt" {
		t.Fatalf("pending paths = %v, want the watcher's dirty set", pending.paths)
	}

	if err := svc.Auto().AfterToolExecution(pending); err != nil {
		t.Fatalf("AfterToolExecution: %v", err)
	}
	if got := snapshotCount(svc); got != 0 {
		t.Fatalf("snapshots = %d, want 0 (no-op discarded via watcher paths)", got)
	}
}

func TestAutoChecksumFingerprints(t *testing.T) {
	// With checksum fingerprints, a same-size same-mtime rewrite with
	// different bytes still counts as a change.
	svc := newTestService(t, func(cfg *Config) {
		cfg.Behavior.RequireActualChanges = true
		cfg.Behavior.FingerprintChecksum = true
	})
	writeWorkspaceFile(t, svc.Root(), "a.txt", "aaaa")

	pending, err := svc.Auto().BeforeToolExecution(
		context.Background(), "edit_file", boolPtr(true), []string{"a.txt"})
	if err != nil {
		t.Fatalf("BeforeToolExecution: %v", err)
	}
	writeWorkspaceFile(t, svc.Root(), "a.txt", "bbbb")

	if err := svc.Auto().AfterToolExecution(pending); err != nil {
		t.Fatalf("AfterToolExecution: %v", err)
	}
	if got := snapshotCount(svc); got != 1 {
		t.Fatalf("snapshots = %d, want 1 (checksum detects change)", got)
	}
}

func TestDescribeTool(t *testing.T) {
	tests := []struct {
		name  string
		tool  string
		paths []string
		want  string
	}{
		{"no paths", "run_tests", nil, "Before run_tests"},
		{"one path", "write_file", []string{"main.go"}, "Before write_file: main.go"},
		{
			"truncated", "edit_file",
			[]string{"a.go", "b.go", "c.go", "d.go", "e.go"},
			"Before edit_file: a.go, b.go, c.go (+2 more)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeTool(tt.tool, tt.paths); got != tt.want {
				t.Fatalf("describeTool() = %q, want %q", got, tt.want)
			}
		})
	}
}

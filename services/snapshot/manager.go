// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package snapshot coordinates workspace captures, in-memory storage,
// and restores for the Cairn agent. The Manager is the single entry
// point for user-visible operations; AutoManager layers the automatic
// snapshot policy on top of it.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cairnlabs/cairn/pkg/validation"
	"github.com/cairnlabs/cairn/services/snapshot/backup"
	"github.com/cairnlabs/cairn/services/snapshot/filter"
	"github.com/cairnlabs/cairn/services/snapshot/store"
)

var tracer = otel.Tracer("cairn.snapshot")

// Manager ties the capture engine, the store, and the filter together.
//
// # Thread Safety
//
// All methods are safe for concurrent use. At most one restore runs
// per snapshot ID at a time; a second concurrent request for the same
// ID fails with ErrRestoreBusy rather than queueing.
type Manager struct {
	engine *backup.Engine
	store  store.Store
	filter *filter.FileFilter
	logger *slog.Logger

	autoCleanup      bool
	cleanupThreshold float64

	mu        sync.Mutex
	restoring map[string]struct{}
	activeOps int
}

// NewManager builds a Manager over an already-wired engine, store and
// filter. behavior supplies the cleanup policy; the automatic snapshot
// fields are ignored here.
func NewManager(engine *backup.Engine, st store.Store, f *filter.FileFilter, behavior BehaviorConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		engine:           engine,
		store:            st,
		filter:           f,
		logger:           logger.With("component", "snapshot_manager"),
		autoCleanup:      behavior.AutoCleanup,
		cleanupThreshold: behavior.CleanupThreshold,
		restoring:        make(map[string]struct{}),
	}
}

// beginOp tracks an in-flight capture or restore for SystemStats.
func (m *Manager) beginOp() {
	m.mu.Lock()
	m.activeOps++
	m.mu.Unlock()
}

func (m *Manager) endOp() {
	m.mu.Lock()
	m.activeOps--
	m.mu.Unlock()
}

// CreateSnapshot captures the workspace and stores the result as a
// manual snapshot.
func (m *Manager) CreateSnapshot(ctx context.Context, description string) (*CreateResult, error) {
	if err := validation.ValidateDescription(description); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if description == "" {
		description = "Manual snapshot"
	}
	return m.createWithTrigger(ctx, description, backup.TriggerManual)
}

// createWithTrigger is the shared capture path. AutoManager calls it
// with the tool name as the trigger.
func (m *Manager) createWithTrigger(ctx context.Context, description, trigger string) (*CreateResult, error) {
	ctx, span := tracer.Start(ctx, "snapshot.create",
		trace.WithAttributes(
			attribute.String("snapshot.trigger", trigger),
		),
	)
	defer span.End()

	m.beginOp()
	defer m.endOp()

	snap, stats, err := m.engine.Capture(ctx, description, trigger)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.logger.Error("Capture failed", "trigger", trigger, "error", err)
		return nil, err
	}

	id, err := m.store.Insert(snap)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.logger.Error("Store rejected snapshot",
			"trigger", trigger, "size", snap.ContentBytes(), "error", err)
		return nil, err
	}

	snapshotsCreated.WithLabelValues(triggerClass(trigger)).Inc()
	captureDuration.Observe(stats.CaptureTime.Seconds())
	m.publishStoreGauges()

	span.SetAttributes(
		attribute.String("snapshot.id", id),
		attribute.Int("snapshot.file_count", stats.FileCount),
		attribute.Int64("snapshot.total_size", stats.TotalSize),
	)
	m.logger.Info("Snapshot created",
		"snapshot_id", id,
		"trigger", trigger,
		"files", stats.FileCount,
		"bytes", stats.TotalSize,
		"skipped", stats.SkippedFiles,
		"errors", len(stats.Errors))

	if m.autoCleanup {
		m.maybeCleanup()
	}

	return &CreateResult{
		ID:          id,
		Description: snap.Description,
		Timestamp:   snap.Timestamp,
		TriggerType: trigger,
		Stats:       *stats,
	}, nil
}

// maybeCleanup removes oldest snapshots while utilization sits above
// the configured threshold. Best effort; never removes the last one.
func (m *Manager) maybeCleanup() {
	for {
		stats := m.store.Stats()
		if stats.UtilizationPercent <= m.cleanupThreshold || stats.TotalSnapshots <= 1 {
			return
		}
		oldest := m.store.List(store.ListOptions{Limit: 1, SortBy: store.SortByTimestamp, Ascending: true})
		if len(oldest) == 0 {
			return
		}
		if !m.store.Remove(oldest[0].ID) {
			return
		}
		snapshotsEvicted.Inc()
		m.logger.Info("Cleanup removed snapshot",
			"snapshot_id", oldest[0].ID,
			"utilization_percent", stats.UtilizationPercent)
		m.publishStoreGauges()
	}
}

func (m *Manager) publishStoreGauges() {
	stats := m.store.Stats()
	storeMemoryBytes.Set(stats.MemoryUsageMB * 1024 * 1024)
	storeSnapshotCount.Set(float64(stats.TotalSnapshots))
}

// ListSnapshots returns summaries per the given options.
func (m *Manager) ListSnapshots(opts store.ListOptions) []store.Summary {
	return m.store.List(opts)
}

// GetSnapshotDetails returns the metadata view of one snapshot. File
// content is never included.
func (m *Manager) GetSnapshotDetails(id string) (*SnapshotDetails, error) {
	if err := validation.ValidateSnapshotID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	snap, ok := m.store.Get(id)
	if !ok {
		return nil, &NotFoundError{SnapshotID: id}
	}

	details := &SnapshotDetails{
		Summary: store.Summary{
			ID:          snap.ID,
			Description: snap.Description,
			Timestamp:   snap.Timestamp,
			TriggerType: snap.TriggerType,
			FileCount:   len(snap.Files),
			TotalSize:   snap.ContentBytes(),
		},
		Files: make([]FileEntry, 0, len(snap.Files)),
	}
	for path, rec := range snap.Files {
		details.Files = append(details.Files, FileEntry{
			Path:         path,
			Size:         rec.Size,
			Mode:         uint32(rec.Mode),
			ModifiedTime: rec.ModifiedTime,
			Checksum:     rec.Checksum,
			Encoding:     rec.Encoding,
		})
	}
	sort.Slice(details.Files, func(i, j int) bool {
		return details.Files[i].Path < details.Files[j].Path
	})
	return details, nil
}

// PreviewRestore computes the diff a restore of id would apply,
// without touching the filesystem or the store.
func (m *Manager) PreviewRestore(ctx context.Context, id string) (*backup.RestorePreview, error) {
	if err := validation.ValidateSnapshotID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	snap, ok := m.store.Get(id)
	if !ok {
		return nil, &NotFoundError{SnapshotID: id}
	}

	ctx, span := tracer.Start(ctx, "snapshot.preview",
		trace.WithAttributes(attribute.String("snapshot.id", id)),
	)
	defer span.End()

	preview, err := m.engine.ComputeDiff(ctx, snap)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return preview, nil
}

// ApplyRestore writes a snapshot's content back into the workspace.
// The context doubles as the abort signal: cancellation between files
// stops the restore and yields a partially_failed result.
func (m *Manager) ApplyRestore(ctx context.Context, id string, opts backup.ApplyOptions) (*backup.RestoreResult, error) {
	if err := validation.ValidateSnapshotID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	snap, ok := m.store.Get(id)
	if !ok {
		return nil, &NotFoundError{SnapshotID: id}
	}

	if err := m.acquireRestore(id); err != nil {
		return nil, err
	}
	defer m.releaseRestore(id)

	ctx, span := tracer.Start(ctx, "snapshot.restore",
		trace.WithAttributes(
			attribute.String("snapshot.id", id),
			attribute.Int("snapshot.file_count", len(snap.Files)),
			attribute.Bool("restore.create_backup", opts.CreateBackup),
			attribute.Bool("restore.overwrite", opts.OverwriteExisting),
		),
	)
	defer span.End()

	m.beginOp()
	defer m.endOp()

	result, err := m.engine.Apply(ctx, snap, opts)
	if result != nil {
		restoresTotal.WithLabelValues(string(result.State)).Inc()
		span.SetAttributes(
			attribute.String("restore.state", string(result.State)),
			attribute.Int("restore.restored_files", result.RestoredFiles),
		)
		m.logger.Info("Restore finished",
			"snapshot_id", id,
			"state", result.State,
			"restored", result.RestoredFiles,
			"skipped", result.SkippedFiles,
			"errors", len(result.Errors))
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	return result, nil
}

func (m *Manager) acquireRestore(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.restoring[id]; busy {
		return &BusyError{SnapshotID: id}
	}
	m.restoring[id] = struct{}{}
	return nil
}

func (m *Manager) releaseRestore(id string) {
	m.mu.Lock()
	delete(m.restoring, id)
	m.mu.Unlock()
}

// DeleteSnapshot removes a snapshot and releases its memory.
func (m *Manager) DeleteSnapshot(id string) (*DeleteResult, error) {
	if err := validation.ValidateSnapshotID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	snap, ok := m.store.Get(id)
	if !ok {
		return nil, &NotFoundError{SnapshotID: id}
	}
	if !m.store.Remove(id) {
		return nil, &NotFoundError{SnapshotID: id}
	}
	snapshotsDeleted.Inc()
	m.publishStoreGauges()
	m.logger.Info("Snapshot deleted", "snapshot_id", id)
	return &DeleteResult{ID: id, Description: snap.Description}, nil
}

// SystemStats reports storage occupancy, the active filter setup, and
// in-flight operation count.
func (m *Manager) SystemStats() SystemStats {
	m.mu.Lock()
	active := m.activeOps
	m.mu.Unlock()
	return SystemStats{
		Storage:          m.store.Stats(),
		Filtering:        m.filter.Stats(),
		ActiveOperations: active,
	}
}

// AddExclusion adds a custom exclusion pattern that applies to all
// future captures sharing this filter.
func (m *Manager) AddExclusion(pattern string) error {
	return m.filter.AddCustomExclusion(pattern)
}

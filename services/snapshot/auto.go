// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/cairnlabs/cairn/services/snapshot/backup"
	"github.com/cairnlabs/cairn/services/snapshot/filter"
	"github.com/cairnlabs/cairn/services/snapshot/store"
)

// PendingSnapshot carries the state between the before and after hooks
// of one tool execution. A nil PendingSnapshot means no snapshot was
// taken for that execution.
type PendingSnapshot struct {
	// SnapshotID is the automatic snapshot taken before the tool ran.
	SnapshotID string

	// fingerprints maps target paths to their pre-execution
	// fingerprint. Nil when change detection is off or degraded; the
	// snapshot is then always kept.
	fingerprints map[string]string
	paths        []string
}

// AutoManager implements the automatic snapshot policy: a baseline on
// initialization, then one snapshot before each file-modifying tool
// execution, subject to a session cap and a cooldown.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The policy checks run under
// an internal mutex; captures themselves run outside it.
type AutoManager struct {
	manager *Manager
	cfg     BehaviorConfig
	logger  *slog.Logger
	watcher *Watcher
	limiter *rate.Limiter

	mu           sync.Mutex
	initialized  bool
	sessionCount int

	// captured is set once any snapshot exists for this session, so
	// the watcher's clean state is meaningful.
	captured bool
}

// NewAutoManager wires the policy over an existing Manager. watcher
// may be nil; change-skipping then relies on fingerprints alone.
func NewAutoManager(manager *Manager, cfg BehaviorConfig, watcher *Watcher, logger *slog.Logger) *AutoManager {
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.CooldownPeriod > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.CooldownPeriod.Std()), 1)
	}
	return &AutoManager{
		manager: manager,
		cfg:     cfg,
		logger:  logger.With("component", "auto_snapshot"),
		watcher: watcher,
		limiter: limiter,
	}
}

// Initialize takes the baseline snapshot. It is idempotent; only the
// first call captures. When SkipIfSnapshotsExist is set and the store
// already holds snapshots, no baseline is taken. Returns
// ErrAutoSnapshotDisabled when automatic snapshots are configured off.
func (a *AutoManager) Initialize(ctx context.Context) error {
	if !a.cfg.AutoSnapshot {
		return ErrAutoSnapshotDisabled
	}

	a.mu.Lock()
	if a.initialized {
		a.mu.Unlock()
		return nil
	}
	a.initialized = true
	a.mu.Unlock()
	if a.cfg.SkipIfSnapshotsExist {
		existing := a.manager.ListSnapshots(store.ListOptions{Limit: 1})
		if len(existing) > 0 {
			a.logger.Debug("Baseline skipped, store not empty")
			return nil
		}
	}

	res, err := a.manager.createWithTrigger(ctx, "Initial workspace snapshot", backup.TriggerInitial)
	if err != nil {
		a.logger.Warn("Baseline snapshot failed", "error", err)
		return err
	}
	if a.watcher != nil {
		a.watcher.MarkClean()
	}
	a.mu.Lock()
	a.captured = true
	a.mu.Unlock()
	a.logger.Info("Baseline snapshot created", "snapshot_id", res.ID, "files", res.Stats.FileCount)
	return nil
}

// BeforeToolExecution decides whether to snapshot ahead of a tool run
// and, if so, captures. modifiesFiles is the tool's own declaration;
// nil means undeclared, which defaults to modifying because a missed
// snapshot is worse than a redundant one.
//
// A nil result with nil error means the policy decided to skip.
func (a *AutoManager) BeforeToolExecution(ctx context.Context, toolName string, modifiesFiles *bool, targetPaths []string) (*PendingSnapshot, error) {
	if !a.cfg.AutoSnapshot {
		return nil, nil
	}

	modifies := a.cfg.TreatUndeclaredAsModifying
	if modifiesFiles != nil {
		modifies = *modifiesFiles
	}
	if !modifies {
		return nil, nil
	}

	a.mu.Lock()
	if a.cfg.MaxSnapshotsPerSession > 0 && a.sessionCount >= a.cfg.MaxSnapshotsPerSession {
		a.mu.Unlock()
		a.logger.Debug("Session snapshot cap reached", "tool", toolName, "cap", a.cfg.MaxSnapshotsPerSession)
		return nil, nil
	}
	if a.watcher != nil && a.watcher.Healthy() && !a.watcher.Dirty() && a.captured {
		a.mu.Unlock()
		a.logger.Debug("Workspace unchanged since last snapshot", "tool", toolName)
		return nil, nil
	}
	if a.limiter != nil && !a.limiter.Allow() {
		a.mu.Unlock()
		a.logger.Debug("Snapshot suppressed by cooldown", "tool", toolName)
		return nil, nil
	}
	a.sessionCount++
	a.mu.Unlock()

	// Tools that declare no targets can still be checked for no-op
	// discard against whatever the watcher saw change.
	fpPaths := targetPaths
	if len(fpPaths) == 0 && a.watcher != nil && a.watcher.Healthy() {
		fpPaths = a.watcher.DirtyPaths()
	}

	var before map[string]string
	if a.cfg.RequireActualChanges {
		fp, err := a.fingerprint(fpPaths)
		if err != nil {
			// Degrade to keeping the snapshot rather than guessing.
			a.logger.Debug("Fingerprinting failed, snapshot will be kept", "error", err)
		} else {
			before = fp
		}
	}

	res, err := a.manager.createWithTrigger(ctx, describeTool(toolName, targetPaths), toolName)
	if err != nil {
		a.mu.Lock()
		a.sessionCount--
		a.mu.Unlock()
		return nil, err
	}
	if a.watcher != nil {
		a.watcher.MarkClean()
	}
	a.mu.Lock()
	a.captured = true
	a.mu.Unlock()

	return &PendingSnapshot{
		SnapshotID:   res.ID,
		fingerprints: before,
		paths:        fpPaths,
	}, nil
}

// AfterToolExecution re-fingerprints the target paths and discards the
// pending snapshot when the tool changed nothing. The discarded
// snapshot returns its session slot but not its cooldown slot, so a
// burst of no-op tools cannot capture faster than the cooldown allows.
func (a *AutoManager) AfterToolExecution(pending *PendingSnapshot) error {
	if pending == nil || !a.cfg.RequireActualChanges || pending.fingerprints == nil {
		return nil
	}

	after, err := a.fingerprint(pending.paths)
	if err != nil {
		a.logger.Debug("Post-execution fingerprinting failed, snapshot kept", "error", err)
		return nil
	}
	if !fingerprintsEqual(pending.fingerprints, after) {
		return nil
	}

	if _, err := a.manager.DeleteSnapshot(pending.SnapshotID); err != nil {
		a.logger.Warn("Discarding no-op snapshot failed", "snapshot_id", pending.SnapshotID, "error", err)
		return err
	}
	snapshotsDiscarded.Inc()

	a.mu.Lock()
	if a.sessionCount > 0 {
		a.sessionCount--
	}
	a.mu.Unlock()

	a.logger.Debug("Discarded snapshot, tool changed nothing", "snapshot_id", pending.SnapshotID)
	return nil
}

// SessionCount reports automatic snapshots taken this session.
func (a *AutoManager) SessionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionCount
}

// fingerprint maps each target path to a compact change marker. Paths
// are resolved against the workspace root when relative. A missing
// file fingerprints as "absent" so create/delete still registers as a
// change.
func (a *AutoManager) fingerprint(paths []string) (map[string]string, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no target paths to fingerprint")
	}
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(a.manager.engine.Root(), p)
		}
		info, err := os.Lstat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				out[p] = "absent"
				continue
			}
			return nil, fmt.Errorf("fingerprint %s: %w", p, err)
		}
		if !info.Mode().IsRegular() {
			out[p] = fmt.Sprintf("mode:%d", info.Mode())
			continue
		}
		if a.cfg.FingerprintChecksum {
			data, err := os.ReadFile(abs)
			if err != nil {
				return nil, fmt.Errorf("fingerprint %s: %w", p, err)
			}
			sum := sha256.Sum256(data)
			out[p] = hex.EncodeToString(sum[:])
			continue
		}
		out[p] = fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano())
	}
	return out, nil
}

func fingerprintsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// describeTool builds the snapshot description for an automatic
// capture, listing up to three target paths.
func describeTool(toolName string, targetPaths []string) string {
	if len(targetPaths) == 0 {
		return fmt.Sprintf("Before %s", toolName)
	}
	shown := make([]string, 0, 3)
	for _, p := range targetPaths {
		if len(shown) == 3 {
			break
		}
		shown = append(shown, filter.NormalizePath(p))
	}
	suffix := ""
	if extra := len(targetPaths) - len(shown); extra > 0 {
		suffix = fmt.Sprintf(" (+%d more)", extra)
	}
	return fmt.Sprintf("Before %s: %s%s", toolName, strings.Join(shown, ", "), suffix)
}

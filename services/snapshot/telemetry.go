// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cairnlabs/cairn/services/snapshot/backup"
)

var (
	// snapshotsCreated counts successful captures by trigger class.
	// Labels: "manual", "initial", "auto"
	snapshotsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cairn_snapshots_created_total",
		Help: "Total snapshots captured by trigger class",
	}, []string{"trigger"})

	snapshotsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cairn_snapshots_evicted_total",
		Help: "Total snapshots evicted to satisfy store bounds",
	})

	snapshotsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cairn_snapshots_deleted_total",
		Help: "Total snapshots deleted on request",
	})

	snapshotsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cairn_snapshots_discarded_total",
		Help: "Automatic snapshots discarded because nothing changed",
	})

	// restoresTotal counts apply calls by terminal state.
	// Labels: "completed", "partially_failed", "rolled_back", "rollback_failed"
	restoresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cairn_restores_total",
		Help: "Total restore attempts by terminal state",
	}, []string{"state"})

	captureDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cairn_capture_duration_seconds",
		Help:    "Workspace capture duration",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})

	storeMemoryBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cairn_store_memory_bytes",
		Help: "Approximate bytes held by the in-memory snapshot store",
	})

	storeSnapshotCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cairn_store_snapshots",
		Help: "Snapshots currently retained",
	})
)

// triggerClass collapses tool-name triggers into "auto" so the metric
// label set stays bounded.
func triggerClass(trigger string) string {
	switch trigger {
	case backup.TriggerManual, backup.TriggerInitial:
		return trigger
	default:
		return "auto"
	}
}

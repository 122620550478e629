// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all snapshot routes with the router group.
//
// Endpoints:
//
//	POST   /v1/snapshots - Capture a manual snapshot
//	GET    /v1/snapshots - List snapshot summaries
//	GET    /v1/snapshots/stats - System statistics
//	POST   /v1/snapshots/exclusions - Add a custom exclusion pattern
//	GET    /v1/snapshots/:id - Snapshot metadata and file list
//	POST   /v1/snapshots/:id/preview - Dry-run restore diff
//	POST   /v1/snapshots/:id/restore - Apply a restore
//	DELETE /v1/snapshots/:id - Delete a snapshot
//	GET    /v1/snapshots/health - Health check
//	GET    /v1/snapshots/ready - Readiness check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	snaps := rg.Group("/snapshots")
	{
		snaps.POST("", handlers.HandleCreate)
		snaps.GET("", handlers.HandleList)
		snaps.GET("/stats", handlers.HandleStats)
		snaps.POST("/exclusions", handlers.HandleAddExclusion)

		snaps.GET("/:id", handlers.HandleGet)
		snaps.POST("/:id/preview", handlers.HandlePreview)
		snaps.POST("/:id/restore", handlers.HandleRestore)
		snaps.DELETE("/:id", handlers.HandleDelete)

		snaps.GET("/health", handlers.HandleHealth)
		snaps.GET("/ready", handlers.HandleReady)
	}
}

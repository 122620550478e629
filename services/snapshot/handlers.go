// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cairnlabs/cairn/services/snapshot/backup"
	"github.com/cairnlabs/cairn/services/snapshot/store"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}

// CreateSnapshotRequest is the body of POST /v1/snapshots.
type CreateSnapshotRequest struct {
	// Description labels the snapshot. Empty gets a default label.
	Description string `json:"description"`
}

// RestoreRequest is the body of POST /v1/snapshots/:id/restore.
type RestoreRequest struct {
	// CreateBackup backs up files before overwriting. Default: true.
	CreateBackup *bool `json:"create_backup"`

	// OverwriteExisting allows replacing files whose content differs.
	// Default: true.
	OverwriteExisting *bool `json:"overwrite_existing"`

	// PreservePermissions restores recorded file modes. Default: true.
	PreservePermissions *bool `json:"preserve_permissions"`

	// RollbackOnFailure undoes the restore on the first write error.
	// Default: true.
	RollbackOnFailure *bool `json:"rollback_on_failure"`
}

func (r *RestoreRequest) options() backup.ApplyOptions {
	opts := backup.DefaultApplyOptions()
	if r.CreateBackup != nil {
		opts.CreateBackup = *r.CreateBackup
	}
	if r.OverwriteExisting != nil {
		opts.OverwriteExisting = *r.OverwriteExisting
	}
	if r.PreservePermissions != nil {
		opts.PreservePermissions = *r.PreservePermissions
	}
	if r.RollbackOnFailure != nil {
		opts.RollbackOnFailure = *r.RollbackOnFailure
	}
	return opts
}

// AddExclusionRequest is the body of POST /v1/snapshots/exclusions.
type AddExclusionRequest struct {
	Pattern string `json:"pattern"`
}

// Handlers exposes the snapshot service over HTTP.
type Handlers struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandlers builds the HTTP handlers for svc.
func NewHandlers(svc *Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		svc:    svc,
		logger: logger.With("component", "snapshot_handlers"),
	}
}

// writeError maps service errors onto HTTP status codes.
func (h *Handlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSnapshotNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "SNAPSHOT_NOT_FOUND",
		})
	case errors.Is(err, ErrRestoreBusy):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "RESTORE_BUSY",
		})
	case errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_REQUEST",
		})
	case errors.Is(err, store.ErrSnapshotTooLarge):
		c.JSON(http.StatusInsufficientStorage, ErrorResponse{
			Error: err.Error(),
			Code:  "SNAPSHOT_TOO_LARGE",
		})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "INTERNAL_ERROR",
		})
	}
}

// HandleCreate handles POST /v1/snapshots.
func (h *Handlers) HandleCreate(c *gin.Context) {
	var req CreateSnapshotRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.logger.Warn("Invalid request body", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "Invalid request body",
				Code:  "INVALID_REQUEST",
			})
			return
		}
	}

	result, err := h.svc.Manager().CreateSnapshot(c.Request.Context(), req.Description)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// HandleList handles GET /v1/snapshots.
//
// Query parameters:
//
//	limit - maximum summaries to return (default all)
//	sort - timestamp | size | file_count (default timestamp)
//	order - asc | desc (default desc)
func (h *Handlers) HandleList(c *gin.Context) {
	opts := store.ListOptions{}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a non-negative integer",
				Code:  "INVALID_REQUEST",
			})
			return
		}
		opts.Limit = limit
	}
	switch c.Query("sort") {
	case "", "timestamp":
		opts.SortBy = store.SortByTimestamp
	case "size":
		opts.SortBy = store.SortBySize
	case "file_count":
		opts.SortBy = store.SortByFileCount
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "sort must be timestamp, size, or file_count",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	opts.Ascending = c.Query("order") == "asc"

	summaries := h.svc.Manager().ListSnapshots(opts)
	c.JSON(http.StatusOK, gin.H{
		"snapshots": summaries,
		"count":     len(summaries),
	})
}

// HandleGet handles GET /v1/snapshots/:id.
func (h *Handlers) HandleGet(c *gin.Context) {
	details, err := h.svc.Manager().GetSnapshotDetails(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// HandlePreview handles POST /v1/snapshots/:id/preview.
func (h *Handlers) HandlePreview(c *gin.Context) {
	preview, err := h.svc.Manager().PreviewRestore(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

// HandleRestore handles POST /v1/snapshots/:id/restore.
//
// Response:
//
//	200 OK: RestoreResult (state "completed")
//	404 Not Found: unknown snapshot ID
//	409 Conflict: restore already in progress for this snapshot
//	500 Internal Server Error: restore failed; body carries the
//	partial RestoreResult when one exists
func (h *Handlers) HandleRestore(c *gin.Context) {
	var req RestoreRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.logger.Warn("Invalid request body", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "Invalid request body",
				Code:  "INVALID_REQUEST",
			})
			return
		}
	}

	result, err := h.svc.Manager().ApplyRestore(c.Request.Context(), c.Param("id"), req.options())
	if err != nil {
		if result != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":  err.Error(),
				"code":   "RESTORE_FAILED",
				"result": result,
			})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleDelete handles DELETE /v1/snapshots/:id.
func (h *Handlers) HandleDelete(c *gin.Context) {
	result, err := h.svc.Manager().DeleteSnapshot(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleStats handles GET /v1/snapshots/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Manager().SystemStats())
}

// HandleAddExclusion handles POST /v1/snapshots/exclusions.
func (h *Handlers) HandleAddExclusion(c *gin.Context) {
	var req AddExclusionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Pattern == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "pattern is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if err := h.svc.Manager().AddExclusion(req.Pattern); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_PATTERN",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pattern": req.Pattern})
}

// HandleHealth handles GET /v1/snapshots/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady handles GET /v1/snapshots/ready.
func (h *Handlers) HandleReady(c *gin.Context) {
	if !h.svc.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "workspace unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cairnlabs/cairn/services/snapshot"
)

var (
	portFlag  int
	debugFlag bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the snapshot HTTP API",
		Long: `Serves the snapshot API for the selected workspace, including the
automatic baseline snapshot on startup. Prometheus metrics are exposed
on /metrics.`,
		RunE: runServe,
	}
)

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 8080, "Port to listen on")
	serveCmd.Flags().BoolVar(&debugFlag, "debug", false, "Enable Gin debug mode and request logging")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	svc, logger, err := newService("serve")
	if err != nil {
		return err
	}
	defer logger.Close()
	defer svc.Close()

	if debugFlag {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Initialize(ctx); err != nil && !errors.Is(err, snapshot.ErrAutoSnapshotDisabled) {
		logger.Warn("Baseline snapshot failed", "error", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if debugFlag {
		router.Use(gin.Logger())
	}

	handlers := snapshot.NewHandlers(svc, logger.Slog())
	v1 := router.Group("/v1")
	snapshot.RegisterRoutes(v1, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", portFlag),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Snapshot API listening", "addr", srv.Addr, "workspace", svc.Root())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down snapshot API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

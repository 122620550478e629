// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command cairn manages workspace snapshots for coding agent sessions.
//
// Usage:
//
//	cairn snapshot create -m "before refactor"
//	cairn snapshot list
//	cairn snapshot show <id>
//	cairn snapshot preview <id>
//	cairn snapshot restore <id>
//	cairn snapshot delete <id>
//	cairn snapshot stats
//	cairn serve -port 8080
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cairnlabs/cairn/pkg/logging"
	"github.com/cairnlabs/cairn/services/snapshot"
)

var (
	workspaceFlag string
	configFlag    string
	logLevelFlag  string
	quietFlag     bool

	rootCmd = &cobra.Command{
		Use:   "cairn",
		Short: "Workspace snapshot engine for coding agent sessions",
		Long: `Cairn captures point-in-time snapshots of a workspace, diffs them
against the live tree, and restores them with automatic backups and
rollback on failure.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", ".", "Workspace root directory")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file path (default ~/.cairn/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress log output on stderr")
}

// configPath resolves the config file location, preferring the flag.
func configPath() string {
	if configFlag != "" {
		return configFlag
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cairn", "config.yaml")
}

// newService builds the snapshot service for the selected workspace.
// The caller must Close both returns.
func newService(serviceName string) (*snapshot.Service, *logging.Logger, error) {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevelFlag),
		Service: serviceName,
		Quiet:   quietFlag,
	})

	cfg, err := snapshot.LoadConfig(configPath())
	if err != nil {
		logger.Close()
		return nil, nil, err
	}
	provider, err := snapshot.NewStaticProvider(cfg)
	if err != nil {
		logger.Close()
		return nil, nil, err
	}

	svc, err := snapshot.NewService(workspaceFlag, provider, logger.Slog())
	if err != nil {
		logger.Close()
		return nil, nil, err
	}
	return svc, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

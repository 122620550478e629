// Copyright (C) 2026 Cairn Labs (oss@cairnlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/cairnlabs/cairn/services/snapshot/backup"
	"github.com/cairnlabs/cairn/services/snapshot/store"
)

var (
	descriptionFlag string
	limitFlag       int
	sortFlag        string
	jsonFlag        bool
	noBackupFlag    bool
	noOverwriteFlag bool
	noRollbackFlag  bool
	yesFlag         bool

	snapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Capture, inspect, and restore workspace snapshots",
		Long: `Capture, inspect, and restore workspace snapshots.

Snapshots are held in memory and live only as long as the owning
process. Each invocation of these subcommands starts a fresh engine,
so list, show, preview, restore, and delete only see snapshots taken
in the same process. For a persistent session, run "cairn serve" and
use its HTTP API.`,
	}
	createCmd = &cobra.Command{
		Use:   "create",
		Short: "Capture a snapshot of the workspace",
		RunE:  runCreate,
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots",
		RunE:  runList,
	}
	showCmd = &cobra.Command{
		Use:   "show [id]",
		Short: "Show snapshot metadata and its file list",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	previewCmd = &cobra.Command{
		Use:   "preview [id]",
		Short: "Show what restoring a snapshot would change",
		Args:  cobra.ExactArgs(1),
		RunE:  runPreview,
	}
	restoreCmd = &cobra.Command{
		Use:   "restore [id]",
		Short: "Restore the workspace from a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE:  runRestore,
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show storage and filter statistics",
		RunE:  runStats,
	}
)

func init() {
	createCmd.Flags().StringVarP(&descriptionFlag, "message", "m", "", "Snapshot description")

	listCmd.Flags().IntVar(&limitFlag, "limit", 0, "Maximum snapshots to list (0 = all)")
	listCmd.Flags().StringVar(&sortFlag, "sort", "timestamp", "Sort key: timestamp, size, file_count")

	restoreCmd.Flags().BoolVar(&noBackupFlag, "no-backup", false, "Skip pre-restore backups")
	restoreCmd.Flags().BoolVar(&noOverwriteFlag, "no-overwrite", false, "Never replace existing files")
	restoreCmd.Flags().BoolVar(&noRollbackFlag, "no-rollback", false, "Keep partial results on failure")
	restoreCmd.Flags().BoolVarP(&yesFlag, "yes", "y", false, "Skip the confirmation prompt")

	for _, cmd := range []*cobra.Command{listCmd, showCmd, previewCmd, statsCmd} {
		cmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit JSON instead of a table")
	}

	snapshotCmd.AddCommand(createCmd, listCmd, showCmd, previewCmd, restoreCmd, deleteCmd, statsCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// signalContext cancels on SIGINT or SIGTERM so a long restore can be
// aborted cleanly between files.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCreate(cmd *cobra.Command, args []string) error {
	svc, logger, err := newService("cli")
	if err != nil {
		return err
	}
	defer logger.Close()
	defer svc.Close()

	ctx, cancel := signalContext()
	defer cancel()

	result, err := svc.Manager().CreateSnapshot(ctx, descriptionFlag)
	if err != nil {
		return err
	}
	fmt.Printf("Created snapshot %s (%d files, %s)\n",
		result.ID, result.Stats.FileCount, formatBytes(result.Stats.TotalSize))
	if n := len(result.Stats.Errors); n > 0 {
		fmt.Printf("  %d file(s) could not be read:\n", n)
		for _, fe := range result.Stats.Errors {
			fmt.Printf("    %s: %s\n", fe.Path, fe.Message)
		}
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	svc, logger, err := newService("cli")
	if err != nil {
		return err
	}
	defer logger.Close()
	defer svc.Close()

	opts := store.ListOptions{Limit: limitFlag}
	switch sortFlag {
	case "timestamp":
		opts.SortBy = store.SortByTimestamp
	case "size":
		opts.SortBy = store.SortBySize
	case "file_count":
		opts.SortBy = store.SortByFileCount
	default:
		return fmt.Errorf("unknown sort key %q", sortFlag)
	}

	summaries := svc.Manager().ListSnapshots(opts)
	if jsonFlag {
		return printJSON(summaries)
	}
	if len(summaries) == 0 {
		fmt.Println("No snapshots stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tTRIGGER\tFILES\tSIZE\tDESCRIPTION")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(s.ID),
			s.Timestamp.Format("2006-01-02 15:04:05"),
			s.TriggerType,
			s.FileCount,
			formatBytes(s.TotalSize),
			s.Description)
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	svc, logger, err := newService("cli")
	if err != nil {
		return err
	}
	defer logger.Close()
	defer svc.Close()

	details, err := svc.Manager().GetSnapshotDetails(args[0])
	if err != nil {
		return err
	}
	if jsonFlag {
		return printJSON(details)
	}

	fmt.Printf("Snapshot %s\n", details.ID)
	fmt.Printf("  Description: %s\n", details.Description)
	fmt.Printf("  Created:     %s\n", details.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Trigger:     %s\n", details.TriggerType)
	fmt.Printf("  Files:       %d (%s)\n", details.FileCount, formatBytes(details.TotalSize))
	for _, f := range details.Files {
		fmt.Printf("    %s (%s, %s)\n", f.Path, formatBytes(f.Size), f.Encoding)
	}
	return nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	svc, logger, err := newService("cli")
	if err != nil {
		return err
	}
	defer logger.Close()
	defer svc.Close()

	ctx, cancel := signalContext()
	defer cancel()

	preview, err := svc.Manager().PreviewRestore(ctx, args[0])
	if err != nil {
		return err
	}
	if jsonFlag {
		return printJSON(preview)
	}

	printPreview(preview)
	return nil
}

func printPreview(preview *backup.RestorePreview) {
	fmt.Printf("Restore would create %d file(s), modify %d, leave %d unchanged.\n",
		len(preview.ToCreate), len(preview.ToModify), len(preview.Unchanged))
	for _, rec := range preview.ToCreate {
		fmt.Printf("  + %s (%s)\n", rec.Path, formatBytes(rec.Size))
	}
	for _, plan := range preview.ToModify {
		fmt.Printf("  ~ %s (%s -> %s)\n",
			plan.Path, formatBytes(plan.CurrentSize), formatBytes(plan.NewSize))
	}
	fmt.Printf("Impact: %s risk, %s affected.\n",
		preview.Impact.RiskLevel, formatBytes(preview.Impact.TotalSize))
}

func runRestore(cmd *cobra.Command, args []string) error {
	svc, logger, err := newService("cli")
	if err != nil {
		return err
	}
	defer logger.Close()
	defer svc.Close()

	ctx, cancel := signalContext()
	defer cancel()

	id := args[0]

	preview, err := svc.Manager().PreviewRestore(ctx, id)
	if err != nil {
		return err
	}
	printPreview(preview)

	if !yesFlag {
		if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
			return fmt.Errorf("refusing to restore without a terminal; pass --yes to confirm")
		}
		fmt.Print("Proceed with restore? [y/N]: ")
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" && answer != "yes" {
			fmt.Println("Restore cancelled.")
			return nil
		}
	}

	opts := backup.DefaultApplyOptions()
	opts.CreateBackup = !noBackupFlag
	opts.OverwriteExisting = !noOverwriteFlag
	opts.RollbackOnFailure = !noRollbackFlag

	result, err := svc.Manager().ApplyRestore(ctx, id, opts)
	if err != nil {
		if result != nil {
			fmt.Printf("Restore ended in state %s (%d restored, %d errors).\n",
				result.State, result.RestoredFiles, len(result.Errors))
			for _, fe := range result.Errors {
				fmt.Printf("  %s: %s\n", fe.Path, fe.Message)
			}
		}
		return err
	}

	fmt.Printf("Restored %d file(s), skipped %d.\n", result.RestoredFiles, result.SkippedFiles)
	if len(result.Backups) > 0 {
		fmt.Printf("Backups written under %s:\n", svc.Root())
		for _, b := range result.Backups {
			fmt.Printf("  %s -> %s\n", b.Path, b.BackupPath)
		}
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	svc, logger, err := newService("cli")
	if err != nil {
		return err
	}
	defer logger.Close()
	defer svc.Close()

	result, err := svc.Manager().DeleteSnapshot(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Deleted snapshot %s (%s)\n", result.ID, result.Description)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	svc, logger, err := newService("cli")
	if err != nil {
		return err
	}
	defer logger.Close()
	defer svc.Close()

	stats := svc.Manager().SystemStats()
	if jsonFlag {
		return printJSON(stats)
	}

	fmt.Printf("Snapshots: %d / %d\n", stats.Storage.TotalSnapshots, stats.Storage.MaxSnapshots)
	fmt.Printf("Memory:    %.1f MB / %d MB (%.1f%%)\n",
		stats.Storage.MemoryUsageMB, stats.Storage.MaxMemoryMB, stats.Storage.UtilizationPercent)
	fmt.Printf("Patterns:  %d active exclusions (%d custom)\n",
		stats.Filtering.TotalPatterns, stats.Filtering.CustomPatterns)
	fmt.Printf("Active:    %d operation(s) in flight\n", stats.ActiveOperations)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

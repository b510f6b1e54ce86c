package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/autodbaudit/autodbaudit/internal/config"
)

var (
	syncConfigPath string
	syncReportPath string
	syncWatch      bool
)

var syncCmd = &cobra.Command{
	Use:   "sync --config <targets.yaml> [--report <report.xlsx>]",
	Short: "Read operator edits from the report, re-collect, diff, and rewrite the report",
	Long: `sync runs the full pipeline: it reads any annotations the operator made
to the report since the last run, persists them, collects fresh facts from
every target, diffs against the previous completed run, classifies every
change (NEW_ISSUE, FIXED, REGRESSION, ...), records the resulting actions,
and writes the next report. Run it again after the operator edits the
report to close the review loop. --report defaults to ./report.xlsx, the
same path 'audit' writes on the first run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncConfigPath == "" {
			return fmt.Errorf("sync: --config is required")
		}

		doc, err := config.Load(syncConfigPath)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store := openStore(ctx)
		defer store.Close() //nolint:errcheck

		orch := newOrchestrator(store, envCredentialResolver)
		result, err := orch.Sync(ctx, doc.Organization, doc.Targets, doc.Sync.MaxParallelTargets, syncReportPath)
		if err != nil {
			return err
		}

		for _, w := range result.Warnings {
			log.Warn("sync: warning", "detail", w)
		}
		if err := writeRunSnapshot(ctx, store, ".", result.RunID); err != nil {
			log.Warn("sync: failed to write immutable run snapshot", "error", err)
		}

		printStats(cmd, result.RunID, result.Stats)

		if syncWatch {
			return watchConfigForEdits(ctx, syncConfigPath)
		}
		return nil
	},
}

// watchConfigForEdits blocks, printing a notice whenever the target
// configuration file changes, until interrupted. It never re-runs sync
// itself: the operator decides when a changed target list is ready to
// collect against.
func watchConfigForEdits(ctx context.Context, path string) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	err := config.WatchForEdits(ctx, path, func() {
		log.Info("sync: target configuration changed; re-run sync to pick it up", "path", path)
	}, log)
	if err != nil {
		return err
	}

	log.Info("sync: watching target configuration for changes; press Ctrl+C to stop", "path", path)
	<-ctx.Done()
	return nil
}

func init() {
	syncCmd.Flags().StringVar(&syncConfigPath, "config", "", "path to the target configuration document")
	syncCmd.Flags().StringVar(&syncReportPath, "report", "report.xlsx", "path to the report workbook to read and rewrite")
	syncCmd.Flags().BoolVar(&syncWatch, "watch", false, "after syncing, watch the target configuration file and notify on changes until interrupted")
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/autodbaudit/autodbaudit/internal/config"
)

var (
	auditOrg            string
	auditConfigPath     string
	auditOutDir         string
	auditBaselineOrNew  bool
)

var auditCmd = &cobra.Command{
	Use:   "audit --config <targets.yaml> --out <dir>",
	Short: "Run a first audit: collect facts and write the initial report",
	Long: `audit is sync's first invocation: there is no prior report to read
annotations from and no baseline run to diff against, so every discrepant
finding is classified NEW_ISSUE. Once the operator has reviewed
and annotated the report, use 'sync' to close the loop.

--baseline-or-new controls what happens when a completed run already
exists in the history database: by default (true) audit still runs,
diffing against that run as its baseline; pass --baseline-or-new=false
to require this invocation to be a genuinely first run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditConfigPath == "" {
			return fmt.Errorf("audit: --config is required")
		}
		if auditOutDir == "" {
			auditOutDir = "."
		}
		if err := os.MkdirAll(auditOutDir, 0o755); err != nil {
			return fmt.Errorf("audit: creating --out directory: %w", err)
		}
		reportPath := filepath.Join(auditOutDir, "report.xlsx")

		doc, err := config.Load(auditConfigPath)
		if err != nil {
			return err
		}
		if auditOrg != "" {
			doc.Organization = auditOrg
		}

		ctx := cmd.Context()
		store := openStore(ctx)
		defer store.Close() //nolint:errcheck

		if !auditBaselineOrNew {
			if _, found, err := store.LatestCompletedRun(ctx); err != nil {
				return err
			} else if found {
				return fmt.Errorf("audit: a completed run already exists; pass --baseline-or-new to diff against it, or point --history at a fresh database")
			}
		}

		orch := newOrchestrator(store, envCredentialResolver)
		result, err := orch.Sync(ctx, doc.Organization, doc.Targets, doc.Sync.MaxParallelTargets, reportPath)
		if err != nil {
			return err
		}

		for _, w := range result.Warnings {
			log.Warn("audit: warning", "detail", w)
		}
		if err := writeRunSnapshot(ctx, store, auditOutDir, result.RunID); err != nil {
			log.Warn("audit: failed to write immutable run snapshot", "error", err)
		}

		printStats(cmd, result.RunID, result.Stats)
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditOrg, "org", "", "organization name override (default: from --config)")
	auditCmd.Flags().StringVar(&auditConfigPath, "config", "", "path to the target configuration document")
	auditCmd.Flags().StringVar(&auditOutDir, "out", ".", "output directory for the report and run snapshots")
	auditCmd.Flags().BoolVar(&auditBaselineOrNew, "baseline-or-new", true, "diff against an existing completed run if one exists, instead of requiring a clean history")
}

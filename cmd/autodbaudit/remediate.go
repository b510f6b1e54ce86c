package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/autodbaudit/autodbaudit/internal/remediate"
	"github.com/autodbaudit/autodbaudit/internal/types"
)

var (
	remediateRunID              int64
	remediateAggressiveness     int
	remediateConnectingIdentity string
	remediateWindowsHost        bool
	remediateOutDir             string
	remediateDryRun             bool
)

var remediateCmd = &cobra.Command{
	Use:   "remediate --aggressiveness <1|2|3> [--dry-run]",
	Short: "Generate a reviewable remediation script for a run's active findings",
	Long: `remediate reads one audit run's facts and annotations from the history
store and renders per-script-kind remediation files (T-SQL, OS), activating
the lines the chosen aggressiveness level permits and leaving the rest
commented out for manual review. Documented exceptions and the connecting
identity itself are never targeted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if remediateAggressiveness < 1 || remediateAggressiveness > 3 {
			return fmt.Errorf("remediate: --aggressiveness must be 1, 2, or 3")
		}
		if remediateOutDir == "" {
			remediateOutDir = "."
		}

		ctx := cmd.Context()
		store := openStore(ctx)
		defer store.Close() //nolint:errcheck

		runID := remediateRunID
		if runID == 0 {
			latest, found, err := store.LatestCompletedRun(ctx)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("remediate: no completed run to remediate; run 'audit' first")
			}
			runID = latest
		}

		facts, err := store.LoadFactsForRun(ctx, runID)
		if err != nil {
			return err
		}
		annotations, err := store.LoadAnnotationsByUUID(ctx)
		if err != nil {
			return err
		}

		findings := make([]remediate.Finding, 0, len(facts))
		for _, f := range facts {
			finding := remediate.Finding{Fact: f}
			if a, ok := annotations[f.RowUUID]; ok {
				finding.Annotation = &a
			}
			findings = append(findings, finding)
		}

		scripts, err := remediate.Generate(remediate.Aggressiveness(remediateAggressiveness), remediateConnectingIdentity, remediateWindowsHost, findings)
		if err != nil {
			return err
		}

		var allItems []types.RemediationItem
		for _, sc := range scripts {
			allItems = append(allItems, sc.Items...)
		}

		if remediateDryRun {
			for _, sc := range scripts {
				fmt.Fprintf(cmd.OutOrStdout(), "--- %s ---\n%s\n", sc.Kind, sc.Text)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dry run: %d items would be generated from audit run %d; nothing written\n", len(allItems), runID)
			return nil
		}

		dir := filepath.Join(remediateOutDir, "remediation", fmt.Sprintf("%d", runID))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("remediate: creating output directory: %w", err)
		}
		for _, sc := range scripts {
			path := filepath.Join(dir, fmt.Sprintf("remediation-%s%s", sc.Kind, extensionFor(sc.Kind)))
			header := fmt.Sprintf("-- aggressiveness=%d source_run=%d skipped_items=%d\n", remediateAggressiveness, runID, countSkipped(sc.Items))
			for _, it := range sc.Items {
				if it.SkippedReason != "" {
					header += fmt.Sprintf("-- skipped: %s (%s)\n", it.CompositeKey.String(), it.SkippedReason)
				}
			}
			header += "\n"
			if err := os.WriteFile(path, []byte(header+sc.Text), 0o644); err != nil {
				return fmt.Errorf("remediate: writing %s: %w", path, err)
			}
			log.Info("remediate: wrote script", "kind", sc.Kind, "path", path)
		}

		remediationRunID, err := store.RecordRemediationRun(ctx, runID, remediateAggressiveness, allItems)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "remediation run %d generated from audit run %d: %d items\n", remediationRunID, runID, len(allItems))
		return nil
	},
}

func countSkipped(items []types.RemediationItem) int {
	n := 0
	for _, it := range items {
		if it.SkippedReason != "" {
			n++
		}
	}
	return n
}

func extensionFor(scriptKind string) string {
	if scriptKind == "os" {
		return ".ps1"
	}
	return ".sql"
}

func init() {
	remediateCmd.Flags().Int64Var(&remediateRunID, "run", 0, "audit run id to remediate (default: latest completed run)")
	remediateCmd.Flags().IntVar(&remediateAggressiveness, "aggressiveness", 1, "1=conservative (all commented), 2=moderate (low-risk active), 3=aggressive (all active except documented exceptions and the connecting identity)")
	remediateCmd.Flags().StringVar(&remediateConnectingIdentity, "connecting-identity", "", "login name the audit itself connects as; never auto-remediated")
	remediateCmd.Flags().BoolVar(&remediateWindowsHost, "windows-host", true, "whether OS-level fixes may be scripted (sc.exe) for this fleet")
	remediateCmd.Flags().StringVar(&remediateOutDir, "out", ".", "directory to write generated scripts into")
	remediateCmd.Flags().BoolVar(&remediateDryRun, "dry-run", false, "render scripts to stdout without writing files or recording a remediation run")
}

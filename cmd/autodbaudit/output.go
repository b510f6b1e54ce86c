package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autodbaudit/autodbaudit/internal/stats"
)

// statsReport is the JSON shape printed by --json; text mode prints the
// same fields as plain lines.
type statsReport struct {
	RunID                int64                  `json:"run_id"`
	TotalFindings        int                    `json:"total_findings"`
	ActiveIssues         int                    `json:"active_issues"`
	DocumentedExceptions int                    `json:"documented_exceptions"`
	CompliantItems       int                    `json:"compliant_items"`
	ByChangeType         map[string]int         `json:"by_change_type,omitempty"`
}

func printStats(cmd *cobra.Command, runID int64, snap stats.Snapshot) {
	report := statsReport{
		RunID:                runID,
		TotalFindings:        snap.TotalFindings,
		ActiveIssues:         snap.ActiveIssues,
		DocumentedExceptions: snap.DocumentedExceptions,
		CompliantItems:       snap.CompliantItems,
	}
	if len(snap.ByChangeType) > 0 {
		report.ByChangeType = make(map[string]int, len(snap.ByChangeType))
		for k, v := range snap.ByChangeType {
			report.ByChangeType[string(k)] = v
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		return
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %d: %d findings (%d active, %d documented exceptions, %d compliant)\n",
		report.RunID, report.TotalFindings, report.ActiveIssues, report.DocumentedExceptions, report.CompliantItems)
	for changeType, n := range report.ByChangeType {
		fmt.Fprintf(out, "  %-20s %d\n", changeType, n)
	}
}

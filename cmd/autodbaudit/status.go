package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autodbaudit/autodbaudit/internal/stats"
)

var statusRunID int64

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current finding counts for a run",
	Long: `status reports the finding counts for one run (default: the latest
completed run) straight from the History Store, without collecting or
writing a report — the same counts the report's cover sheet shows.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store := openStore(ctx)
		defer store.Close() //nolint:errcheck

		runID := statusRunID
		if runID == 0 {
			latest, found, err := store.LatestCompletedRun(ctx)
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintln(cmd.OutOrStdout(), "no completed audit run yet")
				return nil
			}
			runID = latest
		}

		run, err := store.RunByID(ctx, runID)
		if err != nil {
			return err
		}

		facts, err := store.LoadFactsForRun(ctx, runID)
		if err != nil {
			return err
		}
		annotations, err := store.LoadAnnotationsByUUID(ctx)
		if err != nil {
			return err
		}

		snap := stats.FromFacts(facts, annotations)
		printStats(cmd, runID, snap)
		if run.Finalized {
			fmt.Fprintf(cmd.OutOrStdout(), "run %d is finalized\n", runID)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Int64Var(&statusRunID, "run", 0, "audit run id to report on (default: latest completed run)")
}

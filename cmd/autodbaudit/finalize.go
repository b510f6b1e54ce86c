package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var finalizeRunID int64

var finalizeCmd = &cobra.Command{
	Use:   "finalize --run <id>",
	Short: "Mark an audit run immutable for archival",
	Long: `finalize freezes a completed run for archival: the run is flagged
finalized with a timestamp, and 'definalize' clears the flag again. The
flag does not affect baseline selection: the next sync still diffs
against the most recent completed run, finalized or not.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if finalizeRunID == 0 {
			return fmt.Errorf("finalize: --run is required")
		}
		ctx := cmd.Context()
		store := openStore(ctx)
		defer store.Close() //nolint:errcheck

		if err := store.FinalizeRun(ctx, finalizeRunID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %d finalized\n", finalizeRunID)
		return nil
	},
}

var definalizeCmd = &cobra.Command{
	Use:   "definalize --run <id>",
	Short: "Reverse a prior finalize",
	RunE: func(cmd *cobra.Command, args []string) error {
		if finalizeRunID == 0 {
			return fmt.Errorf("definalize: --run is required")
		}
		ctx := cmd.Context()
		store := openStore(ctx)
		defer store.Close() //nolint:errcheck

		if err := store.DefinalizeRun(ctx, finalizeRunID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %d un-finalized\n", finalizeRunID)
		return nil
	},
}

func init() {
	finalizeCmd.Flags().Int64Var(&finalizeRunID, "run", 0, "audit run id to finalize/definalize")
	definalizeCmd.Flags().Int64Var(&finalizeRunID, "run", 0, "audit run id to finalize/definalize")
}

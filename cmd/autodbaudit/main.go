// Command autodbaudit is the CLI entrypoint: a thin cobra wrapper around
// the internal packages that do the real work (History Store, Sync
// Orchestrator, Remediation Generator). Every subcommand opens its own
// History Store handle, runs one operation, and closes it — there is no
// long-lived daemon process the way the corpus's own CLI keeps one.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/autodbaudit/autodbaudit/internal/errs"
)

// Version is stamped at build time via -ldflags; "dev" otherwise.
var Version = "dev"

// Persistent flags shared by every subcommand. AutoDBAudit has no daemon
// and no per-command database override the way the corpus's CLI does —
// the history path and log verbosity are the only cross-cutting knobs.
var (
	historyPath string
	verbose     bool
	jsonOutput  bool
	log         *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "autodbaudit",
	Short: "autodbaudit - offline SQL Server security auditor and remediation generator",
	Long: `AutoDBAudit collects security-relevant facts from a fleet of SQL Server
instances, diffs them against the previous audit, classifies every change,
and writes an editable report workbook operators annotate with exceptions
and review notes. A following sync reads those annotations back in before
collecting again, so the report and the history database never drift.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !cmd.Flags().Changed("history") && historyPath == "" {
			historyPath = viper.GetString("history")
		}
		if !cmd.Flags().Changed("verbose") {
			verbose = viper.GetBool("verbose")
		}
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&historyPath, "history", "", "path to the history database (default $AUTODBAUDIT_HISTORY or ./autodbaudit.db)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON instead of text")

	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(remediateCmd)
	rootCmd.AddCommand(finalizeCmd)
	rootCmd.AddCommand(definalizeCmd)
	rootCmd.AddCommand(statusCmd)
}

// initConfig wires viper to an optional autodbaudit.yaml/toml/json in the
// working directory plus the AUTODBAUDIT_ env prefix, the same
// config-file-plus-env-override idiom the corpus's own CLI uses for its
// non-flag settings.
func initConfig() {
	viper.SetConfigName("autodbaudit")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("AUTODBAUDIT")
	viper.AutomaticEnv()
	viper.SetDefault("history", "autodbaudit.db")
	_ = viper.ReadInConfig() // absent config file is not an error
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(errs.ExitCode(err))
	}
}

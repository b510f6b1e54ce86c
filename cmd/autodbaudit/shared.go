package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/autodbaudit/autodbaudit/internal/errs"
	"github.com/autodbaudit/autodbaudit/internal/history"
	"github.com/autodbaudit/autodbaudit/internal/identity"
	"github.com/autodbaudit/autodbaudit/internal/normalize"
	"github.com/autodbaudit/autodbaudit/internal/queryprovider"
	"github.com/autodbaudit/autodbaudit/internal/rules"
	"github.com/autodbaudit/autodbaudit/internal/stats"
	"github.com/autodbaudit/autodbaudit/internal/syncorch"
)

// openStore opens the history database at the configured path, exiting
// the process with the error's mapped code on failure — every subcommand
// needs the store and none can proceed without it.
func openStore(ctx context.Context) *history.Store {
	s, err := history.Open(ctx, historyPath)
	if err != nil {
		die(err)
	}
	return s
}

// die prints err and exits with its mapped exit code. It never returns.
func die(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(errs.ExitCode(err))
}

// newOrchestrator wires the collaborators every sync and audit-only
// collection needs. resolver may be nil when no target in this invocation
// uses SQL auth.
func newOrchestrator(store *history.Store, resolver syncorch.CredentialResolver) *syncorch.Orchestrator {
	catalog := rules.DefaultCatalog()
	registry := queryprovider.NewDefaultRegistry()
	idSvc := identity.New(store, identity.DefaultOptions())

	return syncorch.New(store, registry, catalog, idSvc, normalize.DefaultKeyBuilders(), resolver, log)
}

// writeRunSnapshot writes the immutable per-run archive the persisted
// state layout calls for: runs/<run_id>/facts.json and stats.json,
// written once at run completion and never touched again — the durable
// record an operator (or a later `finalize`) can point auditors at
// independent of the report workbook's current state.
func writeRunSnapshot(ctx context.Context, store *history.Store, outDir string, runID int64) error {
	dir := filepath.Join(outDir, "runs", fmt.Sprintf("%d", runID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
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

	factsJSON, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "facts.json"), factsJSON, 0o644); err != nil {
		return err
	}

	snap := stats.FromFacts(facts, annotations)
	statsJSON, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "stats.json"), statsJSON, 0o644)
}

// envCredentialResolver resolves a target's credential_ref against a pair
// of environment variables, AUTODBAUDIT_CRED_<REF>_USER and
// AUTODBAUDIT_CRED_<REF>_PASSWORD, so SQL-auth secrets never live in the
// target configuration file itself.
func envCredentialResolver(ref string) (user, password string, err error) {
	key := strings.ToUpper(strings.ReplaceAll(ref, "-", "_"))
	user = os.Getenv("AUTODBAUDIT_CRED_" + key + "_USER")
	password = os.Getenv("AUTODBAUDIT_CRED_" + key + "_PASSWORD")
	if user == "" {
		return "", "", fmt.Errorf("credential_ref %q: AUTODBAUDIT_CRED_%s_USER is not set", ref, key)
	}
	return user, password, nil
}

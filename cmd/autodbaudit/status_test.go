package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/autodbaudit/autodbaudit/internal/history"
	"github.com/autodbaudit/autodbaudit/internal/types"
)

func TestStatusAndFinalizeCommands(t *testing.T) {
	log = slog.New(slog.NewTextHandler(io.Discard, nil))
	historyPath = filepath.Join(t.TempDir(), "history.db")
	jsonOutput = false

	ctx := context.Background()
	store, err := history.Open(ctx, historyPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	runID, err := store.BeginRun(ctx, "acme-corp", "hash123")
	if err != nil {
		t.Fatalf("BeginRun() error = %v", err)
	}
	key := types.NewCompositeKey(types.KindLogin, "PROD1", "MSSQLSERVER", "rogue_admin")
	fact := types.Fact{
		RunID: runID, EntityKind: types.KindLogin, CompositeKey: key, RowUUID: "ab12cd34",
		Attributes: map[string]string{"name": "rogue_admin"}, Status: types.StatusFail,
		RuleID: "LOGIN-001", RiskLevel: types.RiskHigh, CollectedAt: time.Now(),
	}
	if err := store.RecordFacts(ctx, []types.Fact{fact}); err != nil {
		t.Fatalf("RecordFacts() error = %v", err)
	}
	if err := store.CompleteRun(ctx, runID, types.RunCompleted); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	statusRunID = 0
	var statusOut bytes.Buffer
	statusCmd.SetOut(&statusOut)
	statusCmd.SetContext(ctx)
	if err := statusCmd.RunE(statusCmd, nil); err != nil {
		t.Fatalf("status RunE() error = %v", err)
	}
	if !bytes.Contains(statusOut.Bytes(), []byte("1 findings")) {
		t.Errorf("status output = %q, want it to mention 1 finding", statusOut.String())
	}

	finalizeRunID = runID
	var finalizeOut bytes.Buffer
	finalizeCmd.SetOut(&finalizeOut)
	finalizeCmd.SetContext(ctx)
	if err := finalizeCmd.RunE(finalizeCmd, nil); err != nil {
		t.Fatalf("finalize RunE() error = %v", err)
	}

	store, err = history.Open(ctx, historyPath)
	if err != nil {
		t.Fatalf("re-Open() error = %v", err)
	}
	defer store.Close() //nolint:errcheck
	run, err := store.RunByID(ctx, runID)
	if err != nil {
		t.Fatalf("RunByID() error = %v", err)
	}
	if !run.Finalized {
		t.Error("expected run to be finalized after the finalize command")
	}
}

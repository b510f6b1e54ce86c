package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/autodbaudit/autodbaudit/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBeginAndCompleteRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runID, err := s.BeginRun(ctx, "acme-corp", "hash123")
	if err != nil {
		t.Fatalf("BeginRun() error = %v", err)
	}

	run, err := s.RunByID(ctx, runID)
	if err != nil {
		t.Fatalf("RunByID() error = %v", err)
	}
	if run.Status != types.RunRunning {
		t.Errorf("status = %v, want running", run.Status)
	}

	if err := s.CompleteRun(ctx, runID, types.RunCompleted); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}
	run, err = s.RunByID(ctx, runID)
	if err != nil {
		t.Fatalf("RunByID() error = %v", err)
	}
	if run.Status != types.RunCompleted {
		t.Errorf("status = %v, want completed", run.Status)
	}
	if run.EndedAt == nil {
		t.Error("expected ended_at to be set")
	}
}

func TestFinalizeAndDefinalizeRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runID, err := s.BeginRun(ctx, "acme-corp", "hash123")
	if err != nil {
		t.Fatalf("BeginRun() error = %v", err)
	}
	if err := s.CompleteRun(ctx, runID, types.RunCompleted); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	if err := s.FinalizeRun(ctx, runID); err != nil {
		t.Fatalf("FinalizeRun() error = %v", err)
	}
	run, err := s.RunByID(ctx, runID)
	if err != nil {
		t.Fatalf("RunByID() error = %v", err)
	}
	if !run.Finalized {
		t.Error("expected run to be finalized")
	}
	if run.FinalizedAt == nil {
		t.Error("expected finalized_at to be set")
	}
	firstFinalizedAt := *run.FinalizedAt

	// Finalizing again is a no-op: finalized_at does not move.
	if err := s.FinalizeRun(ctx, runID); err != nil {
		t.Fatalf("second FinalizeRun() error = %v", err)
	}
	run, _ = s.RunByID(ctx, runID)
	if !run.FinalizedAt.Equal(firstFinalizedAt) {
		t.Errorf("finalized_at changed on repeat finalize: %v -> %v", firstFinalizedAt, *run.FinalizedAt)
	}

	if err := s.DefinalizeRun(ctx, runID); err != nil {
		t.Fatalf("DefinalizeRun() error = %v", err)
	}
	run, _ = s.RunByID(ctx, runID)
	if run.Finalized {
		t.Error("expected run to be un-finalized")
	}
	if run.FinalizedAt != nil {
		t.Error("expected finalized_at to be cleared")
	}
}

func TestRecordFactsRejectsDuplicateWithinRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runID, _ := s.BeginRun(ctx, "acme-corp", "hash123")

	key := types.NewCompositeKey(types.KindLogin, "PROD1", "MSSQLSERVER", "rogue_admin")
	fact := types.Fact{
		RunID: runID, EntityKind: types.KindLogin, CompositeKey: key, RowUUID: "ab12cd34",
		Attributes: map[string]string{"name": "rogue_admin"}, Status: types.StatusFail,
		RuleID: "LOGIN-001", RiskLevel: types.RiskHigh, CollectedAt: time.Now(),
	}

	if err := s.RecordFacts(ctx, []types.Fact{fact}); err != nil {
		t.Fatalf("RecordFacts() error = %v", err)
	}
	if err := s.RecordFacts(ctx, []types.Fact{fact}); err == nil {
		t.Fatal("expected duplicate (kind, composite_key) within run to fail")
	}
}

func TestLoadFactsForRunRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runID, _ := s.BeginRun(ctx, "acme-corp", "hash123")

	key := types.NewCompositeKey(types.KindLogin, "PROD1", "MSSQLSERVER", "rogue_admin")
	fact := types.Fact{
		RunID: runID, EntityKind: types.KindLogin, CompositeKey: key, RowUUID: "ab12cd34",
		Attributes: map[string]string{"name": "rogue_admin", "is_disabled": "false"}, Status: types.StatusFail,
		RuleID: "LOGIN-001", RiskLevel: types.RiskHigh, CollectedAt: time.Now(),
	}
	if err := s.RecordFacts(ctx, []types.Fact{fact}); err != nil {
		t.Fatalf("RecordFacts() error = %v", err)
	}

	facts, err := s.LoadFactsForRun(ctx, runID)
	if err != nil {
		t.Fatalf("LoadFactsForRun() error = %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("len(facts) = %d, want 1", len(facts))
	}
	if facts[0].Status != types.StatusFail {
		t.Errorf("status = %v, want FAIL", facts[0].Status)
	}
	if facts[0].Attributes["name"] != "rogue_admin" {
		t.Errorf("attributes round-trip failed: %+v", facts[0].Attributes)
	}
}

func TestUpsertAnnotationWritesHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := types.NewCompositeKey(types.KindLogin, "PROD1", "MSSQLSERVER", "rogue_admin")

	_, err := s.UpsertAnnotation(ctx, "ab12cd34", key, types.Annotation{
		Justification: "approved by CISO 2025-12-01",
		ReviewStatus:  types.ReviewException,
	})
	if err != nil {
		t.Fatalf("UpsertAnnotation() error = %v", err)
	}

	ann, found, err := s.LoadAnnotationByUUID(ctx, "ab12cd34")
	if err != nil {
		t.Fatalf("LoadAnnotationByUUID() error = %v", err)
	}
	if !found {
		t.Fatal("expected annotation to be found")
	}
	if ann.ReviewStatus != types.ReviewException {
		t.Errorf("review_status = %v, want Exception", ann.ReviewStatus)
	}

	// Update again; prior value should be captured in annotation_history.
	prior, err := s.UpsertAnnotation(ctx, "ab12cd34", key, types.Annotation{})
	if err != nil {
		t.Fatalf("second UpsertAnnotation() error = %v", err)
	}
	if prior.ReviewStatus != types.ReviewException {
		t.Errorf("prior.ReviewStatus = %v, want Exception (the value before this call)", prior.ReviewStatus)
	}
	ann, _, _ = s.LoadAnnotationByUUID(ctx, "ab12cd34")
	if ann.ReviewStatus != types.ReviewNone {
		t.Errorf("review_status after clearing = %v, want empty", ann.ReviewStatus)
	}

	var historyCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM annotation_history WHERE row_uuid = ?`, "ab12cd34").Scan(&historyCount); err != nil {
		t.Fatalf("querying annotation_history: %v", err)
	}
	if historyCount != 2 {
		t.Errorf("annotation_history rows = %d, want 2", historyCount)
	}
}

func TestRecordActionDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runID, _ := s.BeginRun(ctx, "acme-corp", "hash123")
	key := types.NewCompositeKey(types.KindLogin, "PROD1", "MSSQLSERVER", "rogue_admin")

	action := types.Action{
		EntityKind: types.KindLogin, RowUUID: "ab12cd34", CompositeKey: key,
		ChangeType: types.ChangeExceptionAdded, RiskLevel: types.RiskHigh,
		Description: "exception added", DetectedAt: time.Now(), SyncRunID: runID,
	}

	if _, err := s.RecordAction(ctx, action); err != nil {
		t.Fatalf("first RecordAction() error = %v", err)
	}
	if _, err := s.RecordAction(ctx, action); err == nil {
		t.Fatal("expected dedup conflict on second identical action")
	}

	actions, err := s.ActionsForSyncRun(ctx, runID)
	if err != nil {
		t.Fatalf("ActionsForSyncRun() error = %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("len(actions) = %d, want 1", len(actions))
	}
}

func TestUUIDExistsAndExistingUUIDForKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runID, _ := s.BeginRun(ctx, "acme-corp", "hash123")
	key := types.NewCompositeKey(types.KindLogin, "PROD1", "MSSQLSERVER", "rogue_admin")

	exists, err := s.UUIDExists(ctx, "ab12cd34")
	if err != nil {
		t.Fatalf("UUIDExists() error = %v", err)
	}
	if exists {
		t.Fatal("expected uuid to not exist yet")
	}

	fact := types.Fact{
		RunID: runID, EntityKind: types.KindLogin, CompositeKey: key, RowUUID: "ab12cd34",
		Attributes: map[string]string{}, Status: types.StatusFail,
		RuleID: "LOGIN-001", RiskLevel: types.RiskHigh, CollectedAt: time.Now(),
	}
	if err := s.RecordFacts(ctx, []types.Fact{fact}); err != nil {
		t.Fatalf("RecordFacts() error = %v", err)
	}

	exists, err = s.UUIDExists(ctx, "ab12cd34")
	if err != nil {
		t.Fatalf("UUIDExists() error = %v", err)
	}
	if !exists {
		t.Fatal("expected uuid to exist after recording a fact")
	}

	uuid, found, err := s.ExistingUUIDForKey(ctx, key)
	if err != nil {
		t.Fatalf("ExistingUUIDForKey() error = %v", err)
	}
	if !found || uuid != "ab12cd34" {
		t.Errorf("ExistingUUIDForKey() = %q, %v, want ab12cd34, true", uuid, found)
	}
}

func TestRunsLeftRunningDetectsCrash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runID, _ := s.BeginRun(ctx, "acme-corp", "hash123")

	running, err := s.RunsLeftRunning(ctx)
	if err != nil {
		t.Fatalf("RunsLeftRunning() error = %v", err)
	}
	if len(running) != 1 || running[0] != runID {
		t.Errorf("RunsLeftRunning() = %v, want [%d]", running, runID)
	}

	if err := s.CompleteRun(ctx, runID, types.RunCompleted); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}
	running, err = s.RunsLeftRunning(ctx)
	if err != nil {
		t.Fatalf("RunsLeftRunning() error = %v", err)
	}
	if len(running) != 0 {
		t.Errorf("RunsLeftRunning() after completion = %v, want empty", running)
	}
}

func TestOpenTwiceFailsOnLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s1, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	defer s1.Close()

	_, err = Open(context.Background(), path)
	if err == nil {
		t.Fatal("expected second Open() to fail while the first holds the lock")
	}
}

package stats

import (
	"testing"

	"github.com/autodbaudit/autodbaudit/internal/types"
)

func TestFromFactsCountsByStatus(t *testing.T) {
	facts := []types.Fact{
		{RowUUID: "a", Status: types.StatusFail, EntityKind: types.KindLogin},
		{RowUUID: "b", Status: types.StatusPass, EntityKind: types.KindLogin},
		{RowUUID: "c", Status: types.StatusFail, EntityKind: types.KindLogin},
		{RowUUID: "d", Status: types.StatusInfo, EntityKind: types.KindInstance},
	}
	annotations := map[string]types.Annotation{
		"c": {Justification: "approved", ReviewStatus: types.ReviewException},
	}

	got := FromFacts(facts, annotations)
	if got.TotalFindings != 3 {
		t.Errorf("TotalFindings = %d, want 3 (instance kind is informational-only)", got.TotalFindings)
	}
	if got.ActiveIssues != 1 {
		t.Errorf("ActiveIssues = %d, want 1", got.ActiveIssues)
	}
	if got.DocumentedExceptions != 1 {
		t.Errorf("DocumentedExceptions = %d, want 1", got.DocumentedExceptions)
	}
	if got.CompliantItems != 1 {
		t.Errorf("CompliantItems = %d, want 1", got.CompliantItems)
	}
}

func TestWithActionsCountsByChangeType(t *testing.T) {
	snap := Snapshot{}
	actions := []types.Action{
		{ChangeType: types.ChangeNewIssue},
		{ChangeType: types.ChangeNewIssue},
		{ChangeType: types.ChangeFixed},
	}
	snap = snap.WithActions(actions)
	if snap.ByChangeType[types.ChangeNewIssue] != 2 {
		t.Errorf("ByChangeType[NEW_ISSUE] = %d, want 2", snap.ByChangeType[types.ChangeNewIssue])
	}
	if snap.ByChangeType[types.ChangeFixed] != 1 {
		t.Errorf("ByChangeType[FIXED] = %d, want 1", snap.ByChangeType[types.ChangeFixed])
	}
}

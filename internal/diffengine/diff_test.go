package diffengine

import (
	"testing"

	"github.com/autodbaudit/autodbaudit/internal/types"
)

func fact(uuid string, kind types.EntityKind, status types.Status) types.Fact {
	return types.Fact{
		RowUUID:      uuid,
		EntityKind:   kind,
		CompositeKey: types.NewCompositeKey(kind, "PROD1", "MSSQLSERVER", uuid),
		Status:       status,
	}
}

func TestDiffMatchesByUUID(t *testing.T) {
	baseline := []types.Fact{fact("ab12cd34", types.KindLogin, types.StatusFail)}
	current := []types.Fact{fact("ab12cd34", types.KindLogin, types.StatusPass)}

	transitions := Diff(baseline, current, nil)
	if len(transitions) != 1 {
		t.Fatalf("len(transitions) = %d, want 1", len(transitions))
	}
	tr := transitions[0]
	if tr.Baseline == nil || tr.Current == nil {
		t.Fatal("expected both baseline and current to be populated")
	}
	if tr.Baseline.Status != types.StatusFail || tr.Current.Status != types.StatusPass {
		t.Errorf("unexpected statuses: %+v", tr)
	}
}

func TestDiffNewEntityHasNilBaseline(t *testing.T) {
	current := []types.Fact{fact("ab12cd34", types.KindLogin, types.StatusFail)}
	transitions := Diff(nil, current, nil)
	if len(transitions) != 1 {
		t.Fatalf("len(transitions) = %d, want 1", len(transitions))
	}
	if transitions[0].Baseline != nil {
		t.Error("expected nil baseline for a brand-new entity")
	}
}

func TestDiffGoneEntityHasNilCurrent(t *testing.T) {
	baseline := []types.Fact{fact("ab12cd34", types.KindLogin, types.StatusFail)}
	transitions := Diff(baseline, nil, nil)
	if len(transitions) != 1 {
		t.Fatalf("len(transitions) = %d, want 1", len(transitions))
	}
	if transitions[0].Current != nil {
		t.Error("expected nil current for an entity absent this run")
	}
}

func TestDiffFallsBackToCompositeKeyWhenUUIDEmpty(t *testing.T) {
	baseline := []types.Fact{fact("", types.KindLogin, types.StatusFail)}
	current := []types.Fact{fact("", types.KindLogin, types.StatusPass)}
	// Give both the same composite key explicitly (fact() derives the key
	// from the uuid param, which is empty for both here, so they already
	// share a key).
	transitions := Diff(baseline, current, nil)
	if len(transitions) != 1 {
		t.Fatalf("len(transitions) = %d, want 1 (should match by composite key)", len(transitions))
	}
	if transitions[0].Baseline == nil || transitions[0].Current == nil {
		t.Fatal("expected composite-key fallback to join both sides")
	}
}

func TestDiffAttachesAnnotation(t *testing.T) {
	baseline := []types.Fact{fact("ab12cd34", types.KindLogin, types.StatusFail)}
	annotations := map[string]types.Annotation{
		"ab12cd34": {RowUUID: "ab12cd34", Justification: "approved"},
	}
	transitions := Diff(baseline, nil, annotations)
	if transitions[0].Annotation == nil {
		t.Fatal("expected annotation to be attached")
	}
	if transitions[0].Annotation.Justification != "approved" {
		t.Errorf("justification = %q, want approved", transitions[0].Annotation.Justification)
	}
}

package identity

import (
	"context"
	"testing"
	"time"

	"github.com/autodbaudit/autodbaudit/internal/types"
)

type fakeLookup struct {
	existing map[string]string // composite key canonical -> uuid
	taken    map[string]bool
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{existing: map[string]string{}, taken: map[string]bool{}}
}

func (f *fakeLookup) UUIDExists(ctx context.Context, uuid string) (bool, error) {
	return f.taken[uuid], nil
}

func (f *fakeLookup) ExistingUUIDForKey(ctx context.Context, key types.CompositeKey) (string, bool, error) {
	uuid, found := f.existing[key.Canonical()]
	return uuid, found, nil
}

func TestMintForNewEntityDeterministic(t *testing.T) {
	lookup := newFakeLookup()
	svc := New(lookup, DefaultOptions())
	key := types.NewCompositeKey(types.KindLogin, "PROD1", "MSSQLSERVER", "rogue_admin")
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	uuid, err := svc.MintForNewEntity(context.Background(), key, ts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uuid == "" {
		t.Fatal("expected non-empty uuid")
	}
}

func TestMintForNewEntityCollisionRetries(t *testing.T) {
	lookup := newFakeLookup()
	key := types.NewCompositeKey(types.KindLogin, "PROD1", "MSSQLSERVER", "rogue_admin")
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	svc := New(lookup, DefaultOptions())
	first, err := svc.MintForNewEntity(context.Background(), key, ts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lookup.taken[first] = true

	second, err := svc.MintForNewEntity(context.Background(), key, ts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second == first {
		t.Fatal("expected a different uuid once the first was marked taken")
	}
}

func TestResolveUUIDContinuingEntityReusesExisting(t *testing.T) {
	lookup := newFakeLookup()
	key := types.NewCompositeKey(types.KindLogin, "PROD1", "MSSQLSERVER", "rogue_admin")
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lookup.existing[key.Canonical()] = "deadbeef"

	// Even with the default (no-reuse-on-resurface) options, a continuing
	// entity must reuse its prior uuid every run, or diffengine.Diff would
	// see every unchanged row as simultaneously GONE and NEW_ISSUE.
	svc := New(lookup, DefaultOptions())
	uuid, err := svc.ResolveUUID(context.Background(), key, ts, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uuid != "deadbeef" {
		t.Fatalf("uuid = %q, want reused deadbeef for a continuing entity", uuid)
	}

	// A second run, a third run: must keep reusing the same uuid.
	uuid2, err := svc.ResolveUUID(context.Background(), key, ts, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uuid2 != "deadbeef" {
		t.Fatalf("uuid = %q, want stable deadbeef across repeated syncs", uuid2)
	}
}

func TestResolveUUIDNotContinuingHonorsResurfaceOption(t *testing.T) {
	lookup := newFakeLookup()
	key := types.NewCompositeKey(types.KindLogin, "PROD1", "MSSQLSERVER", "rogue_admin")
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lookup.existing[key.Canonical()] = "deadbeef"

	svc := New(lookup, DefaultOptions()) // ReuseUUIDOnResurface: false
	uuid, err := svc.ResolveUUID(context.Background(), key, ts, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uuid == "deadbeef" {
		t.Fatal("expected a freshly minted uuid for a resurfacing entity when ReuseUUIDOnResurface is false")
	}
}

func TestResolveReportUUIDEmptyRegenerates(t *testing.T) {
	lookup := newFakeLookup()
	svc := New(lookup, DefaultOptions())
	key := types.NewCompositeKey(types.KindLogin, "PROD1", "MSSQLSERVER", "rogue_admin")
	ts := time.Now()

	uuid, warn, reason, err := svc.ResolveReportUUID(context.Background(), "", key, ts, map[string]bool{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !warn {
		t.Fatal("expected a warning for empty uuid")
	}
	if uuid == "" {
		t.Fatal("expected a regenerated uuid")
	}
	if reason == "" {
		t.Fatal("expected a warning reason")
	}
}

func TestResolveReportUUIDDuplicateInSheetKeepsFirst(t *testing.T) {
	lookup := newFakeLookup()
	svc := New(lookup, DefaultOptions())
	key := types.NewCompositeKey(types.KindLogin, "PROD1", "MSSQLSERVER", "rogue_admin")
	ts := time.Now()
	seen := map[string]bool{"ab12cd34": true}

	uuid, warn, _, err := svc.ResolveReportUUID(context.Background(), "AB12CD34", key, ts, seen)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !warn {
		t.Fatal("expected a warning for the duplicate occurrence")
	}
	if uuid == "ab12cd34" {
		t.Fatal("expected the second occurrence to be regenerated, not kept")
	}
}

func TestResolveReportUUIDValidPassesThrough(t *testing.T) {
	lookup := newFakeLookup()
	svc := New(lookup, DefaultOptions())
	key := types.NewCompositeKey(types.KindLogin, "PROD1", "MSSQLSERVER", "rogue_admin")

	uuid, warn, _, err := svc.ResolveReportUUID(context.Background(), "AB12CD34", key, time.Now(), map[string]bool{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if warn {
		t.Fatal("did not expect a warning for a valid, unique uuid")
	}
	if uuid != "ab12cd34" {
		t.Errorf("uuid = %q, want normalized ab12cd34", uuid)
	}
}

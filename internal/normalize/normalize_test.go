package normalize

import (
	"testing"
	"time"

	"github.com/autodbaudit/autodbaudit/internal/rules"
	"github.com/autodbaudit/autodbaudit/internal/types"
)

func TestStripIcon(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"🔌 CONNECT", "CONNECT"},
		{"CONNECT", "CONNECT"},
		{"  CONNECT", "CONNECT"},
		{"⚠️FAIL", "FAIL"},
	}
	for _, tt := range tests {
		if got := StripIcon(tt.in); got != tt.want {
			t.Errorf("StripIcon(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeBuildsKeyAndEvaluatesStatus(t *testing.T) {
	catalog := rules.DefaultCatalog()
	n := New(catalog)

	row := RawRow{"name": "sa", "is_disabled": false}
	fact, err := n.Normalize(1, "PROD1", "MSSQLSERVER", "SA-001", row, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fact.Status != types.StatusFail {
		t.Errorf("status = %v, want FAIL", fact.Status)
	}
	if fact.EntityKind != types.KindSAAccount {
		t.Errorf("kind = %v, want sa_account", fact.EntityKind)
	}
	if fact.CompositeKey.N != 2 {
		t.Errorf("composite key parts = %d, want 2 (server, instance)", fact.CompositeKey.N)
	}
}

func TestNormalizePreservesNullVsEmptyDistinction(t *testing.T) {
	catalog := rules.DefaultCatalog()
	n := New(catalog)

	row := RawRow{"name": "public", "is_disabled": nil}
	fact, err := n.Normalize(1, "PROD1", "MSSQLSERVER", "TRIGGER-001", row, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := fact.Attributes["is_disabled"]; ok {
		t.Error("expected a NULL column to be omitted from attributes entirely")
	}
	if v, ok := fact.Attributes["name"]; !ok || v != "public" {
		t.Errorf("expected name attribute to be present, got %q, %v", v, ok)
	}
}

func TestNormalizeIconStrippedPermissionKey(t *testing.T) {
	catalog := rules.DefaultCatalog()
	n := New(catalog)

	row := RawRow{
		"scope": "DATABASE", "database_name": "AppDB", "grantee": "public",
		"permission_name": "CONNECT", "state": "GRANT", "entity_name": "🔌 CONNECT",
	}
	fact, err := n.Normalize(1, "PROD1", "MSSQLSERVER", "PERM-PUBLIC", row, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fact.CompositeKey.Parts[7] != "CONNECT" {
		t.Errorf("entity_name key part = %q, want icon-stripped CONNECT", fact.CompositeKey.Parts[7])
	}
}

func TestNormalizeUnknownRuleErrors(t *testing.T) {
	n := New(rules.DefaultCatalog())
	if _, err := n.Normalize(1, "PROD1", "MSSQLSERVER", "NOT-A-RULE", RawRow{}, time.Now()); err == nil {
		t.Fatal("expected error for unknown rule id")
	}
}

func TestInformationalKindAlwaysInfo(t *testing.T) {
	n := New(rules.DefaultCatalog())
	fact, err := n.Normalize(1, "PROD1", "MSSQLSERVER", "INSTANCE-INFO", RawRow{"product_version": "16.0"}, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fact.Status != types.StatusInfo {
		t.Errorf("status = %v, want INFO", fact.Status)
	}
}

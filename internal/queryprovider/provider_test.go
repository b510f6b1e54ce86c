package queryprovider

import "testing"

func TestDefaultRegistrySelectsByVersion(t *testing.T) {
	r := NewDefaultRegistry()

	p, err := r.ProviderFor(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "sql2008" {
		t.Errorf("version 10 resolved to %q, want sql2008", p.Name())
	}

	p, err = r.ProviderFor(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "sql2019plus" {
		t.Errorf("version 16 resolved to %q, want sql2019plus", p.Name())
	}
}

func TestDefaultRegistryUnknownVersion(t *testing.T) {
	r := NewDefaultRegistry()
	if _, err := r.ProviderFor(9); err == nil {
		t.Fatal("expected error for version below the supported floor")
	}
}

func TestGetQueryConvenience(t *testing.T) {
	r := NewDefaultRegistry()
	q, err := r.GetQuery("SA-001", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q == "" {
		t.Fatal("expected non-empty query text")
	}
}

func TestGetQueryUnknownRule(t *testing.T) {
	r := NewDefaultRegistry()
	if _, err := r.GetQuery("NOT-A-RULE", 10); err == nil {
		t.Fatal("expected error for unknown rule id")
	}
}

func TestSql2019PlusProviderFallsThroughToBaseline(t *testing.T) {
	p := Sql2019PlusProvider()
	// SVC-001 has no 2019+ override; it should still resolve from the
	// 2008 baseline.
	q, err := p.GetQuery("SVC-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q == "" {
		t.Fatal("expected fallback query text")
	}
}

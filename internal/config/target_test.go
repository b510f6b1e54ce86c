package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
organization: acme-corp
targets:
  - server: PROD1
`)
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if doc.Sync.MaxParallelTargets != DefaultMaxParallelTargets {
		t.Errorf("MaxParallelTargets = %d, want %d", doc.Sync.MaxParallelTargets, DefaultMaxParallelTargets)
	}
	target := doc.Targets[0]
	if target.Instance != "MSSQLSERVER" {
		t.Errorf("Instance = %q, want MSSQLSERVER", target.Instance)
	}
	if target.Port != 1433 {
		t.Errorf("Port = %d, want 1433", target.Port)
	}
	if target.Auth != AuthWindows {
		t.Errorf("Auth = %q, want windows", target.Auth)
	}
}

func TestLoadRejectsMissingOrganization(t *testing.T) {
	path := writeConfig(t, `
targets:
  - server: PROD1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing organization")
	}
}

func TestLoadRejectsSQLAuthWithoutCredentialRef(t *testing.T) {
	path := writeConfig(t, `
organization: acme-corp
targets:
  - server: PROD1
    auth: sql
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for sql auth without credential_ref")
	}
}

func TestLoadRejectsDuplicateTargets(t *testing.T) {
	path := writeConfig(t, `
organization: acme-corp
targets:
  - server: PROD1
    instance: MSSQLSERVER
  - server: PROD1
    instance: MSSQLSERVER
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate target")
	}
}

func TestLoadRejectsNoTargets(t *testing.T) {
	path := writeConfig(t, `
organization: acme-corp
targets: []
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty target list")
	}
}

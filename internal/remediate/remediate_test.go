package remediate

import (
	"strings"
	"testing"

	"github.com/autodbaudit/autodbaudit/internal/types"
)

func configFinding(runValue string) Finding {
	return Finding{
		Fact: types.Fact{
			RowUUID:      "abcd1234",
			EntityKind:   types.KindConfig,
			CompositeKey: types.NewCompositeKey(types.KindConfig, "PROD1", "MSSQLSERVER", "xp_cmdshell"),
			Status:       types.StatusFail,
			RiskLevel:    types.RiskLow,
			Attributes:   map[string]string{"name": "xp_cmdshell", "run_value": runValue, "config_value": "0"},
		},
	}
}

func TestGenerateActivatesLowRiskConfigAtModerate(t *testing.T) {
	scripts, err := Generate(AggressivenessModerate, "", true, []Finding{configFinding("1")})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(scripts) != 1 || scripts[0].Kind != "tsql" {
		t.Fatalf("expected one tsql script, got %+v", scripts)
	}
	if !scripts[0].Items[0].Activated {
		t.Error("expected low-risk config fix to auto-activate at moderate aggressiveness")
	}
	if strings.Contains(scripts[0].Text, "--     EXEC sp_configure") {
		t.Error("activated fix should not be commented out")
	}
}

func TestGenerateCommentsOutAtConservative(t *testing.T) {
	scripts, err := Generate(AggressivenessConservative, "", true, []Finding{configFinding("1")})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if scripts[0].Items[0].Activated {
		t.Error("nothing should auto-activate at conservative aggressiveness")
	}
	if !strings.Contains(scripts[0].Text, "--     EXEC sp_configure") {
		t.Errorf("expected commented-out fix body, got: %s", scripts[0].Text)
	}
}

func TestGenerateSkipsDocumentedException(t *testing.T) {
	f := configFinding("1")
	f.Annotation = &types.Annotation{Justification: "approved", ReviewStatus: types.ReviewException}
	scripts, err := Generate(AggressivenessAggressive, "", true, []Finding{f})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	item := scripts[0].Items[0]
	if item.Activated {
		t.Error("documented exception must never activate, even at aggressive")
	}
	if item.SkippedReason != "documented exception" {
		t.Errorf("SkippedReason = %q", item.SkippedReason)
	}
}

func TestGenerateSkipsConnectingIdentity(t *testing.T) {
	f := Finding{
		Fact: types.Fact{
			RowUUID:      "ef567890",
			EntityKind:   types.KindLogin,
			CompositeKey: types.NewCompositeKey(types.KindLogin, "PROD1", "MSSQLSERVER", "svc_audit"),
			Status:       types.StatusFail,
			RiskLevel:    types.RiskHigh,
			Attributes:   map[string]string{"name": "svc_audit"},
		},
	}
	scripts, err := Generate(AggressivenessAggressive, "svc_audit", true, []Finding{f})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	item := scripts[0].Items[0]
	if item.Activated {
		t.Error("a fix targeting the connecting identity must never activate")
	}
	if !strings.Contains(item.SkippedReason, "connecting identity") {
		t.Errorf("SkippedReason = %q, want mention of connecting identity", item.SkippedReason)
	}
}

func TestGeneratePassFactsAreSkipped(t *testing.T) {
	f := configFinding("1")
	f.Fact.Status = types.StatusPass
	scripts, err := Generate(AggressivenessAggressive, "", true, []Finding{f})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(scripts) != 0 {
		t.Errorf("expected no scripts for a passing fact, got %+v", scripts)
	}
}

func TestGenerateNonWindowsHostEmitsManualPlaceholder(t *testing.T) {
	f := Finding{
		Fact: types.Fact{
			RowUUID:      "77889900",
			EntityKind:   types.KindService,
			CompositeKey: types.NewCompositeKey(types.KindService, "PROD1", "MSSQLSERVER", "MSSQLSERVER"),
			Status:       types.StatusFail,
			RiskLevel:    types.RiskLow,
			Attributes:   map[string]string{"service_name": "MSSQLSERVER", "start_account": "LocalSystem"},
		},
	}
	scripts, err := Generate(AggressivenessAggressive, "", false, []Finding{f})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	item := scripts[0].Items[0]
	if item.Activated {
		t.Error("a non-Windows OS fix must never auto-activate")
	}
	if !strings.Contains(scripts[0].Text, "MANUAL ACTION REQUIRED") {
		t.Errorf("expected manual action placeholder, got: %s", scripts[0].Text)
	}
}

func TestGenerateUnknownKindIsSkipped(t *testing.T) {
	f := Finding{
		Fact: types.Fact{
			RowUUID:      "aa112233",
			EntityKind:   types.KindTrigger,
			CompositeKey: types.NewCompositeKey(types.KindTrigger, "PROD1", "MSSQLSERVER", "trg_audit"),
			Status:       types.StatusFail,
			RiskLevel:    types.RiskMedium,
			Attributes:   map[string]string{"name": "trg_audit"},
		},
	}
	scripts, err := Generate(AggressivenessAggressive, "", true, []Finding{f})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if scripts[0].Items[0].SkippedReason != "no remediation recipe for this entity kind" {
		t.Errorf("SkippedReason = %q", scripts[0].Items[0].SkippedReason)
	}
}

func TestAutoActivatesMatrix(t *testing.T) {
	if autoActivates(AggressivenessConservative, types.KindConfig, types.RiskLow) {
		t.Error("conservative should never auto-activate")
	}
	if !autoActivates(AggressivenessAggressive, types.KindSAAccount, types.RiskCritical) {
		t.Error("aggressive should activate everything")
	}
	if autoActivates(AggressivenessModerate, types.KindSAAccount, types.RiskLow) {
		t.Error("sa_account should never auto-activate at moderate, even low risk")
	}
	if !autoActivates(AggressivenessModerate, types.KindConfig, types.RiskMedium) {
		t.Error("config/medium should auto-activate at moderate per the matrix")
	}
}

package annotate

import (
	"testing"

	"github.com/autodbaudit/autodbaudit/internal/types"
)

func TestIndicatorForException(t *testing.T) {
	row := ReportRow{
		Fact:       types.Fact{Status: types.StatusFail},
		Annotation: &types.Annotation{Justification: "approved", ReviewStatus: types.ReviewException},
	}
	if got := indicatorFor(row); got != "⚠" {
		t.Errorf("indicatorFor() = %q, want exception glyph", got)
	}
}

func TestIndicatorForNewIssue(t *testing.T) {
	row := ReportRow{
		Fact:       types.Fact{Status: types.StatusFail},
		ChangeType: types.ChangeNewIssue,
	}
	if got := indicatorFor(row); got != "✖" {
		t.Errorf("indicatorFor() = %q, want fail glyph", got)
	}
}

func TestIndicatorForFixed(t *testing.T) {
	row := ReportRow{
		Fact:       types.Fact{Status: types.StatusPass},
		ChangeType: types.ChangeFixed,
	}
	if got := indicatorFor(row); got != "✔" {
		t.Errorf("indicatorFor() = %q, want fixed glyph", got)
	}
}

func TestIndicatorForPassingRowIsBlank(t *testing.T) {
	row := ReportRow{Fact: types.Fact{Status: types.StatusPass}}
	if got := indicatorFor(row); got != "" {
		t.Errorf("indicatorFor() = %q, want empty", got)
	}
}

func TestIndicatorForPassWithStaleJustificationIsNotException(t *testing.T) {
	// A PASS row carrying a leftover justification (documentation only,
	// per the PASS+exception storage rule) must not render as an
	// exception indicator.
	row := ReportRow{
		Fact:       types.Fact{Status: types.StatusPass},
		Annotation: &types.Annotation{Justification: "approved by CISO", ReviewStatus: types.ReviewNone},
	}
	if got := indicatorFor(row); got != "" {
		t.Errorf("indicatorFor() = %q, want empty for a documented-but-passing row", got)
	}
}

func TestKeyColumnHeaders(t *testing.T) {
	key := types.NewCompositeKey(types.KindLogin, "PROD1", "MSSQLSERVER", "rogue_admin")
	headers := keyColumnHeaders(key)
	if len(headers) != 3 {
		t.Fatalf("len(headers) = %d, want 3", len(headers))
	}
	if headers[0] != "Key1" {
		t.Errorf("headers[0] = %q, want Key1", headers[0])
	}
}

func TestReviewStatusFromAcceptsCaseInsensitiveException(t *testing.T) {
	if reviewStatusFrom("exception") != types.ReviewException {
		t.Error("expected lowercase 'exception' to parse as ReviewException")
	}
	if reviewStatusFrom("") != types.ReviewNone {
		t.Error("expected empty string to parse as ReviewNone")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "", "c"); got != "c" {
		t.Errorf("firstNonEmpty() = %q, want c", got)
	}
	if got := firstNonEmpty(); got != "" {
		t.Errorf("firstNonEmpty() with no args = %q, want empty", got)
	}
}

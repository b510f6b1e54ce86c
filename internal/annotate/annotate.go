// Package annotate implements the Annotation Reader/Writer: it turns an
// operator-edited report workbook into AnnotationDelta values the Sync
// Orchestrator persists, and renders the history projection back into a
// workbook with a hidden UUID column, locked key columns, and an
// indicator glyph per row.
package annotate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tealeg/xlsx"

	"github.com/autodbaudit/autodbaudit/internal/errs"
	"github.com/autodbaudit/autodbaudit/internal/identity"
	"github.com/autodbaudit/autodbaudit/internal/normalize"
	"github.com/autodbaudit/autodbaudit/internal/types"
)

// Column layout shared by every data sheet. The UUID column is always
// first and always hidden; key columns are locked; the remaining
// columns are operator-editable.
const (
	colUUID = iota
	colIndicator
	colFirstKey
)

// editableHeaders names the columns the reader looks for by header text,
// independent of position, so column reordering by the operator (Excel
// lets users drag columns) does not break round-tripping.
var editableHeaders = struct {
	ReviewStatus  string
	Justification string
	LastReviewed  string
	LastRevised   string
	Notes         string
}{
	ReviewStatus:  "Review Status",
	Justification: "Justification",
	LastReviewed:  "Last Reviewed",
	LastRevised:   "Last Revised",
	Notes:         "Notes",
}

// AnnotationDelta is one operator edit read back from a report sheet,
// keyed by row UUID (falling back to composite key only when the UUID
// cell was empty and the Identity Service regenerated one).
type AnnotationDelta struct {
	RowUUID      string
	CompositeKey types.CompositeKey
	Fields       types.Annotation
	Warning      string // non-empty if ResolveReportUUID flagged an anomaly
}

// KeyBuilder rebuilds a CompositeKey from a data row's key columns,
// mirroring normalize.KeyBuilder's per-kind shape so the reader can
// match rows back to a kind even though the workbook stores keys as
// plain display strings.
type KeyBuilder = normalize.KeyBuilder

// ReadReport parses every kind's sheet in an operator-edited workbook,
// resolving anomalies (empty/duplicate UUID cells) through svc, and
// returns one AnnotationDelta per data row.
func ReadReport(ctx context.Context, path string, kinds []types.EntityKind, builders map[types.EntityKind]KeyBuilder, svc *identity.Service, now time.Time) ([]AnnotationDelta, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, errs.Wrap("annotate: open report", err)
	}

	var out []AnnotationDelta
	for _, kind := range kinds {
		sheet, ok := wb.Sheet[string(kind)]
		if !ok {
			continue
		}
		build, ok := builders[kind]
		if !ok {
			return nil, fmt.Errorf("annotate: %w: no key builder for kind %s", errs.ErrAnnotationParse, kind)
		}

		deltas, err := readSheet(ctx, sheet, kind, build, svc, now)
		if err != nil {
			return nil, err
		}
		out = append(out, deltas...)
	}
	return out, nil
}

func readSheet(ctx context.Context, sheet *xlsx.Sheet, kind types.EntityKind, build KeyBuilder, svc *identity.Service, now time.Time) ([]AnnotationDelta, error) {
	if len(sheet.Rows) == 0 {
		return nil, nil
	}
	header := indexHeader(sheet.Rows[0])

	var out []AnnotationDelta
	seenThisSheet := make(map[string]bool)

	for _, row := range sheet.Rows[1:] {
		if isBlankRow(row) {
			continue
		}
		rawUUID := cellAt(row, colUUID)
		server := headerCell(row, header, "Server")
		instance := headerCell(row, header, "Instance")
		key := build(server, instance, rowToRawRow(row, header))

		uuid, warn, warnReason, err := svc.ResolveReportUUID(ctx, rawUUID, key, now, seenThisSheet)
		if err != nil {
			return nil, fmt.Errorf("annotate: %w: %w", errs.ErrAnnotationParse, err)
		}

		fields := types.Annotation{
			RowUUID:       uuid,
			CompositeKey:  key,
			Purpose:       headerCell(row, header, editableHeaders.Notes),
			Justification: headerCell(row, header, editableHeaders.Justification),
			ReviewStatus:  reviewStatusFrom(headerCell(row, header, editableHeaders.ReviewStatus)),
			Indicator:     cellAt(row, colIndicator),
		}
		if reviewed := firstNonEmpty(headerCell(row, header, editableHeaders.LastReviewed), headerCell(row, header, editableHeaders.LastRevised)); reviewed != "" {
			if t, err := time.Parse("2006-01-02", reviewed); err == nil {
				fields.LastReviewed = &t
			}
		}

		delta := AnnotationDelta{RowUUID: uuid, CompositeKey: key, Fields: fields}
		if warn {
			delta.Warning = warnReason
		}
		out = append(out, delta)
	}
	return out, nil
}

func reviewStatusFrom(s string) types.ReviewStatus {
	if strings.EqualFold(strings.TrimSpace(s), "Exception") {
		return types.ReviewException
	}
	return types.ReviewNone
}

func indexHeader(row *xlsx.Row) map[string]int {
	idx := make(map[string]int, len(row.Cells))
	for i, c := range row.Cells {
		idx[strings.TrimSpace(c.Value)] = i
	}
	return idx
}

func headerCell(row *xlsx.Row, header map[string]int, name string) string {
	i, ok := header[name]
	if !ok || i >= len(row.Cells) {
		return ""
	}
	return row.Cells[i].Value
}

func cellAt(row *xlsx.Row, i int) string {
	if i >= len(row.Cells) {
		return ""
	}
	return row.Cells[i].Value
}

func rowToRawRow(row *xlsx.Row, header map[string]int) normalize.RawRow {
	raw := make(normalize.RawRow, len(header))
	for name, i := range header {
		if i < len(row.Cells) {
			raw[name] = normalize.StripIcon(row.Cells[i].Value)
		}
	}
	return raw
}

func isBlankRow(row *xlsx.Row) bool {
	for _, c := range row.Cells {
		if strings.TrimSpace(c.Value) != "" {
			return false
		}
	}
	return true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

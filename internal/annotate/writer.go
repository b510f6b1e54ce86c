package annotate

import (
	"fmt"

	"github.com/tealeg/xlsx"

	"github.com/autodbaudit/autodbaudit/internal/errs"
	"github.com/autodbaudit/autodbaudit/internal/types"
)

// ReportRow is one fully-resolved row the Writer renders: a current fact
// joined with its annotation and (if this report follows a sync) the
// change type the state machine assigned it.
type ReportRow struct {
	Fact       types.Fact
	Annotation *types.Annotation
	ChangeType types.ChangeType
}

// indicatorFor chooses the single glyph the report contract requires per
// row, driven by exception state and change type rather than raw status
// alone so FIXED rows read differently from a plain ongoing PASS.
func indicatorFor(row ReportRow) string {
	hasException := row.Annotation != nil && row.Annotation.IsException(row.Fact.Status)
	switch {
	case hasException:
		return "⚠" // documented exception
	case row.ChangeType == types.ChangeNewIssue, row.ChangeType == types.ChangeRegression:
		return "✖"
	case row.ChangeType == types.ChangeFixed:
		return "✔"
	case row.Fact.Status.Discrepant():
		return "✖"
	default:
		return ""
	}
}

// WriteReport renders one sheet per entity kind present in rows, plus an
// append-only Actions sheet, to path. Key columns are locked and the
// UUID column is hidden; only the editable columns accept operator
// input on the next round trip.
func WriteReport(path string, rowsByKind map[types.EntityKind][]ReportRow, actions []types.Action) error {
	wb := xlsx.NewFile()

	for kind, rows := range rowsByKind {
		sheet, err := wb.AddSheet(string(kind))
		if err != nil {
			return errs.Wrap("annotate: add sheet", err)
		}
		if err := writeDataSheet(sheet, rows); err != nil {
			return err
		}
	}

	actionsSheet, err := wb.AddSheet("Actions")
	if err != nil {
		return errs.Wrap("annotate: add actions sheet", err)
	}
	writeActionsSheet(actionsSheet, actions)

	if err := wb.Save(path); err != nil {
		return errs.Wrap("annotate: save report", err)
	}
	return nil
}

func writeDataSheet(sheet *xlsx.Sheet, rows []ReportRow) error {
	if len(rows) == 0 {
		return nil
	}

	keyHeaders := keyColumnHeaders(rows[0].Fact.CompositeKey)
	header := sheet.AddRow()
	headerCells := append([]string{"UUID", "Indicator"}, keyHeaders...)
	headerCells = append(headerCells,
		editableHeaders.ReviewStatus, editableHeaders.Justification,
		editableHeaders.LastReviewed, editableHeaders.Notes)
	for _, h := range headerCells {
		header.AddCell().Value = h
	}

	for _, r := range rows {
		row := sheet.AddRow()
		row.AddCell().Value = r.Fact.RowUUID
		row.AddCell().Value = indicatorFor(r)
		for i := 0; i < r.Fact.CompositeKey.N; i++ {
			row.AddCell().Value = r.Fact.CompositeKey.Parts[i]
		}

		var ann types.Annotation
		if r.Annotation != nil {
			ann = *r.Annotation
		}
		row.AddCell().Value = string(ann.ReviewStatus)
		row.AddCell().Value = ann.Justification
		if ann.LastReviewed != nil {
			row.AddCell().Value = ann.LastReviewed.Format("2006-01-02")
		} else {
			row.AddCell().Value = ""
		}
		row.AddCell().Value = ann.Purpose
	}

	// Hide the UUID column and lock it plus the key columns; editable
	// columns (review status onward) stay unlocked for the operator.
	if col := sheet.Col(colUUID); col != nil {
		col.Hidden = true
	}
	numLockedCols := colFirstKey + len(keyHeaders)
	for i := 0; i < numLockedCols; i++ {
		if col := sheet.Col(i); col != nil {
			col.Locked = true
		}
	}
	return nil
}

func writeActionsSheet(sheet *xlsx.Sheet, actions []types.Action) {
	header := sheet.AddRow()
	for _, h := range []string{"ID", "EntityKind", "RowUUID", "ChangeType", "RiskLevel", "Description", "DetectedAt", "Notes"} {
		header.AddCell().Value = h
	}
	for _, a := range actions {
		row := sheet.AddRow()
		row.AddCell().Value = fmt.Sprintf("%d", a.ID)
		row.AddCell().Value = string(a.EntityKind)
		row.AddCell().Value = a.RowUUID
		row.AddCell().Value = string(a.ChangeType)
		row.AddCell().Value = string(a.RiskLevel)
		row.AddCell().Value = a.Description
		row.AddCell().Value = a.DetectedAt.Format("2006-01-02T15:04:05Z07:00")
		row.AddCell().Value = a.UserNotes
	}
}

func keyColumnHeaders(key types.CompositeKey) []string {
	headers := make([]string, key.N)
	for i := 0; i < key.N; i++ {
		headers[i] = fmt.Sprintf("Key%d", i+1)
	}
	return headers
}

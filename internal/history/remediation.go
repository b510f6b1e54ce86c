package history

import (
	"context"
	"time"

	"github.com/autodbaudit/autodbaudit/internal/errs"
	"github.com/autodbaudit/autodbaudit/internal/types"
)

// RecordRemediationRun snapshots a remediation run and its items inside a
// single transaction (RemediationRun/RemediationItem are used for
// rollback and auditability, so the snapshot must be all-or-nothing).
func (s *Store) RecordRemediationRun(ctx context.Context, sourceRunID int64, aggressiveness int, items []types.RemediationItem) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errs.Wrap("history: record_remediation_run: begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		INSERT INTO remediation_runs (source_run_id, aggressiveness, generated_at) VALUES (?, ?, ?)`,
		sourceRunID, aggressiveness, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, errs.Wrap("history: record_remediation_run: insert run", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, errs.Wrap("history: record_remediation_run: last insert id", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO remediation_items (remediation_run_id, entity_kind, row_uuid, composite_key, script_kind, pre_change_value, activated, skipped_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, errs.Wrap("history: record_remediation_run: prepare items", err)
	}
	defer stmt.Close()

	for _, item := range items {
		_, err := stmt.ExecContext(ctx, runID, item.EntityKind, item.RowUUID, item.CompositeKey.Canonical(),
			item.ScriptKind, item.PreChangeValue, item.Activated, item.SkippedReason)
		if err != nil {
			return 0, errs.Wrap("history: record_remediation_run: insert item", err)
		}
	}

	return runID, errs.Wrap("history: record_remediation_run: commit", tx.Commit())
}

// RemediationItemsForRun returns the items snapshotted under remediationRunID.
func (s *Store) RemediationItemsForRun(ctx context.Context, remediationRunID int64) ([]types.RemediationItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_kind, row_uuid, composite_key, script_kind, pre_change_value, activated, skipped_reason
		FROM remediation_items WHERE remediation_run_id = ? ORDER BY id`, remediationRunID)
	if err != nil {
		return nil, errs.Wrap("history: remediation_items_for_run", err)
	}
	defer rows.Close()

	var out []types.RemediationItem
	for rows.Next() {
		var item types.RemediationItem
		var compositeKeyStr string
		if err := rows.Scan(&item.ID, &item.EntityKind, &item.RowUUID, &compositeKeyStr, &item.ScriptKind,
			&item.PreChangeValue, &item.Activated, &item.SkippedReason); err != nil {
			return nil, errs.Wrap("history: remediation_items_for_run: scan", err)
		}
		item.CompositeKey = types.NewCompositeKey(item.EntityKind, compositeKeyStr)
		out = append(out, item)
	}
	return out, rows.Err()
}

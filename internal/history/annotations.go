package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/autodbaudit/autodbaudit/internal/errs"
	"github.com/autodbaudit/autodbaudit/internal/types"
)

// annotationHistoryEntry is the JSON shape written to annotation_history's
// prior_json/new_json columns — just enough to reconstruct what changed,
// without needing a dedicated struct-per-field diff.
type annotationHistoryEntry struct {
	Purpose       string  `json:"purpose"`
	Justification string  `json:"justification"`
	ReviewStatus  string  `json:"review_status"`
	LastReviewed  *string `json:"last_reviewed,omitempty"`
	Indicator     string  `json:"indicator"`
}

func toHistoryEntry(a types.Annotation) annotationHistoryEntry {
	e := annotationHistoryEntry{
		Purpose:       a.Purpose,
		Justification: a.Justification,
		ReviewStatus:  string(a.ReviewStatus),
		Indicator:     a.Indicator,
	}
	if a.LastReviewed != nil {
		s := a.LastReviewed.UTC().Format(time.RFC3339Nano)
		e.LastReviewed = &s
	}
	return e
}

// UpsertAnnotation merges operator fields into the annotation for rowUUID,
// creating it if absent, and writes a row to annotation_history capturing
// the prior and new values. This is the only way annotations
// are written outside of FixForward/apply-forward-effects in the sync
// orchestrator, which call it too.
func (s *Store) UpsertAnnotation(ctx context.Context, rowUUID string, key types.CompositeKey, fields types.Annotation) (types.Annotation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Annotation{}, errs.Wrap("history: upsert_annotation: begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	prior, found, err := loadAnnotationTx(ctx, tx, rowUUID)
	if err != nil {
		return types.Annotation{}, errs.Wrap("history: upsert_annotation: load prior", err)
	}

	merged := fields
	merged.RowUUID = rowUUID
	merged.CompositeKey = key

	priorJSON, err := json.Marshal(toHistoryEntry(prior))
	if err != nil {
		return types.Annotation{}, errs.Wrap("history: upsert_annotation: marshal prior", err)
	}
	newJSON, err := json.Marshal(toHistoryEntry(merged))
	if err != nil {
		return types.Annotation{}, errs.Wrap("history: upsert_annotation: marshal new", err)
	}

	var lastReviewed any
	if merged.LastReviewed != nil {
		lastReviewed = merged.LastReviewed.UTC().Format(time.RFC3339Nano)
	}

	if found {
		_, err = tx.ExecContext(ctx, `
			UPDATE annotations SET composite_key = ?, purpose = ?, justification = ?, review_status = ?, last_reviewed = ?, indicator = ?, orphaned = 0
			WHERE row_uuid = ?`,
			key.Canonical(), merged.Purpose, merged.Justification, merged.ReviewStatus, lastReviewed, merged.Indicator, rowUUID)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO annotations (row_uuid, composite_key, purpose, justification, review_status, last_reviewed, indicator, orphaned)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
			rowUUID, key.Canonical(), merged.Purpose, merged.Justification, merged.ReviewStatus, lastReviewed, merged.Indicator)
	}
	if err != nil {
		return types.Annotation{}, errs.Wrap("history: upsert_annotation: write", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO annotation_history (row_uuid, changed_at, prior_json, new_json) VALUES (?, ?, ?, ?)`,
		rowUUID, time.Now().UTC().Format(time.RFC3339Nano), string(priorJSON), string(newJSON))
	if err != nil {
		return types.Annotation{}, errs.Wrap("history: upsert_annotation: history", err)
	}

	if err := tx.Commit(); err != nil {
		return types.Annotation{}, errs.Wrap("history: upsert_annotation: commit", err)
	}
	return prior, nil
}

func loadAnnotationTx(ctx context.Context, tx *sql.Tx, rowUUID string) (types.Annotation, bool, error) {
	var a types.Annotation
	var compositeKeyStr string
	var lastReviewed sql.NullString
	var orphaned bool
	row := tx.QueryRowContext(ctx, `
		SELECT row_uuid, composite_key, purpose, justification, review_status, last_reviewed, indicator, orphaned
		FROM annotations WHERE row_uuid = ?`, rowUUID)
	err := row.Scan(&a.RowUUID, &compositeKeyStr, &a.Purpose, &a.Justification, &a.ReviewStatus, &lastReviewed, &a.Indicator, &orphaned)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Annotation{}, false, nil
	}
	if err != nil {
		return types.Annotation{}, false, err
	}
	if lastReviewed.Valid {
		t, _ := time.Parse(time.RFC3339Nano, lastReviewed.String)
		a.LastReviewed = &t
	}
	a.Orphaned = orphaned
	return a, true, nil
}

// LoadAnnotationByUUID returns the annotation for rowUUID, if any.
func (s *Store) LoadAnnotationByUUID(ctx context.Context, rowUUID string) (types.Annotation, bool, error) {
	var a types.Annotation
	var compositeKeyStr string
	var lastReviewed sql.NullString
	var orphaned bool
	row := s.db.QueryRowContext(ctx, `
		SELECT row_uuid, composite_key, purpose, justification, review_status, last_reviewed, indicator, orphaned
		FROM annotations WHERE row_uuid = ?`, rowUUID)
	err := row.Scan(&a.RowUUID, &compositeKeyStr, &a.Purpose, &a.Justification, &a.ReviewStatus, &lastReviewed, &a.Indicator, &orphaned)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Annotation{}, false, nil
	}
	if err != nil {
		return types.Annotation{}, false, errs.Wrap("history: load_annotation_by_uuid", err)
	}
	if lastReviewed.Valid {
		t, _ := time.Parse(time.RFC3339Nano, lastReviewed.String)
		a.LastReviewed = &t
	}
	a.Orphaned = orphaned
	return a, true, nil
}

// LoadAnnotationsByUUID returns every annotation in the store, keyed by
// row UUID — the full projection the Sync Orchestrator's classify phase
// reads after persistence.
func (s *Store) LoadAnnotationsByUUID(ctx context.Context) (map[string]types.Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT row_uuid, composite_key, purpose, justification, review_status, last_reviewed, indicator, orphaned
		FROM annotations`)
	if err != nil {
		return nil, errs.Wrap("history: load_annotations_by_uuid", err)
	}
	defer rows.Close()

	out := make(map[string]types.Annotation)
	for rows.Next() {
		var a types.Annotation
		var compositeKeyStr string
		var lastReviewed sql.NullString
		var orphaned bool
		if err := rows.Scan(&a.RowUUID, &compositeKeyStr, &a.Purpose, &a.Justification, &a.ReviewStatus, &lastReviewed, &a.Indicator, &orphaned); err != nil {
			return nil, errs.Wrap("history: load_annotations_by_uuid: scan", err)
		}
		if lastReviewed.Valid {
			t, _ := time.Parse(time.RFC3339Nano, lastReviewed.String)
			a.LastReviewed = &t
		}
		a.Orphaned = orphaned
		out[a.RowUUID] = a
	}
	return out, rows.Err()
}

// MarkOrphaned flags the annotation carrying rowUUID as orphaned. It does
// not itself check whether any fact still carries that UUID.
func (s *Store) MarkOrphaned(ctx context.Context, rowUUID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE annotations SET orphaned = 1 WHERE row_uuid = ?`, rowUUID)
	return errs.Wrap("history: mark_orphaned", err)
}

// RecordAction inserts action iff no action already exists for
// (row_uuid, change_type, sync_run_id); otherwise it inserts nothing and
// returns an error wrapping errs.ErrActionDedupConflict.
func (s *Store) RecordAction(ctx context.Context, a types.Action) (int64, error) {
	var userDateOverride any
	if a.UserDateOverride != nil {
		userDateOverride = a.UserDateOverride.UTC().Format(time.RFC3339Nano)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO actions
			(entity_kind, row_uuid, composite_key, change_type, risk_level, description, detected_at, user_date_override, user_notes, sync_run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.EntityKind, a.RowUUID, a.CompositeKey.Canonical(), a.ChangeType, a.RiskLevel, a.Description,
		a.DetectedAt.UTC().Format(time.RFC3339Nano), userDateOverride, a.UserNotes, a.SyncRunID)
	if err != nil {
		return 0, errs.Wrap("history: record_action", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.Wrap("history: record_action: rows affected", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("history: record_action: %w", errs.ErrActionDedupConflict)
	}
	return res.LastInsertId()
}

// ActionsForSyncRun returns every action recorded under syncRunID, in
// insertion order — used to populate the report's append-only Actions
// sheet.
func (s *Store) ActionsForSyncRun(ctx context.Context, syncRunID int64) ([]types.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_kind, row_uuid, composite_key, change_type, risk_level, description, detected_at, user_date_override, user_notes, sync_run_id
		FROM actions WHERE sync_run_id = ? ORDER BY id`, syncRunID)
	if err != nil {
		return nil, errs.Wrap("history: actions_for_sync_run", err)
	}
	defer rows.Close()

	var out []types.Action
	for rows.Next() {
		var a types.Action
		var compositeKeyStr, detectedAtStr string
		var userDateOverride sql.NullString
		if err := rows.Scan(&a.ID, &a.EntityKind, &a.RowUUID, &compositeKeyStr, &a.ChangeType, &a.RiskLevel, &a.Description,
			&detectedAtStr, &userDateOverride, &a.UserNotes, &a.SyncRunID); err != nil {
			return nil, errs.Wrap("history: actions_for_sync_run: scan", err)
		}
		a.DetectedAt, _ = time.Parse(time.RFC3339Nano, detectedAtStr)
		a.CompositeKey = types.NewCompositeKey(a.EntityKind, compositeKeyStr)
		if userDateOverride.Valid {
			t, _ := time.Parse(time.RFC3339Nano, userDateOverride.String)
			a.UserDateOverride = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UUIDExists implements identity.Lookup: reports whether uuid is assigned
// to any fact or annotation anywhere in the history.
func (s *Store) UUIDExists(ctx context.Context, uuid string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM facts WHERE row_uuid = ?)
		OR EXISTS(SELECT 1 FROM annotations WHERE row_uuid = ?)`, uuid, uuid).Scan(&exists)
	return exists, errs.Wrap("history: uuid_exists", err)
}

// ExistingUUIDForKey implements identity.Lookup: returns the UUID
// previously assigned to this composite key, if any fact has ever carried
// it. The most recent fact wins if the key's UUID somehow changed across
// runs (it should not, absent a bug).
func (s *Store) ExistingUUIDForKey(ctx context.Context, key types.CompositeKey) (string, bool, error) {
	var uuid string
	err := s.db.QueryRowContext(ctx, `
		SELECT row_uuid FROM facts WHERE composite_key = ? ORDER BY run_id DESC LIMIT 1`, key.Canonical()).Scan(&uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.Wrap("history: existing_uuid_for_key", err)
	}
	return uuid, true, nil
}

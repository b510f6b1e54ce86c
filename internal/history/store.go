// Package history implements the History Store: the single, append-only
// provenance database that is the canonical system of record for all audit
// facts, annotations, actions, and remediation runs. Reports are
// projections of this store; the store is the truth.
//
// The storage engine (embedded SQLite via mattn/go-sqlite3) and the
// versioned-migration discipline follow the same shape as the corpus's own
// embedded SQL storage layer, adapted to AutoDBAudit's single-writer,
// append-only contract instead of a multi-writer federated one.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/autodbaudit/autodbaudit/internal/errs"
	"github.com/autodbaudit/autodbaudit/internal/types"
)

var errSchemaTooNew = errors.New("schema too new")

// Store is a handle on one history database. It owns the single
// process-wide write lock for path ("exactly one writer to the
// History Store at a time").
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	path string
}

// Open creates the schema if absent, runs any pending migrations, and
// acquires the process-wide write lock. It returns an error wrapping
// errs.ErrSchemaMismatch (with errSchemaTooNew's message as text only)
// if the database's schema is newer than this build understands.
func Open(ctx context.Context, path string) (*Store, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errs.Wrap("history: acquiring write lock", err)
	}
	if !locked {
		return nil, fmt.Errorf("history: %w: another process holds the write lock on %s", errs.ErrReportLocked, path)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		_ = lock.Unlock()
		return nil, errs.Wrap("history: opening database", err)
	}
	db.SetMaxOpenConns(1) // single-writer contract; WAL allows concurrent readers at the driver level

	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		if errors.Is(err, errSchemaTooNew) {
			return nil, errs.Wrap("history: opening database", fmt.Errorf("%w: %v", errs.ErrSchemaMismatch, err))
		}
		return nil, errs.Wrap("history: applying migrations", err)
	}

	return &Store{db: db, lock: lock, path: path}, nil
}

// Close releases the database handle and the write lock.
func (s *Store) Close() error {
	dbErr := s.db.Close()
	lockErr := s.lock.Unlock()
	if dbErr != nil {
		return dbErr
	}
	return lockErr
}

// BeginRun inserts a new `running` AuditRun and returns its id.
func (s *Store) BeginRun(ctx context.Context, organization, configHash string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_runs (started_at, status, organization, config_hash) VALUES (?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), types.RunRunning, organization, configHash)
	if err != nil {
		return 0, errs.Wrap("history: begin_run", err)
	}
	return res.LastInsertId()
}

// CompleteRun sets a run's terminal status and ended_at.
func (s *Store) CompleteRun(ctx context.Context, runID int64, status types.AuditRunStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE audit_runs SET status = ?, ended_at = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339Nano), runID)
	return errs.Wrap("history: complete_run", err)
}

// RunByID loads one AuditRun by id.
func (s *Store) RunByID(ctx context.Context, runID int64) (types.AuditRun, error) {
	var run types.AuditRun
	var endedAt, finalizedAt sql.NullString
	var baselineRef sql.NullInt64
	var finalized bool
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, ended_at, status, organization, config_hash, baseline_ref, finalized, finalized_at FROM audit_runs WHERE id = ?`, runID)
	var startedAtStr string
	if err := row.Scan(&run.ID, &startedAtStr, &endedAt, &run.Status, &run.Organization, &run.ConfigHash, &baselineRef, &finalized, &finalizedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.AuditRun{}, fmt.Errorf("history: run_by_id: %w", errs.ErrNotFound)
		}
		return types.AuditRun{}, errs.Wrap("history: run_by_id", err)
	}
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAtStr)
	if endedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, endedAt.String)
		run.EndedAt = &t
	}
	if baselineRef.Valid {
		run.BaselineRef = &baselineRef.Int64
	}
	run.Finalized = finalized
	if finalizedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, finalizedAt.String)
		run.FinalizedAt = &t
	}
	return run, nil
}

// FinalizeRun marks runID immutable for archival. Finalizing an
// already-finalized run is a no-op.
func (s *Store) FinalizeRun(ctx context.Context, runID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE audit_runs SET finalized = 1, finalized_at = ? WHERE id = ? AND finalized = 0`,
		time.Now().UTC().Format(time.RFC3339Nano), runID)
	return errs.Wrap("history: finalize_run", err)
}

// DefinalizeRun reverses FinalizeRun.
func (s *Store) DefinalizeRun(ctx context.Context, runID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE audit_runs SET finalized = 0, finalized_at = NULL WHERE id = ?`, runID)
	return errs.Wrap("history: definalize_run", err)
}

// LatestCompletedRun returns the most recently completed run, used as the
// default sync baseline when none is specified.
func (s *Store) LatestCompletedRun(ctx context.Context) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM audit_runs WHERE status = ? ORDER BY id DESC LIMIT 1`, types.RunCompleted).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errs.Wrap("history: latest_completed_run", err)
	}
	return id, true, nil
}

// RunsLeftRunning returns runs whose status is still "running" — half
// written runs from a crash. The caller
// (the Sync Orchestrator's startup reconciliation) decides whether to
// resume or mark them failed.
func (s *Store) RunsLeftRunning(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM audit_runs WHERE status = ?`, types.RunRunning)
	if err != nil {
		return nil, errs.Wrap("history: runs_left_running", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Wrap("history: runs_left_running", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordFacts bulk-inserts facts inside a single transaction. It fails on a
// duplicate (entity_kind, composite_key) within the run — the primary key
// on the facts table enforces the invariant atomically.
func (s *Store) RecordFacts(ctx context.Context, facts []types.Fact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap("history: record_facts: begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO facts (run_id, entity_kind, composite_key, row_uuid, attributes_json, status, rule_id, risk_level, collected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errs.Wrap("history: record_facts: prepare", err)
	}
	defer stmt.Close()

	for _, f := range facts {
		attrsJSON, err := json.Marshal(f.Attributes)
		if err != nil {
			return errs.Wrap("history: record_facts: marshal attributes", err)
		}
		_, err = stmt.ExecContext(ctx, f.RunID, f.EntityKind, f.CompositeKey.Canonical(), f.RowUUID,
			string(attrsJSON), f.Status, f.RuleID, f.RiskLevel, f.CollectedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("history: record_facts: duplicate (kind, composite_key) within run %d: %w", f.RunID, err)
		}
	}

	return errs.Wrap("history: record_facts: commit", tx.Commit())
}

// scanFactRow scans one row of the facts table into a types.Fact and also
// returns the raw composite_key column. composite_key is stored as the
// key's Canonical() string (kind, then each part, "/"-separated); the
// structured CompositeKey is rebuilt by splitting that string on "/", so
// the rebuilt key's Canonical() equals the stored column, though a part
// that itself contained "/" comes back split.
func scanFactRow(rows *sql.Rows) (types.Fact, string, error) {
	var f types.Fact
	var compositeKeyStr, attrsJSON, collectedAtStr string
	if err := rows.Scan(&f.RunID, &f.EntityKind, &compositeKeyStr, &f.RowUUID, &attrsJSON, &f.Status, &f.RuleID, &f.RiskLevel, &collectedAtStr); err != nil {
		return types.Fact{}, "", err
	}
	if err := json.Unmarshal([]byte(attrsJSON), &f.Attributes); err != nil {
		return types.Fact{}, "", err
	}
	f.CollectedAt, _ = time.Parse(time.RFC3339Nano, collectedAtStr)
	parts := strings.SplitN(strings.TrimPrefix(compositeKeyStr, string(f.EntityKind)+"/"), "/", 8)
	f.CompositeKey = types.NewCompositeKey(f.EntityKind, parts...)
	return f, compositeKeyStr, nil
}

// LoadFactsForRun returns every fact recorded under runID as a slice, in
// no guaranteed order.
func (s *Store) LoadFactsForRun(ctx context.Context, runID int64) ([]types.Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, entity_kind, composite_key, row_uuid, attributes_json, status, rule_id, risk_level, collected_at
		FROM facts WHERE run_id = ?`, runID)
	if err != nil {
		return nil, errs.Wrap("history: load_facts_for_run", err)
	}
	defer rows.Close()

	var out []types.Fact
	for rows.Next() {
		f, _, err := scanFactRow(rows)
		if err != nil {
			return nil, errs.Wrap("history: load_facts_for_run: scan", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// LoadBaseline is LoadFactsForRun under the name the Diff Engine expects
// for the older side of a comparison.
func (s *Store) LoadBaseline(ctx context.Context, runID int64) ([]types.Fact, error) {
	return s.LoadFactsForRun(ctx, runID)
}

// LoadCurrent is LoadFactsForRun under the name the Diff Engine expects
// for the newer side of a comparison.
func (s *Store) LoadCurrent(ctx context.Context, runID int64) ([]types.Fact, error) {
	return s.LoadFactsForRun(ctx, runID)
}

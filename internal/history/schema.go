package history

import (
	"database/sql"
	"fmt"
)

// schemaVersion is the current schema's version number. Migrations are
// additive within a major version: bump this and append a
// migration rather than editing an existing one.
const schemaVersion = 2

// migration is one forward-only schema change. Each migration must be
// idempotent — checking for its own effect before applying it — the same
// discipline the corpus's numbered migration files follow, so re-running
// Open against an already-migrated database is always safe.
type migration struct {
	version int
	apply   func(db *sql.DB) error
}

// migrations lists every migration in order. Bumping schemaVersion without
// appending a matching migration here is a programming error caught by the
// tests in schema_test.go.
var migrations = []migration{
	{version: 1, apply: migrateV1InitialSchema},
	{version: 2, apply: migrateV2FinalizeColumns},
}

func migrateV1InitialSchema(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS schema_meta (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at    TEXT NOT NULL,
	ended_at      TEXT,
	status        TEXT NOT NULL,
	organization  TEXT NOT NULL,
	config_hash   TEXT NOT NULL,
	baseline_ref  INTEGER REFERENCES audit_runs(id)
);

CREATE TABLE IF NOT EXISTS facts (
	run_id         INTEGER NOT NULL REFERENCES audit_runs(id),
	entity_kind    TEXT NOT NULL,
	composite_key  TEXT NOT NULL,
	row_uuid       TEXT NOT NULL,
	attributes_json TEXT NOT NULL,
	status         TEXT NOT NULL,
	rule_id        TEXT NOT NULL,
	risk_level     TEXT NOT NULL,
	collected_at   TEXT NOT NULL,
	PRIMARY KEY (run_id, entity_kind, composite_key)
);
CREATE INDEX IF NOT EXISTS idx_facts_row_uuid ON facts(row_uuid);
CREATE INDEX IF NOT EXISTS idx_facts_run_id ON facts(run_id);

CREATE TABLE IF NOT EXISTS annotations (
	row_uuid       TEXT PRIMARY KEY,
	composite_key  TEXT NOT NULL,
	purpose        TEXT NOT NULL DEFAULT '',
	justification  TEXT NOT NULL DEFAULT '',
	review_status  TEXT NOT NULL DEFAULT '',
	last_reviewed  TEXT,
	indicator      TEXT NOT NULL DEFAULT '',
	orphaned       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_annotations_composite_key ON annotations(composite_key);

CREATE TABLE IF NOT EXISTS annotation_history (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	row_uuid       TEXT NOT NULL,
	changed_at     TEXT NOT NULL,
	prior_json     TEXT NOT NULL,
	new_json       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_annotation_history_row_uuid ON annotation_history(row_uuid);

CREATE TABLE IF NOT EXISTS actions (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_kind         TEXT NOT NULL,
	row_uuid            TEXT NOT NULL,
	composite_key       TEXT NOT NULL,
	change_type         TEXT NOT NULL,
	risk_level          TEXT NOT NULL,
	description         TEXT NOT NULL,
	detected_at         TEXT NOT NULL,
	user_date_override  TEXT,
	user_notes          TEXT NOT NULL DEFAULT '',
	sync_run_id         INTEGER NOT NULL REFERENCES audit_runs(id),
	UNIQUE (row_uuid, change_type, sync_run_id)
);
CREATE INDEX IF NOT EXISTS idx_actions_sync_run_id ON actions(sync_run_id);

CREATE TABLE IF NOT EXISTS remediation_runs (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	source_run_id   INTEGER NOT NULL REFERENCES audit_runs(id),
	aggressiveness  INTEGER NOT NULL,
	generated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS remediation_items (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	remediation_run_id INTEGER NOT NULL REFERENCES remediation_runs(id),
	entity_kind       TEXT NOT NULL,
	row_uuid          TEXT NOT NULL,
	composite_key     TEXT NOT NULL,
	script_kind       TEXT NOT NULL,
	pre_change_value  TEXT NOT NULL DEFAULT '',
	activated         INTEGER NOT NULL DEFAULT 0,
	skipped_reason    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_remediation_items_run ON remediation_items(remediation_run_id);
`
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("migrateV1InitialSchema: %w", err)
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_meta`).Scan(&count); err != nil {
		return fmt.Errorf("migrateV1InitialSchema: checking schema_meta: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`INSERT INTO schema_meta (version) VALUES (1)`); err != nil {
			return fmt.Errorf("migrateV1InitialSchema: seeding schema_meta: %w", err)
		}
	}
	return nil
}

// migrateV2FinalizeColumns adds the finalize/definalize columns the
// `finalize` CLI command needs. SQLite has no "ADD COLUMN IF NOT EXISTS",
// so idempotency is checked via pragma table_info before altering.
func migrateV2FinalizeColumns(db *sql.DB) error {
	has, err := columnExists(db, "audit_runs", "finalized")
	if err != nil {
		return fmt.Errorf("migrateV2FinalizeColumns: %w", err)
	}
	if !has {
		if _, err := db.Exec(`ALTER TABLE audit_runs ADD COLUMN finalized INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("migrateV2FinalizeColumns: adding finalized: %w", err)
		}
	}
	has, err = columnExists(db, "audit_runs", "finalized_at")
	if err != nil {
		return fmt.Errorf("migrateV2FinalizeColumns: %w", err)
	}
	if !has {
		if _, err := db.Exec(`ALTER TABLE audit_runs ADD COLUMN finalized_at TEXT`); err != nil {
			return fmt.Errorf("migrateV2FinalizeColumns: adding finalized_at: %w", err)
		}
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// currentVersion reads the schema version recorded in schema_meta, or 0 if
// the table does not exist yet (a brand new database file).
func currentVersion(db *sql.DB) (int, error) {
	var exists bool
	err := db.QueryRow(`SELECT COUNT(*) > 0 FROM sqlite_master WHERE type='table' AND name='schema_meta'`).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	var v int
	if err := db.QueryRow(`SELECT version FROM schema_meta LIMIT 1`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// applyMigrations runs every migration whose version is greater than the
// database's current version, in order, then records the new version. A
// schema that is newer than this binary understands is a SchemaMismatch —
// fatal, refuse to open.
func applyMigrations(db *sql.DB) error {
	current, err := currentVersion(db)
	if err != nil {
		return fmt.Errorf("applyMigrations: reading current version: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("history: database schema version %d is newer than this build supports (%d): %w", current, schemaVersion, errSchemaTooNew)
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := m.apply(db); err != nil {
			return fmt.Errorf("applyMigrations: version %d: %w", m.version, err)
		}
	}
	if _, err := db.Exec(`UPDATE schema_meta SET version = ?`, schemaVersion); err != nil {
		return fmt.Errorf("applyMigrations: recording schema version: %w", err)
	}
	return nil
}

// Package store is the relational entity store for projects, documents,
// notes, sources, events, jobs, and knox reports. It exposes narrow
// transactional operations sized per business action, in front of a SQLite
// database with foreign-key cascades from Project down through its subgraph.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// schema is applied on open. The unique index on knox_reports is the
// idempotence mutex for compile: two concurrent compiles for the same
// fingerprint resolve to a single row at the database level.
const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	classification TEXT NOT NULL DEFAULT 'public',
	status         TEXT NOT NULL DEFAULT 'research',
	due_date       TEXT,
	tags           TEXT NOT NULL DEFAULT '[]',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id                    TEXT PRIMARY KEY,
	project_id            TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	filename              TEXT NOT NULL,
	file_type             TEXT NOT NULL,
	original_blob_ref     TEXT NOT NULL DEFAULT '',
	masked_text           TEXT NOT NULL,
	sanitize_level        TEXT NOT NULL,
	classification        TEXT NOT NULL,
	ai_allowed            INTEGER NOT NULL,
	export_allowed        INTEGER NOT NULL,
	sha256                TEXT NOT NULL,
	excluded_from_compile INTEGER NOT NULL DEFAULT 0,
	datetime_masked       INTEGER NOT NULL DEFAULT 0,
	original_missing      INTEGER NOT NULL DEFAULT 0,
	created_at            TEXT NOT NULL,
	updated_at            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_project ON documents(project_id, created_at, id);

CREATE TABLE IF NOT EXISTS project_notes (
	id                    TEXT PRIMARY KEY,
	project_id            TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	title                 TEXT NOT NULL DEFAULT '',
	masked_body           TEXT NOT NULL,
	sanitize_level        TEXT NOT NULL,
	excluded_from_compile INTEGER NOT NULL DEFAULT 0,
	sha256                TEXT NOT NULL,
	created_at            TEXT NOT NULL,
	updated_at            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_project_notes_project ON project_notes(project_id, created_at, id);

CREATE TABLE IF NOT EXISTS journalist_notes (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	body       TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT 'raw',
	image_refs TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sources (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	title      TEXT NOT NULL,
	type       TEXT NOT NULL,
	url        TEXT NOT NULL DEFAULT '',
	comment    TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

-- events carry no foreign key: the project_deleted record must outlive the
-- project row it refers to. Secure delete removes the project's prior
-- events explicitly.
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	actor      TEXT NOT NULL,
	event_type TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_project ON events(project_id, created_at);

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	input_ref    TEXT NOT NULL DEFAULT '',
	result_ref   TEXT NOT NULL DEFAULT '',
	error_code   TEXT NOT NULL DEFAULT '',
	error_detail TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	finished_at  TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(kind, status, created_at);

CREATE TABLE IF NOT EXISTS knox_reports (
	id                TEXT PRIMARY KEY,
	project_id        TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	policy_id         TEXT NOT NULL,
	policy_version    TEXT NOT NULL,
	ruleset_hash      TEXT NOT NULL,
	template_id       TEXT NOT NULL,
	engine_id         TEXT NOT NULL,
	input_fingerprint TEXT NOT NULL,
	input_manifest    TEXT NOT NULL,
	gate_results      TEXT NOT NULL,
	rendered_markdown TEXT NOT NULL,
	latency_ms        INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_knox_reports_fingerprint
	ON knox_reports(project_id, policy_id, template_id, input_fingerprint);
`

// Store wraps the SQLite database. SQLite has a single writer, so write
// operations additionally serialize on a process-local mutex to avoid
// SQLITE_BUSY churn under concurrent handlers.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (and if needed creates) the database at path and applies the
// schema. Foreign keys and WAL are enabled per connection via the DSN.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// withTx runs fn in a transaction, committing on nil and rolling back
// otherwise. Writes go through here so the mutex and transaction scopes
// always match.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// now returns the canonical timestamp representation used in all tables.
func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

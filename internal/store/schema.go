package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaLockKey serializes bootstrap DDL across server and worker startups.
const schemaLockKey int64 = 7_301_044_812

const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	failure_reason TEXT NOT NULL DEFAULT '',
	job_id TEXT,
	validation_metadata JSONB,
	structured_contract JSONB,
	summary JSONB,
	clauses JSONB NOT NULL DEFAULT '[]'::jsonb,
	risks JSONB NOT NULL DEFAULT '[]'::jsonb,
	obligations JSONB NOT NULL DEFAULT '[]'::jsonb,
	suggestions JSONB NOT NULL DEFAULT '[]'::jsonb,
	extraction_metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT documents_status_check CHECK (status IN ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED'))
);

CREATE INDEX IF NOT EXISTS idx_documents_user_id ON documents(user_id);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

CREATE TABLE IF NOT EXISTS analysis_runs (
	id BIGINT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	job_id TEXT NOT NULL,
	attempt INT NOT NULL,
	status TEXT NOT NULL,
	stage TEXT,
	error TEXT,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_analysis_runs_document ON analysis_runs(document_id, started_at DESC);

CREATE TABLE IF NOT EXISTS user_profiles (
	user_id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	profession TEXT NOT NULL DEFAULT '',
	specialities JSONB NOT NULL DEFAULT '[]'::jsonb
);
`

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

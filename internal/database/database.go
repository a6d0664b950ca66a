package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the tables and unique indexes if needed. The unique
// indexes are the dedup keys; organization keys are only held by records that
// were not rejected.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS segments (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS upload_batches (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	segment_id TEXT REFERENCES segments(id),
	file_name TEXT NOT NULL,
	file_size BIGINT NOT NULL,
	object_key TEXT NOT NULL,
	status TEXT NOT NULL,
	total_rows INT NOT NULL DEFAULT 0,
	valid_rows INT NOT NULL DEFAULT 0,
	invalid_rows INT NOT NULL DEFAULT 0,
	error_report_key TEXT,
	failure_reason TEXT,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	CONSTRAINT batch_counts CHECK (status <> 'completed' OR total_rows = valid_rows + invalid_rows)
);
CREATE INDEX IF NOT EXISTS idx_upload_batches_status ON upload_batches(status);

CREATE TABLE IF NOT EXISTS organizations (
	id TEXT PRIMARY KEY,
	segment_id TEXT NOT NULL REFERENCES segments(id),
	name TEXT NOT NULL,
	website TEXT NOT NULL DEFAULT '',
	industry TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	country TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	founded_year INT,
	employee_count INT,
	name_key TEXT NOT NULL,
	website_key TEXT NOT NULL,
	status TEXT NOT NULL,
	rejection_reason TEXT,
	approved_by TEXT,
	approved_at TIMESTAMPTZ,
	rejected_by TEXT,
	rejected_at TIMESTAMPTZ,
	duplicate BOOLEAN NOT NULL DEFAULT FALSE,
	batch_id TEXT REFERENCES upload_batches(id),
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT rejection_reason_iff_rejected CHECK ((status = 'rejected') = (COALESCE(rejection_reason, '') <> ''))
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_organizations_dedup_key
	ON organizations(segment_id, name_key, website_key) WHERE status <> 'rejected';

CREATE TABLE IF NOT EXISTS persons (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	segment_id TEXT NOT NULL,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	email TEXT NOT NULL,
	email_key TEXT NOT NULL,
	phone TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	linkedin TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	owner_id TEXT,
	approved_by TEXT,
	approved_at TIMESTAMPTZ,
	meeting_scheduled_at TIMESTAMPTZ,
	duplicate BOOLEAN NOT NULL DEFAULT FALSE,
	batch_id TEXT REFERENCES upload_batches(id),
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT owner_iff_owned CHECK ((status IN ('owned', 'scheduled')) = (owner_id IS NOT NULL))
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_persons_dedup_key ON persons(organization_id, email_key);

CREATE TABLE IF NOT EXISTS assignments (
	id TEXT PRIMARY KEY,
	subject_kind TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	grantor_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_assignments_edge ON assignments(subject_kind, subject_id, owner_id);`

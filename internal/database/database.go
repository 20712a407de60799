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
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Schema is the relay's DDL. Sessions are keyed by token id; at most one
// unrevoked session exists per encounter.
const Schema = `
CREATE TABLE IF NOT EXISTS mobile_sessions (
	id TEXT PRIMARY KEY,
	encounter_id TEXT NOT NULL,
	patient_id TEXT NOT NULL,
	facility_id TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	revoked_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mobile_sessions_encounter ON mobile_sessions(encounter_id) WHERE revoked_at IS NULL;

CREATE TABLE IF NOT EXISTS mobile_images (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES mobile_sessions(id),
	encounter_id TEXT NOT NULL,
	file_name TEXT NOT NULL,
	content_type TEXT NOT NULL,
	raw_key TEXT NOT NULL,
	normalized_key TEXT,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	width INT NOT NULL DEFAULT 0,
	height INT NOT NULL DEFAULT 0,
	thumbnail TEXT,
	status TEXT NOT NULL,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mobile_images_encounter ON mobile_images(encounter_id, status);`

// EnsureSchema creates the relay tables if needed.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

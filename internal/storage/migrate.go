package storage

import (
	"context"
	"fmt"
)

// Versioned migrations, applied in order inside one transaction each.
// schema_version records the highest applied version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS price_samples (
        bucket_ts         TIMESTAMPTZ PRIMARY KEY,
        price_usd         NUMERIC NOT NULL,
        deviation_bps     NUMERIC NOT NULL DEFAULT 0,
        fresh_sources     INTEGER NOT NULL DEFAULT 0,
        breaker_triggered BOOLEAN NOT NULL DEFAULT FALSE,
        status            TEXT NOT NULL DEFAULT 'ok',
        error             TEXT,
        created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
	`CREATE TABLE IF NOT EXISTS dca_executions (
        id              BIGSERIAL PRIMARY KEY,
        user_address    TEXT NOT NULL,
        plan_id         INTEGER NOT NULL,
        usd_amount      NUMERIC NOT NULL,
        tokens_received NUMERIC NOT NULL,
        fee             NUMERIC NOT NULL,
        executed_at     TIMESTAMPTZ NOT NULL,
        created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS idx_dca_executions_user
        ON dca_executions (user_address, executed_at DESC);`,
	`CREATE TABLE IF NOT EXISTS events (
        event_id     TEXT PRIMARY KEY,
        event_type   TEXT NOT NULL,
        user_address TEXT,
        emitted_at   TIMESTAMPTZ NOT NULL,
        payload      JSONB,
        created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS idx_events_emitted
        ON events (emitted_at DESC);`,
}

const (
	createSchemaVersionSQL = `CREATE TABLE IF NOT EXISTS schema_version (
        version    INTEGER PRIMARY KEY,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`
	currentVersionSQL = `SELECT COALESCE(MAX(version), 0) FROM schema_version;`
	recordVersionSQL  = `INSERT INTO schema_version (version) VALUES ($1);`
)

// Migrate brings the schema up to the latest version. Safe to call on every
// startup; already applied versions are skipped.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, createSchemaVersionSQL); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := pool.QueryRow(ctx, currentVersionSQL).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(ctx, migrations[i]); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := tx.Exec(ctx, recordVersionSQL, version); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
	}
	return nil
}

// Package postgres stores analyses in PostgreSQL. Series, summaries and
// artifacts are JSONB columns; the profile vector lives in a pgvector column
// with an HNSW index so [Store.Similar] can order by L2 distance.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlAnalyses returns the DDL with the profile dimension substituted.
// The vector dimension is fixed when the table is first created.
func ddlAnalyses(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS analyses (
    id           TEXT              PRIMARY KEY,
    source       TEXT              NOT NULL,
    duration     DOUBLE PRECISION  NOT NULL DEFAULT 0,
    sample_rate  INTEGER           NOT NULL DEFAULT 0,
    channels     INTEGER           NOT NULL DEFAULT 0,
    artifacts    JSONB             NOT NULL DEFAULT '[]',
    series       JSONB             NOT NULL DEFAULT '{}',
    summaries    JSONB             NOT NULL DEFAULT '{}',
    profile      vector(%d),
    created_at   TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_analyses_created_at
    ON analyses (created_at DESC);

CREATE INDEX IF NOT EXISTS idx_analyses_profile
    ON analyses USING hnsw (profile vector_l2_ops);
`, dims)
}

// Migrate creates the analyses table and its indexes. It is idempotent and
// safe to call on every start. Changing dims after the first migration
// requires a manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("postgres migrate: profile dims must be positive, got %d", dims)
	}
	if _, err := pool.Exec(ctx, ddlAnalyses(dims)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlOrders = `
CREATE TABLE IF NOT EXISTS orders (
    id             TEXT         PRIMARY KEY,
    session_id     TEXT         NOT NULL,
    status         INT          NOT NULL DEFAULT 0,
    transaction_id TEXT         NOT NULL DEFAULT '',
    items          JSONB        NOT NULL DEFAULT '[]',
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_orders_session_status
    ON orders (session_id, status);

CREATE INDEX IF NOT EXISTS idx_orders_created_at
    ON orders (created_at);
`

// ddlMenuVectors returns the menu index DDL with the embedding dimension
// substituted. The dimension is baked into the column type at creation time.
func ddlMenuVectors(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS menu_vectors (
    item_id    TEXT  PRIMARY KEY,
    embedding  vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_menu_vectors_embedding
    ON menu_vectors USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables and extensions exist. It is
// idempotent and safe to call on every kiosk start.
//
// embeddingDimensions must match the embedding model configured for menu
// indexing (e.g., 1536 for text-embedding-3-small, 768 for nomic-embed-text).
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlOrders,
		ddlMenuVectors(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("order migrate: %w", err)
		}
	}
	return nil
}

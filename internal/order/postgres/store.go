// Package postgres provides a PostgreSQL-backed order store and menu vector
// index. Orders are persisted as rows with their line items in JSONB; the
// menu index uses a pgvector HNSW index for approximate nearest-neighbour
// search over item embeddings.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/voxkiosk/voxkiosk/internal/order"
)

// Compile-time interface checks.
var (
	_ order.Store     = (*Store)(nil)
	_ order.MenuIndex = (*Store)(nil)
)

// Store is the PostgreSQL-backed order store. It holds a single
// [pgxpool.Pool] and implements both [order.Store] and [order.MenuIndex].
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn, registers
// pgvector types on every connection, and runs [Migrate].
//
// embeddingDimensions must match the output dimension of the embedding model
// used to index the menu. Changing it after the first migration requires a
// manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("order store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("order store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("order store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("order store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity, for readiness probing.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveOrder implements order.Store. Existing orders are fully replaced.
func (s *Store) SaveOrder(ctx context.Context, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("order store: marshal items: %w", err)
	}

	const q = `
		INSERT INTO orders
		    (id, session_id, status, transaction_id, items, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    session_id     = EXCLUDED.session_id,
		    status         = EXCLUDED.status,
		    transaction_id = EXCLUDED.transaction_id,
		    items          = EXCLUDED.items,
		    updated_at     = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, q,
		o.ID,
		o.SessionID,
		int(o.Status),
		o.TransactionID,
		items,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("order store: save order: %w", err)
	}
	return nil
}

// GetOrder implements order.Store.
func (s *Store) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	const q = `
		SELECT id, session_id, status, transaction_id, items, created_at, updated_at
		FROM   orders
		WHERE  id = $1`

	o, err := scanOrder(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("order store: get order: %w", err)
	}
	return o, nil
}

// OpenOrderForSession implements order.Store. When a session somehow has
// multiple open orders, the newest wins.
func (s *Store) OpenOrderForSession(ctx context.Context, sessionID string) (*order.Order, error) {
	const q = `
		SELECT id, session_id, status, transaction_id, items, created_at, updated_at
		FROM   orders
		WHERE  session_id = $1 AND status = $2
		ORDER  BY created_at DESC
		LIMIT  1`

	o, err := scanOrder(s.pool.QueryRow(ctx, q, sessionID, int(order.StatusOpen)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("order store: open order for session: %w", err)
	}
	return o, nil
}

// IndexMenuItem implements order.MenuIndex.
func (s *Store) IndexMenuItem(ctx context.Context, itemID string, embedding []float32) error {
	const q = `
		INSERT INTO menu_vectors (item_id, embedding)
		VALUES ($1, $2)
		ON CONFLICT (item_id) DO UPDATE SET embedding = EXCLUDED.embedding`

	if _, err := s.pool.Exec(ctx, q, itemID, pgvector.NewVector(embedding)); err != nil {
		return fmt.Errorf("order store: index menu item: %w", err)
	}
	return nil
}

// SearchMenu implements order.MenuIndex. Results are ordered by ascending
// cosine distance (most similar first).
func (s *Store) SearchMenu(ctx context.Context, embedding []float32, topK int) ([]order.MenuMatch, error) {
	const q = `
		SELECT item_id, embedding <=> $1 AS distance
		FROM   menu_vectors
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("order store: search menu: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.MenuMatch, error) {
		var m order.MenuMatch
		if err := row.Scan(&m.MenuItemID, &m.Distance); err != nil {
			return order.MenuMatch{}, err
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("order store: scan matches: %w", err)
	}
	if matches == nil {
		matches = []order.MenuMatch{}
	}
	return matches, nil
}

// scanOrder reads one orders row.
func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o      order.Order
		status int
		items  []byte
	)
	if err := row.Scan(&o.ID, &o.SessionID, &status, &o.TransactionID, &items, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = order.Status(status)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
	}
	return &o, nil
}

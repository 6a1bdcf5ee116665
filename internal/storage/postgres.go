package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresConfig holds connection details for PostgreSQL
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// ConnString builds the pgx connection URL
func (c PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.DBName,
	)
}

// ItemMatch is an archived image ranked by signature similarity
type ItemMatch struct {
	RunID      string
	Index      int
	Name       string
	Similarity float64
}

// PostgresLedger stores runs and per-image signatures in PostgreSQL
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger connects to PostgreSQL and creates the schema if needed
func NewPostgresLedger(ctx context.Context, config PostgresConfig) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresLedger{pool: pool}, nil
}

// Record stores a run and its archived items in one transaction
func (s *PostgresLedger) Record(ctx context.Context, rec RunRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO runs
        (id, kind, model, status, error, items, failures, bitrate_kbps, frames, truncated, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.Kind, rec.Model, rec.Status, rec.Error, rec.Items, rec.Failures,
		rec.BitrateKbps, rec.Frames, rec.Truncated, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to store run: %w", err)
	}

	for _, item := range rec.Entries {
		var signature any
		if len(item.Signature) > 0 {
			signature = pgvector.NewVector(item.Signature)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO run_items (run_id, item_index, name, signature) VALUES ($1, $2, $3, $4)`,
			rec.ID, item.Index, item.Name, signature)
		if err != nil {
			return fmt.Errorf("failed to store item %s: %w", item.Name, err)
		}
	}

	return tx.Commit(ctx)
}

// Flush is a no-op as records are saved immediately
func (s *PostgresLedger) Flush() error {
	return nil
}

// Close closes the database connection
func (s *PostgresLedger) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// SearchSimilarItems finds archived images whose signature is closest to
// signature by cosine distance
func (s *PostgresLedger) SearchSimilarItems(ctx context.Context, signature []float32, limit int) ([]ItemMatch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, item_index, name, 1 - (signature <=> $1) AS similarity
        FROM run_items
        WHERE signature IS NOT NULL
        ORDER BY signature <=> $1
        LIMIT $2`,
		pgvector.NewVector(signature), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar items: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ItemMatch, error) {
		var m ItemMatch
		err := row.Scan(&m.RunID, &m.Index, &m.Name, &m.Similarity)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan search results: %w", err)
	}
	return matches, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	// Check if vector extension exists
	var exists bool
	err := pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check for vector extension: %w", err)
	}

	if !exists {
		if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return fmt.Errorf("failed to create vector extension: %w", err)
		}
	}

	_, err = pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            kind VARCHAR(16) NOT NULL,
            model VARCHAR(16) NOT NULL,
            status VARCHAR(16) NOT NULL,
            error TEXT NOT NULL DEFAULT '',
            items INTEGER NOT NULL,
            failures INTEGER NOT NULL,
            bitrate_kbps INTEGER NOT NULL,
            frames INTEGER NOT NULL,
            truncated BOOLEAN NOT NULL,
            started_at TIMESTAMPTZ NOT NULL,
            finished_at TIMESTAMPTZ NOT NULL
        );

        CREATE TABLE IF NOT EXISTS run_items (
            id SERIAL PRIMARY KEY,
            run_id TEXT REFERENCES runs(id) ON DELETE CASCADE,
            item_index INTEGER NOT NULL,
            name VARCHAR(255) NOT NULL,
            signature vector(4),
            UNIQUE(run_id, item_index)
        );
    `)
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	_, err = pool.Exec(ctx, `
        CREATE INDEX IF NOT EXISTS idx_run_items_run_id ON run_items(run_id);
        CREATE INDEX IF NOT EXISTS idx_run_items_signature ON run_items USING ivfflat (signature vector_cosine_ops) WITH (lists = 100);
    `)
	if err != nil {
		return fmt.Errorf("failed to create database indexes: %w", err)
	}

	return nil
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteLedger stores runs in a local SQLite database
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens or creates the database at path
func NewSQLiteLedger(ctx context.Context, path string) (*SQLiteLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for run ledger: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            kind TEXT NOT NULL,
            model TEXT NOT NULL,
            status TEXT NOT NULL,
            error TEXT NOT NULL DEFAULT '',
            items INTEGER NOT NULL,
            failures INTEGER NOT NULL,
            bitrate_kbps INTEGER NOT NULL,
            frames INTEGER NOT NULL,
            truncated BOOLEAN NOT NULL,
            started_at TIMESTAMP NOT NULL,
            finished_at TIMESTAMP NOT NULL
        );

        CREATE TABLE IF NOT EXISTS run_items (
            run_id TEXT REFERENCES runs(id) ON DELETE CASCADE,
            item_index INTEGER NOT NULL,
            name TEXT NOT NULL,
            signature TEXT,
            PRIMARY KEY (run_id, item_index)
        );
    `)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create database schema: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

// Record stores a run and its archived items in one transaction
func (s *SQLiteLedger) Record(ctx context.Context, rec RunRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs
        (id, kind, model, status, error, items, failures, bitrate_kbps, frames, truncated, started_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Kind, rec.Model, rec.Status, rec.Error, rec.Items, rec.Failures,
		rec.BitrateKbps, rec.Frames, rec.Truncated, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to store run: %w", err)
	}

	for _, item := range rec.Entries {
		var signature sql.NullString
		if len(item.Signature) > 0 {
			data, err := json.Marshal(item.Signature)
			if err != nil {
				return fmt.Errorf("failed to encode signature: %w", err)
			}
			signature = sql.NullString{String: string(data), Valid: true}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_items (run_id, item_index, name, signature) VALUES (?, ?, ?, ?)`,
			rec.ID, item.Index, item.Name, signature)
		if err != nil {
			return fmt.Errorf("failed to store item %s: %w", item.Name, err)
		}
	}

	return tx.Commit()
}

// Flush is a no-op as records are saved immediately
func (s *SQLiteLedger) Flush() error {
	return nil
}

func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

// RecentRuns returns up to limit runs, newest first, with their items
func (s *SQLiteLedger) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, model, status, error, items, failures, bitrate_kbps, frames, truncated, started_at, finished_at
        FROM runs
        ORDER BY rowid DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.Model, &rec.Status, &rec.Error, &rec.Items,
			&rec.Failures, &rec.BitrateKbps, &rec.Frames, &rec.Truncated, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range records {
		items, err := s.items(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Entries = items
	}
	return records, nil
}

func (s *SQLiteLedger) items(ctx context.Context, runID string) ([]ItemRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_index, name, signature FROM run_items WHERE run_id = ? ORDER BY item_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run items: %w", err)
	}
	defer rows.Close()

	var items []ItemRecord
	for rows.Next() {
		var item ItemRecord
		var signature sql.NullString
		if err := rows.Scan(&item.Index, &item.Name, &signature); err != nil {
			return nil, fmt.Errorf("failed to scan run item: %w", err)
		}
		if signature.Valid {
			if err := json.Unmarshal([]byte(signature.String), &item.Signature); err != nil {
				return nil, fmt.Errorf("failed to decode signature: %w", err)
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

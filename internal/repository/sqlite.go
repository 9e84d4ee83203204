package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/set-night/evochat/internal/domain"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_snapshots (
	slot       TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteSnapshots keeps chat snapshots in a local sqlite file.
type SQLiteSnapshots struct {
	db *sql.DB
}

func NewSQLiteSnapshots(path string) (*SQLiteSnapshots, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteSnapshots{db: db}, nil
}

func (s *SQLiteSnapshots) Load(ctx context.Context, slot string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM chat_snapshots WHERE slot = ?`, slot).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return data, nil
}

func (s *SQLiteSnapshots) Save(ctx context.Context, slot string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_snapshots (slot, data, updated_at)
		VALUES (?, ?, strftime('%s','now'))
		ON CONFLICT(slot) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, slot, data)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteSnapshots) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

func (s *SQLiteSnapshots) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteSnapshots) Close() error {
	return s.db.Close()
}

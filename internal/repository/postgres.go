package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/set-night/evochat/internal/domain"
)

// PostgresSnapshots keeps chat snapshots in the chat_snapshots table.
type PostgresSnapshots struct {
	pool *pgxpool.Pool
}

func NewPostgresSnapshots(pool *pgxpool.Pool) *PostgresSnapshots {
	return &PostgresSnapshots{pool: pool}
}

func (s *PostgresSnapshots) Load(ctx context.Context, slot string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM chat_snapshots WHERE slot = $1`, slot).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return data, nil
}

func (s *PostgresSnapshots) Save(ctx context.Context, slot string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_snapshots (slot, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (slot) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`, slot, data)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresSnapshots) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chat_snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

func (s *PostgresSnapshots) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresSnapshots) Close() error {
	s.pool.Close()
	return nil
}

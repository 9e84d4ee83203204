package repository

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/set-night/evochat/internal/config"
)

// Snapshots is a durable store of named snapshot slots.
type Snapshots interface {
	Load(ctx context.Context, slot string) ([]byte, error)
	Save(ctx context.Context, slot string, data []byte) error
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open connects the backend selected by cfg.StorageBackend. migrationsFS is
// only used by postgres.
func Open(ctx context.Context, cfg *config.Config, migrationsFS fs.FS) (Snapshots, error) {
	switch cfg.StorageBackend {
	case "postgres":
		pool, err := NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := RunMigrations(cfg.DatabaseURL, migrationsFS); err != nil {
			pool.Close()
			return nil, err
		}
		return NewPostgresSnapshots(pool), nil
	case "redis":
		return NewRedisSnapshots(ctx, cfg.RedisURL)
	case "sqlite":
		return NewSQLiteSnapshots(cfg.SQLitePath)
	case "memory":
		slog.Warn("using in-memory storage, conversations are lost on restart")
		return NewMemorySnapshots(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

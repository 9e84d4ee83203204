package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/set-night/evochat/internal/config"
	"github.com/set-night/evochat/internal/domain"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Snapshots {
	t.Helper()

	sqlite, err := NewSQLiteSnapshots(filepath.Join(t.TempDir(), "nested", "evochat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Snapshots{
		"memory": NewMemorySnapshots(),
		"sqlite": sqlite,
	}
}

func TestSnapshots_MissingSlot(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load(context.Background(), "evochat:1")
			require.ErrorIs(t, err, domain.ErrSnapshotNotFound)
		})
	}
}

func TestSnapshots_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save(ctx, "evochat:1", []byte(`[{"id":"a"}]`)))
			require.NoError(t, s.Save(ctx, "evochat:1", []byte(`[{"id":"b"}]`)))
			require.NoError(t, s.Save(ctx, "evochat:2", []byte(`[]`)))

			data, err := s.Load(ctx, "evochat:1")
			require.NoError(t, err)
			require.JSONEq(t, `[{"id":"b"}]`, string(data))

			n, err := s.Count(ctx)
			require.NoError(t, err)
			require.Equal(t, 2, n)
			require.NoError(t, s.Ping(ctx))
		})
	}
}

func TestSQLiteSnapshots_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "evochat.db")

	s, err := NewSQLiteSnapshots(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "slot", []byte(`[{"id":"x"}]`)))
	require.NoError(t, s.Close())

	s, err = NewSQLiteSnapshots(path)
	require.NoError(t, err)
	defer s.Close()

	data, err := s.Load(ctx, "slot")
	require.NoError(t, err)
	require.JSONEq(t, `[{"id":"x"}]`, string(data))
}

func TestMemorySnapshots_CopiesData(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySnapshots()

	buf := []byte("abc")
	require.NoError(t, s.Save(ctx, "slot", buf))
	buf[0] = 'z'

	data, err := s.Load(ctx, "slot")
	require.NoError(t, err)
	require.Equal(t, "abc", string(data))
}

func TestOpen_SelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, &config.Config{StorageBackend: "memory"}, nil)
	require.NoError(t, err)
	require.IsType(t, &MemorySnapshots{}, s)

	s, err = Open(ctx, &config.Config{StorageBackend: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "e.db")}, nil)
	require.NoError(t, err)
	require.IsType(t, &SQLiteSnapshots{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, &config.Config{StorageBackend: "etcd"}, nil)
	require.Error(t, err)
}

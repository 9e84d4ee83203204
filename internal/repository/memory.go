package repository

import (
	"context"
	"sync"

	"github.com/set-night/evochat/internal/domain"
)

// MemorySnapshots keeps snapshots for the life of the process.
type MemorySnapshots struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{slots: make(map[string][]byte)}
}

func (s *MemorySnapshots) Load(_ context.Context, slot string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.slots[slot]
	if !ok {
		return nil, domain.ErrSnapshotNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemorySnapshots) Save(_ context.Context, slot string, data []byte) error {
	s.mu.Lock()
	s.slots[slot] = append([]byte(nil), data...)
	s.mu.Unlock()
	return nil
}

func (s *MemorySnapshots) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots), nil
}

func (s *MemorySnapshots) Ping(context.Context) error { return nil }

func (s *MemorySnapshots) Close() error { return nil }

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/set-night/evochat/internal/domain"
)

// slotIndexKey is a set holding every slot ever written.
const slotIndexKey = "evochat:slots"

// RedisSnapshots keeps each chat snapshot in a string key named by its slot.
type RedisSnapshots struct {
	client *redis.Client
}

func NewRedisSnapshots(ctx context.Context, redisURL string) (*RedisSnapshots, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisSnapshots{client: client}, nil
}

func (s *RedisSnapshots) Load(ctx context.Context, slot string) ([]byte, error) {
	data, err := s.client.Get(ctx, slot).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return data, nil
}

func (s *RedisSnapshots) Save(ctx context.Context, slot string, data []byte) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, slot, data, 0)
	pipe.SAdd(ctx, slotIndexKey, slot)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}

func (s *RedisSnapshots) Count(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, slotIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return int(n), nil
}

func (s *RedisSnapshots) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSnapshots) Close() error {
	return s.client.Close()
}

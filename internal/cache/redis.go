package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/depth-analytics/internal/volume"
	"github.com/redis/go-redis/v9"
)

const snapshotKey = "volume:snapshot"

type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisAdapter connects and pings. A zero ttl keeps the snapshot until
// it is overwritten.
func NewRedisAdapter(addr, password string, db int, ttl time.Duration, prefix string) (*RedisAdapter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisAdapter{
		client: client,
		ttl:    ttl,
		prefix: prefix,
	}, nil
}

func (a *RedisAdapter) key() string {
	return a.prefix + snapshotKey
}

func (a *RedisAdapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

func (a *RedisAdapter) Load(ctx context.Context) (*volume.Snapshot, error) {
	data, err := a.client.Get(ctx, a.key()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot from redis: %w", err)
	}

	var s volume.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &s, nil
}

func (a *RedisAdapter) Save(ctx context.Context, s volume.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := a.client.Set(ctx, a.key(), data, a.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot in redis: %w", err)
	}
	return nil
}

func (a *RedisAdapter) Close() error {
	return a.client.Close()
}

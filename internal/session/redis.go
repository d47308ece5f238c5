package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBackend stores each entry under prefix+key.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisBackend wraps an existing client; Close closes rdb.
func NewRedisBackend(rdb *redis.Client, prefix string, logger *zap.Logger) *RedisBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBackend{rdb: rdb, prefix: prefix, logger: logger}
}

func (r *RedisBackend) key(name string) string { return r.prefix + name }

func (r *RedisBackend) keys() []string {
	out := make([]string, len(allKeys))
	for i, k := range allKeys {
		out[i] = r.key(k)
	}
	return out
}

func (r *RedisBackend) Load(ctx context.Context) (map[string]string, error) {
	vals, err := r.rdb.MGet(ctx, r.keys()...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	entries := make(map[string]string, len(allKeys))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			entries[allKeys[i]] = s
		}
	}
	return entries, nil
}

// Save writes present entries and deletes absent ones inside one MULTI/EXEC.
func (r *RedisBackend) Save(ctx context.Context, entries map[string]string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range allKeys {
			if v, ok := entries[k]; ok && v != "" {
				pipe.Set(ctx, r.key(k), v, 0)
			} else {
				pipe.Del(ctx, r.key(k))
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("session.redis.save_failed", zap.Error(err))
		return fmt.Errorf("redis save session: %w", err)
	}
	return nil
}

// Clear removes all entries with a single DEL.
func (r *RedisBackend) Clear(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.keys()...).Err(); err != nil {
		r.logger.Error("session.redis.clear_failed", zap.Error(err))
		return fmt.Errorf("redis clear session: %w", err)
	}
	return nil
}

// HealthCheck pings Redis.
func (r *RedisBackend) HealthCheck(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisBackend) Close() error { return r.rdb.Close() }

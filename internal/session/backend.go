package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Persisted key names, mirrored by every backend.
const (
	KeyToken        = "auth_token"
	KeyRefreshToken = "refresh_token"
	KeyUserInfo     = "user_info"
)

var allKeys = []string{KeyToken, KeyRefreshToken, KeyUserInfo}

// ErrUnknownBackend is returned by Open for an unrecognized backend name.
var ErrUnknownBackend = errors.New("unknown session backend")

// Backend persists the three session entries as strings.
//
// Save replaces the whole entry set: keys missing from entries are removed.
// Save and Clear must each be a single all-or-nothing operation.
type Backend interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, entries map[string]string) error
	Clear(ctx context.Context) error
	Close() error
}

// BackendConfig selects and configures a Backend.
type BackendConfig struct {
	Kind      string // memory | file | redis
	FilePath  string
	RedisAddr string
	RedisDB   int
	RedisPass string
	KeyPrefix string
}

// Open builds the backend named by cfg.Kind.
func Open(ctx context.Context, cfg BackendConfig, logger *zap.Logger) (Backend, error) {
	switch cfg.Kind {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "file":
		return NewFileBackend(cfg.FilePath)
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			DB:       cfg.RedisDB,
			Password: cfg.RedisPass,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		return NewRedisBackend(rdb, cfg.KeyPrefix, logger), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Kind)
}

// MemoryBackend keeps entries in process memory; nothing survives a restart.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]string)}
}

func (m *MemoryBackend) Load(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.entries), nil
}

func (m *MemoryBackend) Save(_ context.Context, entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = maps.Clone(entries)
	if m.entries == nil {
		m.entries = make(map[string]string)
	}
	return nil
}

func (m *MemoryBackend) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]string)
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

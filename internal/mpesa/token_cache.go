package mpesa

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/muranga-mess/api/internal/clock"
	"github.com/redis/go-redis/v9"
)

// TokenCache stores OAuth access tokens until shortly before they expire.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, token string, ttl time.Duration) error
}

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryTokenCache keeps tokens in process. Used when no Redis is configured.
type MemoryTokenCache struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]memoryEntry
}

func NewMemoryTokenCache(clk clock.Clock) *MemoryTokenCache {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &MemoryTokenCache{clock: clk, entries: make(map[string]memoryEntry)}
}

func (m *MemoryTokenCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if !m.clock.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.token, true, nil
}

func (m *MemoryTokenCache) Set(_ context.Context, key, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{token: token, expiresAt: m.clock.Now().Add(ttl)}
	return nil
}

// RedisTokenCache shares tokens between server replicas.
type RedisTokenCache struct {
	client *redis.Client
}

func NewRedisTokenCache(client *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{client: client}
}

func (r *RedisTokenCache) Get(ctx context.Context, key string) (string, bool, error) {
	token, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

func (r *RedisTokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) error {
	return r.client.Set(ctx, key, token, ttl).Err()
}

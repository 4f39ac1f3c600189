// Package dedupe remembers webhook delivery ids so retried webhooks are
// answered without running the turn twice.
package dedupe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Deduper records keys. First reports true the first time a key is seen
// within the TTL. Forget releases a key so a later delivery is processed.
type Deduper interface {
	First(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Redis shares seen keys across instances with SETNX.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects to addr and checks the connection.
func NewRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisClient(rdb, ttl), nil
}

// NewRedisClient wraps an existing client.
func NewRedisClient(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, prefix: "relay:dedupe:", ttl: ttl}
}

func (r *Redis) First(ctx context.Context, key string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.prefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) Forget(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Memory keeps seen keys in process. It covers a single instance when no
// Redis is configured.
type Memory struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

func (m *Memory) First(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, exp := range m.seen {
		if now.After(exp) {
			delete(m.seen, k)
		}
	}
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = now.Add(m.ttl)
	return true, nil
}

func (m *Memory) Forget(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	return nil
}

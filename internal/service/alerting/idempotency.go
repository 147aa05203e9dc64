package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "ade:alert:dispatched:"

// RedisGuard claims dispatch ownership with SET NX so that replicas sharing
// one Redis never double-alert the same detection.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, detectionID uuid.UUID) (bool, error) {
	return g.client.SetNX(ctx, dedupeKeyPrefix+detectionID.String(), 1, g.ttl).Result()
}

// MemoryGuard is the single-process fallback when Redis is not configured.
type MemoryGuard struct {
	mu   sync.Mutex
	seen map[uuid.UUID]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{seen: make(map[uuid.UUID]struct{})}
}

func (g *MemoryGuard) Acquire(_ context.Context, detectionID uuid.UUID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[detectionID]; ok {
		return false, nil
	}
	g.seen[detectionID] = struct{}{}
	return true, nil
}

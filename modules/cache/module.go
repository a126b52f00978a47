package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-monolith/mono"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key this service writes.
const DefaultPrefix = "memories:"

// CacheModule owns the Redis client behind the room cache.
type CacheModule struct {
	client    *redis.Client
	cache     *RoomCache
	redisAddr string
}

// Compile-time interface checks
var (
	_ mono.Module                = (*CacheModule)(nil)
	_ mono.HealthCheckableModule = (*CacheModule)(nil)
)

// NewModule creates the cache module. The client connects lazily, so the
// cache can be wired into other modules before Start.
func NewModule(redisAddr, prefix string, ttl time.Duration) *CacheModule {
	client := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &CacheModule{
		client:    client,
		cache:     NewRoomCache(client, prefix, ttl),
		redisAddr: redisAddr,
	}
}

// Name returns the module name.
func (m *CacheModule) Name() string {
	return "cache"
}

// Cache returns the room cache.
func (m *CacheModule) Cache() *RoomCache {
	return m.cache
}

// Start checks the connection. An unreachable Redis is logged, not fatal:
// lookups fall through to the store until it comes back.
func (m *CacheModule) Start(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := m.cache.Ping(pingCtx); err != nil {
		log.Printf("[cache] Redis at %s unreachable, room lookups will read the store: %v", m.redisAddr, err)
		return nil
	}
	log.Printf("[cache] Connected to Redis at %s (TTL: %s)", m.redisAddr, m.cache.ttl)
	return nil
}

// Stop stops the module and closes the Redis connection.
func (m *CacheModule) Stop(_ context.Context) error {
	if err := m.client.Close(); err != nil {
		log.Printf("[cache] Error closing Redis connection: %v", err)
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}
	log.Println("[cache] Module stopped")
	return nil
}

// Health verifies the Redis connection and reports cache statistics.
func (m *CacheModule) Health(ctx context.Context) mono.HealthStatus {
	counters := m.cache.Counters()
	details := map[string]any{
		"redis":     m.redisAddr,
		"hits":      counters.Hits,
		"misses":    counters.Misses,
		"failures":  counters.Failures,
		"hit_ratio": counters.HitRatio(),
	}

	if err := m.cache.Ping(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("redis ping failed: %v", err),
			Details: details,
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: details,
	}
}

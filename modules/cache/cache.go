// Package cache keeps account-to-room lookups in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	domain "github.com/example/memories-chat/domain/chat"
	"github.com/redis/go-redis/v9"
)

// RoomCache stores resolved rooms in Redis, one key per account.
type RoomCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	hits     atomic.Uint64
	misses   atomic.Uint64
	writes   atomic.Uint64
	failures atomic.Uint64
}

// Counters is a point-in-time copy of the cache counters.
type Counters struct {
	Hits     uint64
	Misses   uint64
	Writes   uint64
	Failures uint64
}

// HitRatio is the share of lookups answered from Redis, between 0 and 1.
func (c Counters) HitRatio() float64 {
	if c.Hits+c.Misses == 0 {
		return 0
	}
	return float64(c.Hits) / float64(c.Hits+c.Misses)
}

// NewRoomCache creates a room cache. Keys are prefix + "room:" + account ID.
func NewRoomCache(client *redis.Client, prefix string, ttl time.Duration) *RoomCache {
	return &RoomCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RoomCache) key(accountID string) string {
	return c.prefix + "room:" + accountID
}

// GetRoom returns the cached room of accountID, or nil on a miss.
func (c *RoomCache) GetRoom(ctx context.Context, accountID string) (*domain.Room, error) {
	data, err := c.client.Get(ctx, c.key(accountID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		c.misses.Add(1)
		return nil, nil
	case err != nil:
		c.failures.Add(1)
		return nil, fmt.Errorf("read cached room of account %s: %w", accountID, err)
	}

	var room domain.Room
	if err := json.Unmarshal(data, &room); err != nil {
		c.failures.Add(1)
		return nil, fmt.Errorf("decode cached room of account %s: %w", accountID, err)
	}
	c.hits.Add(1)
	return &room, nil
}

// SetRoom caches room under its account for the configured TTL.
func (c *RoomCache) SetRoom(ctx context.Context, room *domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		c.failures.Add(1)
		return fmt.Errorf("encode room %s: %w", room.ID, err)
	}
	if err := c.client.Set(ctx, c.key(room.AccountID), data, c.ttl).Err(); err != nil {
		c.failures.Add(1)
		return fmt.Errorf("cache room %s: %w", room.ID, err)
	}
	c.writes.Add(1)
	return nil
}

// Counters returns the current counters.
func (c *RoomCache) Counters() Counters {
	return Counters{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Writes:   c.writes.Load(),
		Failures: c.failures.Load(),
	}
}

// Ping checks the Redis connection.
func (c *RoomCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

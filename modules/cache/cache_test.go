package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/example/memories-chat/domain/chat"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRedisAddr requires Redis running on localhost:6379 unless overridden.
func testRedisAddr() string {
	if addr := os.Getenv("TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// setupTestCache creates a cache against a live Redis, skipping when none is reachable.
func setupTestCache(t *testing.T, prefix string) *RoomCache {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: testRedisAddr()})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available at %s: %v", testRedisAddr(), err)
	}

	cleanupKeys(ctx, client, prefix+"*")
	t.Cleanup(func() {
		cleanupKeys(ctx, client, prefix+"*")
		_ = client.Close()
	})
	return NewRoomCache(client, prefix, time.Minute)
}

// unreachableCache points at a port nothing listens on.
func unreachableCache(t *testing.T) *RoomCache {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewRoomCache(client, "test:", time.Minute)
}

// cleanupKeys removes all keys matching the pattern.
func cleanupKeys(ctx context.Context, client *redis.Client, pattern string) {
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return
		}
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// countingResolver counts store lookups.
type countingResolver struct {
	calls   atomic.Int64
	room    *domain.Room
	release chan struct{}
}

func (r *countingResolver) ResolveRoom(_ context.Context, accountID string) (*domain.Room, error) {
	r.calls.Add(1)
	if r.release != nil {
		<-r.release
	}
	if r.room == nil || r.room.AccountID != accountID {
		return nil, domain.ErrRoomNotFound
	}
	room := *r.room
	return &room, nil
}

func testRoom() *domain.Room {
	return &domain.Room{
		ID:             "room-1",
		AccountID:      "acct-1",
		Participant1ID: "u1",
		Participant2ID: "u2",
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRoomCache_SetAndGet(t *testing.T) {
	c := setupTestCache(t, "test:setget:")
	ctx := context.Background()

	missing, err := c.GetRoom(ctx, "acct-none")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, c.SetRoom(ctx, testRoom()))

	got, err := c.GetRoom(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "room-1", got.ID)
	assert.Equal(t, "u2", got.Participant2ID)
	assert.True(t, got.CreatedAt.Equal(testRoom().CreatedAt))

	counters := c.Counters()
	assert.Equal(t, uint64(1), counters.Hits)
	assert.Equal(t, uint64(1), counters.Misses)
	assert.Equal(t, uint64(1), counters.Writes)
	assert.InDelta(t, 0.5, counters.HitRatio(), 0.001)
}

func TestCounters_HitRatio(t *testing.T) {
	tests := []struct {
		name     string
		counters Counters
		want     float64
	}{
		{"no lookups", Counters{}, 0},
		{"all hits", Counters{Hits: 4}, 1},
		{"mixed", Counters{Hits: 3, Misses: 1, Failures: 7}, 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.counters.HitRatio(); got != tt.want {
				t.Errorf("HitRatio() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRoomResolver_CachesFoundRooms(t *testing.T) {
	c := setupTestCache(t, "test:rooms:")
	store := &countingResolver{room: testRoom()}
	r := NewRoomResolver(store, c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		room, err := r.ResolveRoom(ctx, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, "room-1", room.ID)
	}
	assert.Equal(t, int64(1), store.calls.Load())

	for i := 0; i < 2; i++ {
		_, err := r.ResolveRoom(ctx, "acct-unknown")
		assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	}
	assert.Equal(t, int64(3), store.calls.Load(), "not-found is never cached")
}

func TestRoomResolver_FallsBackWhenRedisDown(t *testing.T) {
	c := unreachableCache(t)
	store := &countingResolver{room: testRoom()}
	r := NewRoomResolver(store, c)

	room, err := r.ResolveRoom(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "room-1", room.ID)
	assert.Equal(t, int64(1), store.calls.Load())
	assert.NotZero(t, c.Counters().Failures)

	_, err = r.ResolveRoom(context.Background(), "acct-2")
	assert.True(t, errors.Is(err, domain.ErrRoomNotFound))
}

func TestRoomResolver_CollapsesConcurrentMisses(t *testing.T) {
	c := unreachableCache(t)
	store := &countingResolver{room: testRoom(), release: make(chan struct{})}
	r := NewRoomResolver(store, c)

	var wg sync.WaitGroup
	results := make([]*domain.Room, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := r.ResolveRoom(context.Background(), "acct-1")
			if err == nil {
				results[i] = room
			}
		}(i)
	}

	require.Eventually(t, func() bool { return store.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	close(store.release)
	wg.Wait()

	assert.Equal(t, int64(1), store.calls.Load())
	for _, room := range results {
		require.NotNil(t, room)
		assert.Equal(t, "room-1", room.ID)
	}
}

func TestCacheModule_Lifecycle(t *testing.T) {
	m := NewModule("127.0.0.1:1", DefaultPrefix, time.Minute)
	ctx := context.Background()

	assert.Equal(t, "cache", m.Name())
	assert.NotNil(t, m.Cache())
	require.NoError(t, m.Start(ctx), "unreachable Redis is not fatal")

	health := m.Health(ctx)
	assert.False(t, health.Healthy)
	assert.Equal(t, "127.0.0.1:1", health.Details["redis"])

	require.NoError(t, m.Stop(ctx))
}

package cache

import (
	"context"
	"log"

	domain "github.com/example/memories-chat/domain/chat"
	"golang.org/x/sync/singleflight"
)

// RoomResolver caches account-to-room lookups in front of the store.
// Rooms are never recreated, so a cached room stays valid; a missing room
// is never cached.
type RoomResolver struct {
	next    domain.RoomResolver
	cache   *RoomCache
	sfGroup singleflight.Group // Prevents cache stampede
}

var _ domain.RoomResolver = (*RoomResolver)(nil)

// NewRoomResolver wraps next with the cache.
func NewRoomResolver(next domain.RoomResolver, cache *RoomCache) *RoomResolver {
	return &RoomResolver{next: next, cache: cache}
}

// ResolveRoom returns the cached room of accountID, reading the store on a
// miss. Redis errors fall through to the store.
func (r *RoomResolver) ResolveRoom(ctx context.Context, accountID string) (*domain.Room, error) {
	cached, err := r.cache.GetRoom(ctx, accountID)
	if err != nil {
		log.Printf("[cache] Room lookup for account %s failed, reading store: %v", accountID, err)
	}
	if cached != nil {
		return cached, nil
	}

	val, err, _ := r.sfGroup.Do(accountID, func() (any, error) {
		room, err := r.next.ResolveRoom(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if err := r.cache.SetRoom(ctx, room); err != nil {
			log.Printf("[cache] Failed to cache room of account %s: %v", accountID, err)
		}
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	return val.(*domain.Room), nil
}

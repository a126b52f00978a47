package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/example/memories-chat/domain/chat"
	"github.com/google/uuid"
)

// DemoAccountID is the fixed account used by SeedDemo.
const DemoAccountID = "demo-account"

// DemoAccount is the couple created by SeedDemo.
type DemoAccount struct {
	Room    *domain.Room
	Members []domain.User
}

// SeedDemo creates one account with two members and their chat room.
// It is idempotent: an existing demo room is returned as is.
func SeedDemo(ctx context.Context, b Backend) (*DemoAccount, error) {
	room, err := b.ResolveRoom(ctx, DemoAccountID)
	switch {
	case err == nil:
		members, err := b.ListAccountMembers(ctx, DemoAccountID)
		if err != nil {
			return nil, err
		}
		return &DemoAccount{Room: room, Members: members}, nil
	case !errors.Is(err, domain.ErrRoomNotFound):
		return nil, err
	}

	now := time.Now().UTC()
	members := []domain.User{
		{ID: uuid.New().String(), AccountID: DemoAccountID, Username: "alex", CreatedAt: now},
		{ID: uuid.New().String(), AccountID: DemoAccountID, Username: "sam", CreatedAt: now.Add(time.Millisecond)},
	}
	for i := range members {
		if err := b.CreateUser(ctx, &members[i]); err != nil {
			return nil, fmt.Errorf("failed to seed user %s: %w", members[i].Username, err)
		}
	}

	room = &domain.Room{
		ID:             uuid.New().String(),
		AccountID:      DemoAccountID,
		Participant1ID: members[0].ID,
		Participant2ID: members[1].ID,
		CreatedAt:      now,
	}
	if err := b.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to seed chat room: %w", err)
	}

	return &DemoAccount{Room: room, Members: members}, nil
}

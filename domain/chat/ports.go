package chat

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrRoomNotFound       = errors.New("chat room not found")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrEmptyMessage       = errors.New("message has no content or attachments")
	ErrMessageTooLong     = errors.New("message content too long")
)

// MessageRepository persists chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg *Message) error
	// ListMessages returns a room's messages newest first.
	ListMessages(ctx context.Context, roomID string, limit, offset int) ([]Message, error)
	// DeleteExpired removes ephemeral messages whose expiry is at or before now
	// and returns how many rows were deleted.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Directory is the read/write boundary to the account collaborator.
type Directory interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	ListAccountMembers(ctx context.Context, accountID string) ([]User, error)
	SetPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) error
	// MarkAllOffline clears stale online flags left by a previous process.
	MarkAllOffline(ctx context.Context, now time.Time) (int64, error)
}

// RoomResolver maps an account to its chat room. It never creates rooms.
type RoomResolver interface {
	ResolveRoom(ctx context.Context, accountID string) (*Room, error)
}

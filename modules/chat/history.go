package chat

import (
	"context"
	"time"

	domain "github.com/example/memories-chat/domain/chat"
)

// History page sizes.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// HistoryService answers room and history queries for an authenticated user.
type HistoryService struct {
	directory domain.Directory
	rooms     domain.RoomResolver
	messages  domain.MessageRepository
	timeout   time.Duration
}

// NewHistoryService creates a HistoryService.
func NewHistoryService(directory domain.Directory, rooms domain.RoomResolver, messages domain.MessageRepository, timeout time.Duration) *HistoryService {
	return &HistoryService{directory: directory, rooms: rooms, messages: messages, timeout: timeout}
}

// RoomFor returns the room of userID's account.
func (h *HistoryService) RoomFor(ctx context.Context, userID string) (*domain.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	user, err := h.directory.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return h.rooms.ResolveRoom(ctx, user.AccountID)
}

// MessagesFor returns a page of the room history, newest first.
func (h *HistoryService) MessagesFor(ctx context.Context, userID string, limit, offset int) ([]domain.Message, error) {
	room, err := h.RoomFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	limit, offset = clampPage(limit, offset)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.messages.ListMessages(ctx, room.ID, limit, offset)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

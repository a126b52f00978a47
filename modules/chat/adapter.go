package chat

import (
	"context"
	"encoding/json"
	"fmt"

	domain "github.com/example/memories-chat/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// ChatPort is what the HTTP surface needs from the chat module.
type ChatPort interface {
	GetRoom(ctx context.Context, userID string) (*domain.Room, error)
	ListMessages(ctx context.Context, userID string, limit, offset int) ([]domain.Message, error)
}

// ChatAdapter implements ChatPort using the service container.
type ChatAdapter struct {
	container mono.ServiceContainer
}

// NewChatAdapter creates a new ChatAdapter.
func NewChatAdapter(container mono.ServiceContainer) *ChatAdapter {
	if container == nil {
		panic("chat adapter requires a non-nil ServiceContainer")
	}
	return &ChatAdapter{container: container}
}

// GetRoom returns the room of userID's account, or domain.ErrRoomNotFound.
func (a *ChatAdapter) GetRoom(ctx context.Context, userID string) (*domain.Room, error) {
	req := GetRoomRequest{UserID: userID}
	var resp GetRoomResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		"get-room",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("get-room request failed: %w", err)
	}

	if !resp.Found || resp.Room == nil {
		return nil, domain.ErrRoomNotFound
	}
	return resp.Room, nil
}

// ListMessages returns a page of the room history, newest first.
func (a *ChatAdapter) ListMessages(ctx context.Context, userID string, limit, offset int) ([]domain.Message, error) {
	req := ListMessagesRequest{UserID: userID, Limit: limit, Offset: offset}
	var resp ListMessagesResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		"list-messages",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("list-messages request failed: %w", err)
	}

	if !resp.Found {
		return nil, domain.ErrRoomNotFound
	}
	return resp.Messages, nil
}

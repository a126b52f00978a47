package chat

import domain "github.com/example/memories-chat/domain/chat"

// GetRoomRequest is the request for the get-room service.
type GetRoomRequest struct {
	UserID string `json:"user_id"`
}

// GetRoomResponse is the response for the get-room service.
type GetRoomResponse struct {
	Found bool         `json:"found"`
	Room  *domain.Room `json:"room,omitempty"`
}

// ListMessagesRequest is the request for the list-messages service.
type ListMessagesRequest struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// ListMessagesResponse is the response for the list-messages service.
type ListMessagesResponse struct {
	Found    bool             `json:"found"`
	Messages []domain.Message `json:"messages"`
}

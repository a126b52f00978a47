package chat

import (
	"encoding/json"
	"time"

	domain "github.com/example/memories-chat/domain/chat"
)

// Frame types exchanged over /ws.
const (
	FrameAuth          = "auth"
	FrameChatMessage   = "chat_message"
	FrameNewMessage    = "new_message"
	FramePartnerStatus = "partner_status"
	FrameError         = "error"
)

// Error codes carried by error frames.
const (
	CodeInvalidFrame    = "invalid_frame"
	CodeUnknownType     = "unknown_type"
	CodeUnauthenticated = "unauthenticated"
	CodeUnauthorized    = "unauthorized"
	CodeInvalidMessage  = "invalid_message"
	CodeUnavailable     = "unavailable"
	CodeRateLimited     = "rate_limited"
)

// InboundFrame is any frame a client sends. Only the fields relevant to
// Type are read.
type InboundFrame struct {
	Type        string          `json:"type"`
	UserID      string          `json:"userId,omitempty"`
	Token       string          `json:"token,omitempty"`
	Content     string          `json:"content,omitempty"`
	MessageType string          `json:"messageType,omitempty"`
	IsEphemeral bool            `json:"isEphemeral,omitempty"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
}

// ChatFrame is the payload of a chat_message frame.
type ChatFrame struct {
	Content     string
	MessageType string
	IsEphemeral bool
	Attachments json.RawMessage
}

// NewMessageFrame is pushed to every live member after a message is stored.
type NewMessageFrame struct {
	Type    string          `json:"type"`
	Message *domain.Message `json:"message"`
}

// PartnerStatusFrame tells a member that another member came or went.
type PartnerStatusFrame struct {
	Type     string     `json:"type"`
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// ErrorFrame rejects a client frame.
type ErrorFrame struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

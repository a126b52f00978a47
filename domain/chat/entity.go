package chat

import (
	"encoding/json"
	"time"
)

// EphemeralLifetime is how long an ephemeral message lives after creation.
const EphemeralLifetime = 2 * time.Minute

// MaxContentLength bounds the text body of a single message.
const MaxContentLength = 5000

// MessageType classifies a chat message.
type MessageType string

const (
	TypeText           MessageType = "text"
	TypePhoto          MessageType = "photo"
	TypeVideo          MessageType = "video"
	TypeEphemeralPhoto MessageType = "ephemeral_photo"
	TypeEphemeralVideo MessageType = "ephemeral_video"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypePhoto, TypeVideo, TypeEphemeralPhoto, TypeEphemeralVideo:
		return true
	}
	return false
}

// Ephemeral reports whether the type always self-destructs.
func (t MessageType) Ephemeral() bool {
	return t == TypeEphemeralPhoto || t == TypeEphemeralVideo
}

// User is the subset of an account member the chat core reads and writes.
// The record itself is owned by the account collaborator.
type User struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	AccountID string     `gorm:"size:36;index;not null" json:"accountId"`
	Username  string     `gorm:"size:100" json:"username"`
	IsOnline  bool       `gorm:"not null;default:false" json:"isOnline"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// TableName overrides the default table name.
func (User) TableName() string {
	return "users"
}

// Room is the single chat room shared by one account.
type Room struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	AccountID      string    `gorm:"size:36;uniqueIndex;not null" json:"accountId"`
	Participant1ID string    `gorm:"size:36" json:"participant1Id"`
	Participant2ID string    `gorm:"size:36" json:"participant2Id"`
	CreatedAt      time.Time `json:"createdAt"`
}

// TableName overrides the default table name.
func (Room) TableName() string {
	return "chat_rooms"
}

// Message is a persisted chat message.
//
// IsEphemeral is true iff ExpiresAt is set, and then ExpiresAt is exactly
// CreatedAt + EphemeralLifetime.
type Message struct {
	ID          string          `gorm:"primaryKey;size:36" json:"id"`
	RoomID      string          `gorm:"size:36;index;not null" json:"roomId"`
	AuthorID    string          `gorm:"size:36;not null" json:"authorId"`
	Content     string          `gorm:"type:text" json:"content"`
	Type        MessageType     `gorm:"size:32;not null;default:text" json:"type"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
	IsEphemeral bool            `gorm:"not null;default:false" json:"isEphemeral"`
	ExpiresAt   *time.Time      `gorm:"index" json:"expiresAt,omitempty"`
	IsRead      bool            `gorm:"not null;default:false" json:"isRead"`
	CreatedAt   time.Time       `gorm:"index" json:"createdAt"`
}

// TableName overrides the default table name.
func (Message) TableName() string {
	return "chat_messages"
}

// Expired reports whether an ephemeral message is past its expiry at now.
func (m *Message) Expired(now time.Time) bool {
	return m.IsEphemeral && m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

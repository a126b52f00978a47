package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	domain "github.com/example/memories-chat/domain/chat"
	"github.com/example/memories-chat/modules/presence"
	"github.com/google/uuid"
)

// ClientLookup finds the live client of a user.
type ClientLookup interface {
	Lookup(userID string) (*presence.Client, bool)
}

// DispatchResult summarises one fan-out.
type DispatchResult struct {
	Message    *domain.Message
	Recipients int // members with a live client
	Delivered  int
	Failed     int
}

// Dispatcher stores a sender's message once and pushes it to every live
// member of the sender's account.
type Dispatcher struct {
	directory domain.Directory
	rooms     domain.RoomResolver
	messages  domain.MessageRepository
	clients   ClientLookup
	timeout   time.Duration
	now       func() time.Time
}

// NewDispatcher creates a Dispatcher. Every store call is bounded by timeout.
func NewDispatcher(directory domain.Directory, rooms domain.RoomResolver, messages domain.MessageRepository, clients ClientLookup, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		directory: directory,
		rooms:     rooms,
		messages:  messages,
		clients:   clients,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Dispatch resolves the sender and room, persists the message and fans it out.
// Nothing is pushed unless the message was stored; push failures are counted
// in the result and never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, senderID string, frame ChatFrame) (*DispatchResult, error) {
	msgType, attachments, err := validate(frame)
	if err != nil {
		return nil, err
	}

	sender, err := d.getUser(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("resolve sender %s: %w", senderID, err)
	}

	room, err := d.resolveRoom(ctx, sender.AccountID)
	if err != nil {
		return nil, fmt.Errorf("resolve room for account %s: %w", sender.AccountID, err)
	}

	createdAt := d.now().UTC()
	msg := &domain.Message{
		ID:          uuid.New().String(),
		RoomID:      room.ID,
		AuthorID:    sender.ID,
		Content:     frame.Content,
		Type:        msgType,
		Attachments: attachments,
		CreatedAt:   createdAt,
	}
	if frame.IsEphemeral || msgType.Ephemeral() {
		expiresAt := createdAt.Add(domain.EphemeralLifetime)
		msg.IsEphemeral = true
		msg.ExpiresAt = &expiresAt
	}

	if err := d.persist(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	members, err := d.listMembers(ctx, sender.AccountID)
	if err != nil {
		return &DispatchResult{Message: msg}, fmt.Errorf("message %s stored but members unavailable: %w", msg.ID, err)
	}

	return d.push(msg, members), nil
}

func (d *Dispatcher) push(msg *domain.Message, members []domain.User) *DispatchResult {
	res := &DispatchResult{Message: msg}

	data, err := json.Marshal(NewMessageFrame{Type: FrameNewMessage, Message: msg})
	if err != nil {
		log.Printf("[chat] Failed to encode message %s: %v", msg.ID, err)
		return res
	}

	for _, member := range members {
		client, ok := d.clients.Lookup(member.ID)
		if !ok {
			continue
		}
		res.Recipients++
		if err := client.SendRaw(data); err != nil {
			res.Failed++
			log.Printf("[chat] Push of message %s to user %s failed: %v", msg.ID, member.ID, err)
			continue
		}
		res.Delivered++
	}
	return res
}

func (d *Dispatcher) getUser(ctx context.Context, userID string) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.directory.GetUser(ctx, userID)
}

func (d *Dispatcher) resolveRoom(ctx context.Context, accountID string) (*domain.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.rooms.ResolveRoom(ctx, accountID)
}

func (d *Dispatcher) persist(ctx context.Context, msg *domain.Message) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.messages.CreateMessage(ctx, msg)
}

func (d *Dispatcher) listMembers(ctx context.Context, accountID string) ([]domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.directory.ListAccountMembers(ctx, accountID)
}

// validate applies the message defaults and rejects unusable frames.
func validate(frame ChatFrame) (domain.MessageType, json.RawMessage, error) {
	msgType := domain.MessageType(frame.MessageType)
	if msgType == "" {
		msgType = domain.TypeText
	}
	if !msgType.Valid() {
		return "", nil, fmt.Errorf("%w: %q", domain.ErrInvalidMessageType, frame.MessageType)
	}

	attachments := frame.Attachments
	if trimmed := bytes.TrimSpace(attachments); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		attachments = nil
	}

	if frame.Content == "" && attachments == nil {
		return "", nil, domain.ErrEmptyMessage
	}
	if utf8.RuneCountInString(frame.Content) > domain.MaxContentLength {
		return "", nil, domain.ErrMessageTooLong
	}
	return msgType, attachments, nil
}

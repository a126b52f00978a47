package chat

import (
	"context"
	"log"
	"time"

	domain "github.com/example/memories-chat/domain/chat"
	"github.com/example/memories-chat/events"
)

// MemberLister lists the members of an account.
type MemberLister interface {
	ListAccountMembers(ctx context.Context, accountID string) ([]domain.User, error)
}

// PresenceAnnouncer tells other members about a presence change.
type PresenceAnnouncer interface {
	Announce(ctx context.Context, event events.PresenceChangedEvent)
}

// PartnerNotifier pushes partner_status frames to the live members of an
// account.
type PartnerNotifier struct {
	members MemberLister
	clients ClientLookup
	timeout time.Duration
}

// NewPartnerNotifier creates a PartnerNotifier.
func NewPartnerNotifier(members MemberLister, clients ClientLookup, timeout time.Duration) *PartnerNotifier {
	return &PartnerNotifier{members: members, clients: clients, timeout: timeout}
}

// Announce delivers the change directly, without an event bus.
func (n *PartnerNotifier) Announce(ctx context.Context, event events.PresenceChangedEvent) {
	n.NotifyPartners(ctx, event)
}

// NotifyPartners pushes the change to every live member except the subject.
// It returns the number of frames queued.
func (n *PartnerNotifier) NotifyPartners(ctx context.Context, event events.PresenceChangedEvent) int {
	members, err := n.list(ctx, event.AccountID)
	if err != nil {
		log.Printf("[chat] Failed to list members of account %s: %v", event.AccountID, err)
		return 0
	}

	frame := PartnerStatusFrame{
		Type:     FramePartnerStatus,
		UserID:   event.UserID,
		IsOnline: event.IsOnline,
		LastSeen: event.LastSeen,
	}

	sent := 0
	for _, member := range members {
		if member.ID == event.UserID {
			continue
		}
		client, ok := n.clients.Lookup(member.ID)
		if !ok {
			continue
		}
		if err := client.Send(frame); err != nil {
			log.Printf("[chat] partner_status to user %s failed: %v", member.ID, err)
			continue
		}
		sent++
	}
	return sent
}

// SendSnapshot tells a freshly authenticated user where the other members
// of the account stand.
func (n *PartnerNotifier) SendSnapshot(ctx context.Context, user *domain.User, to frameSender) {
	members, err := n.list(ctx, user.AccountID)
	if err != nil {
		log.Printf("[chat] Failed to list members of account %s: %v", user.AccountID, err)
		return
	}

	for _, member := range members {
		if member.ID == user.ID {
			continue
		}
		_, online := n.clients.Lookup(member.ID)
		frame := PartnerStatusFrame{
			Type:     FramePartnerStatus,
			UserID:   member.ID,
			IsOnline: online,
		}
		if !online {
			frame.LastSeen = member.LastSeen
		}
		if err := to.Send(frame); err != nil {
			return
		}
	}
}

func (n *PartnerNotifier) list(ctx context.Context, accountID string) ([]domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return n.members.ListAccountMembers(ctx, accountID)
}

type frameSender interface {
	Send(frame any) error
}

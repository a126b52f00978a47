package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// PresenceChangedEvent is emitted when a user's live connection appears or goes away.
type PresenceChangedEvent struct {
	UserID    string     `json:"user_id"`
	AccountID string     `json:"account_id"`
	IsOnline  bool       `json:"is_online"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// PresenceChangedV1 drives partner_status pushes to the other account members.
var PresenceChangedV1 = helper.EventDefinition[PresenceChangedEvent](
	"chat",
	"PresenceChanged",
	"v1",
)

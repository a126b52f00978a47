package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	domain "github.com/example/memories-chat/domain/chat"
	"github.com/example/memories-chat/events"
	"github.com/example/memories-chat/modules/presence"
	"golang.org/x/time/rate"
)

var (
	// ErrMissingToken is returned when an auth frame carries no token and
	// none was supplied on upgrade.
	ErrMissingToken = errors.New("auth token is required")
	// ErrIdentityMismatch is returned when the claimed user differs from the
	// token subject.
	ErrIdentityMismatch = errors.New("claimed user does not match token")
	// ErrNoVerifier is returned when tokens must be verified but no verifier is set.
	ErrNoVerifier = errors.New("identity verification unavailable")
)

// IdentityVerifier returns the user a token was issued to.
type IdentityVerifier interface {
	VerifyToken(token string) (string, error)
}

// SessionState is the lifecycle stage of a connection.
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticated
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// GatewayConfig configures how sessions authenticate.
type GatewayConfig struct {
	// TrustClientIdentity accepts the userId of an auth frame without a token.
	// Only meant for local development.
	TrustClientIdentity bool
	StoreTimeout        time.Duration
	// MessageRate is the sustained chat_message rate per connection, with
	// bursts up to MessageBurst. Zero disables the limit.
	MessageRate  float64
	MessageBurst int
}

// Gateway owns what every session shares: the registry, the directory and
// the dispatcher.
type Gateway struct {
	registry   *presence.Registry
	directory  domain.Directory
	dispatcher *Dispatcher
	notifier   *PartnerNotifier
	announcer  PresenceAnnouncer
	verifier   IdentityVerifier
	cfg        GatewayConfig
	now        func() time.Time
}

// NewGateway creates a Gateway. A nil announcer delivers presence changes
// directly through notifier.
func NewGateway(cfg GatewayConfig, registry *presence.Registry, directory domain.Directory, dispatcher *Dispatcher, notifier *PartnerNotifier, announcer PresenceAnnouncer, verifier IdentityVerifier) *Gateway {
	if announcer == nil {
		announcer = notifier
	}
	return &Gateway{
		registry:   registry,
		directory:  directory,
		dispatcher: dispatcher,
		notifier:   notifier,
		announcer:  announcer,
		verifier:   verifier,
		cfg:        cfg,
		now:        time.Now,
	}
}

// NewSession starts an unauthenticated session for client. upgradeToken is
// the token given on the upgrade request, if any.
func (g *Gateway) NewSession(client *presence.Client, upgradeToken string) *Session {
	s := &Session{
		gw:           g,
		client:       client,
		upgradeToken: upgradeToken,
		state:        StateUnauthenticated,
	}
	if g.cfg.MessageRate > 0 {
		burst := g.cfg.MessageBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(g.cfg.MessageRate), burst)
	}
	return s
}

// Online reports whether userID has a live connection.
func (g *Gateway) Online(userID string) bool {
	_, ok := g.registry.Lookup(userID)
	return ok
}

// authenticate returns the user the session should bind to.
func (g *Gateway) authenticate(claimed, token string) (string, error) {
	if token == "" {
		if g.cfg.TrustClientIdentity && claimed != "" {
			return claimed, nil
		}
		return "", ErrMissingToken
	}
	if g.verifier == nil {
		if g.cfg.TrustClientIdentity && claimed != "" {
			return claimed, nil
		}
		return "", ErrNoVerifier
	}

	subject, err := g.verifier.VerifyToken(token)
	if err != nil {
		return "", err
	}
	if claimed != "" && claimed != subject {
		return "", ErrIdentityMismatch
	}
	return subject, nil
}

func (g *Gateway) setPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.StoreTimeout)
	defer cancel()
	if err := g.directory.SetPresence(ctx, userID, online, lastSeen); err != nil {
		log.Printf("[chat] Failed to record presence of user %s: %v", userID, err)
	}
}

func (g *Gateway) getUser(ctx context.Context, userID string) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.StoreTimeout)
	defer cancel()
	return g.directory.GetUser(ctx, userID)
}

func (g *Gateway) announce(ctx context.Context, user *domain.User, online bool, lastSeen *time.Time) {
	g.announcer.Announce(ctx, events.PresenceChangedEvent{
		UserID:    user.ID,
		AccountID: user.AccountID,
		IsOnline:  online,
		LastSeen:  lastSeen,
		Timestamp: g.now().UTC(),
	})
}

// Session is the server side of one WebSocket connection. Frames of a
// session must be handled by a single goroutine.
type Session struct {
	gw           *Gateway
	client       *presence.Client
	upgradeToken string
	state        SessionState
	user         *domain.User
	limiter      *rate.Limiter
}

// State returns the current lifecycle stage.
func (s *Session) State() SessionState {
	return s.state
}

// UserID returns the bound user, or "" before authentication.
func (s *Session) UserID() string {
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

// HandleFrame processes one inbound text frame. Bad frames are answered with
// an error frame and never end the session.
func (s *Session) HandleFrame(ctx context.Context, data []byte) {
	if s.state == StateClosed {
		return
	}

	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Printf("[chat] Dropped malformed frame on client %s: %v", s.client.ID, err)
		s.reject(CodeInvalidFrame, "malformed frame")
		return
	}

	switch frame.Type {
	case FrameAuth:
		s.handleAuth(ctx, frame)
	case FrameChatMessage:
		s.handleChatMessage(ctx, frame)
	default:
		log.Printf("[chat] Dropped frame of unknown type %q on client %s", frame.Type, s.client.ID)
		s.reject(CodeUnknownType, fmt.Sprintf("unknown frame type %q", frame.Type))
	}
}

func (s *Session) handleAuth(ctx context.Context, frame InboundFrame) {
	token := frame.Token
	if token == "" {
		token = s.upgradeToken
	}

	userID, err := s.gw.authenticate(frame.UserID, token)
	if err != nil {
		log.Printf("[chat] Auth rejected on client %s: %v", s.client.ID, err)
		s.reject(CodeUnauthorized, err.Error())
		return
	}

	user, err := s.gw.getUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.reject(CodeUnauthorized, "unknown user")
			return
		}
		log.Printf("[chat] Failed to load user %s: %v", userID, err)
		s.reject(CodeUnavailable, "try again later")
		return
	}

	if s.state == StateAuthenticated {
		if s.user.ID == user.ID {
			return
		}
		s.release(ctx)
	}

	s.user = user
	s.state = StateAuthenticated
	if replaced := s.gw.registry.Register(user.ID, s.client); replaced != nil {
		log.Printf("[chat] User %s reconnected, closed client %s", user.ID, replaced.ID)
	}
	log.Printf("[chat] User %s authenticated on client %s", user.ID, s.client.ID)

	s.gw.setPresence(ctx, user.ID, true, nil)
	s.gw.announce(ctx, user, true, nil)
	s.gw.notifier.SendSnapshot(ctx, user, s.client)
}

func (s *Session) handleChatMessage(ctx context.Context, frame InboundFrame) {
	if s.state != StateAuthenticated {
		s.reject(CodeUnauthenticated, "authenticate before sending messages")
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.reject(CodeRateLimited, "rate limit exceeded, please slow down")
		return
	}

	res, err := s.gw.dispatcher.Dispatch(ctx, s.user.ID, ChatFrame{
		Content:     frame.Content,
		MessageType: frame.MessageType,
		IsEphemeral: frame.IsEphemeral,
		Attachments: frame.Attachments,
	})
	switch {
	case err == nil:
		log.Printf("[chat] Message %s delivered to %d/%d live members", res.Message.ID, res.Delivered, res.Recipients)
	case errors.Is(err, domain.ErrInvalidMessageType),
		errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrMessageTooLong):
		s.reject(CodeInvalidMessage, err.Error())
	default:
		log.Printf("[chat] Dropped message from user %s: %v", s.user.ID, err)
	}
}

// Close ends the session. If it still owns the user's registry entry the
// user is marked offline and the other members are told.
func (s *Session) Close(ctx context.Context) {
	if s.state == StateClosed {
		return
	}
	prev := s.state
	s.state = StateClosed
	s.client.Close()

	if prev == StateAuthenticated {
		s.release(ctx)
	}
}

func (s *Session) release(ctx context.Context) {
	user := s.user
	if !s.gw.registry.UnregisterClient(user.ID, s.client) {
		// Superseded by a newer connection of the same user.
		return
	}

	lastSeen := s.gw.now().UTC()
	s.gw.setPresence(ctx, user.ID, false, &lastSeen)

	// A reconnect may have registered and written online while the offline
	// write was in flight. Restore online so the store matches the registry.
	if _, back := s.gw.registry.Lookup(user.ID); back {
		s.gw.setPresence(ctx, user.ID, true, nil)
		log.Printf("[chat] User %s reconnected during release", user.ID)
		return
	}
	s.gw.announce(ctx, user, false, &lastSeen)
	log.Printf("[chat] User %s went offline", user.ID)
}

func (s *Session) reject(code, message string) {
	_ = s.client.Send(ErrorFrame{Type: FrameError, Code: code, Error: message})
}

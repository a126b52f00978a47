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
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// DefaultStoreTimeout bounds each store call when Dependencies leaves it unset.
const DefaultStoreTimeout = 5 * time.Second

// Dependencies are the collaborators the chat module is built from.
type Dependencies struct {
	Directory domain.Directory
	Rooms     domain.RoomResolver
	Messages  domain.MessageRepository
	Registry  *presence.Registry
	// Verifier checks auth tokens. It may be nil only when
	// TrustClientIdentity is set.
	Verifier            IdentityVerifier
	TrustClientIdentity bool
	StoreTimeout        time.Duration
	// MessageRate and MessageBurst limit chat_message frames per connection.
	MessageRate  float64
	MessageBurst int
}

// ChatModule hosts the connection gateway and the history services.
type ChatModule struct {
	gateway  *Gateway
	history  *HistoryService
	notifier *PartnerNotifier
	eventBus mono.EventBus
	trust    bool
}

// Compile-time interface checks
var (
	_ mono.Module                = (*ChatModule)(nil)
	_ mono.EventBusAwareModule   = (*ChatModule)(nil)
	_ mono.EventEmitterModule    = (*ChatModule)(nil)
	_ mono.EventConsumerModule   = (*ChatModule)(nil)
	_ mono.ServiceProviderModule = (*ChatModule)(nil)
	_ mono.HealthCheckableModule = (*ChatModule)(nil)
	_ PresenceAnnouncer          = (*ChatModule)(nil)
)

// NewModule creates the chat module.
func NewModule(deps Dependencies) *ChatModule {
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = DefaultStoreTimeout
	}
	m := &ChatModule{trust: deps.TrustClientIdentity}

	m.notifier = NewPartnerNotifier(deps.Directory, deps.Registry, deps.StoreTimeout)
	m.history = NewHistoryService(deps.Directory, deps.Rooms, deps.Messages, deps.StoreTimeout)
	dispatcher := NewDispatcher(deps.Directory, deps.Rooms, deps.Messages, deps.Registry, deps.StoreTimeout)
	m.gateway = NewGateway(GatewayConfig{
		TrustClientIdentity: deps.TrustClientIdentity,
		StoreTimeout:        deps.StoreTimeout,
		MessageRate:         deps.MessageRate,
		MessageBurst:        deps.MessageBurst,
	}, deps.Registry, deps.Directory, dispatcher, m.notifier, m, deps.Verifier)

	return m
}

// Name returns the module name.
func (m *ChatModule) Name() string {
	return "chat"
}

// Gateway returns the gateway that WebSocket handlers open sessions on.
func (m *ChatModule) Gateway() *Gateway {
	return m.gateway
}

// SetEventBus receives the EventBus from the framework.
func (m *ChatModule) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *ChatModule) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.PresenceChangedV1.ToBase(),
	}
}

// RegisterEventConsumers turns presence events into partner_status pushes.
func (m *ChatModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(registry, events.PresenceChangedV1, m.handlePresenceChanged, m); err != nil {
		return fmt.Errorf("failed to register PresenceChanged consumer: %w", err)
	}

	log.Printf("[chat] Registered event consumers: PresenceChanged")
	return nil
}

func (m *ChatModule) handlePresenceChanged(ctx context.Context, event events.PresenceChangedEvent, _ *mono.Msg) error {
	m.notifier.NotifyPartners(ctx, event)
	return nil
}

// Announce publishes a presence change. Without a bus, or when publishing
// fails, the change is pushed directly.
func (m *ChatModule) Announce(ctx context.Context, event events.PresenceChangedEvent) {
	if m.eventBus != nil {
		err := events.PresenceChangedV1.Publish(m.eventBus, event, nil)
		if err == nil {
			return
		}
		log.Printf("[chat] Failed to publish PresenceChanged for user %s: %v", event.UserID, err)
	}
	m.notifier.NotifyPartners(ctx, event)
}

// RegisterServices registers request-reply services in the service container.
func (m *ChatModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		"get-room",
		json.Unmarshal,
		json.Marshal,
		m.handleGetRoom,
	); err != nil {
		return fmt.Errorf("failed to register get-room service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container,
		"list-messages",
		json.Unmarshal,
		json.Marshal,
		m.handleListMessages,
	); err != nil {
		return fmt.Errorf("failed to register list-messages service: %w", err)
	}

	log.Printf("[chat] Registered services: get-room, list-messages")
	return nil
}

func (m *ChatModule) handleGetRoom(ctx context.Context, req GetRoomRequest, _ *mono.Msg) (GetRoomResponse, error) {
	room, err := m.history.RoomFor(ctx, req.UserID)
	if err != nil {
		if notFound(err) {
			return GetRoomResponse{Found: false}, nil
		}
		return GetRoomResponse{}, err
	}
	return GetRoomResponse{Found: true, Room: room}, nil
}

func (m *ChatModule) handleListMessages(ctx context.Context, req ListMessagesRequest, _ *mono.Msg) (ListMessagesResponse, error) {
	msgs, err := m.history.MessagesFor(ctx, req.UserID, req.Limit, req.Offset)
	if err != nil {
		if notFound(err) {
			return ListMessagesResponse{Found: false, Messages: []domain.Message{}}, nil
		}
		return ListMessagesResponse{}, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return ListMessagesResponse{Found: true, Messages: msgs}, nil
}

func notFound(err error) bool {
	return errors.Is(err, domain.ErrRoomNotFound) || errors.Is(err, domain.ErrUserNotFound)
}

// Start starts the module.
func (m *ChatModule) Start(_ context.Context) error {
	log.Printf("[chat] Module started (trust client identity: %v)", m.trust)
	return nil
}

// Stop stops the module. Live connections are closed by the presence module.
func (m *ChatModule) Stop(_ context.Context) error {
	log.Println("[chat] Module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *ChatModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"event_bus":             m.eventBus != nil,
			"trust_client_identity": m.trust,
		},
	}
}

package presence

import (
	"context"
	"log"

	"github.com/go-monolith/mono"
)

// PresenceModule owns the process-wide presence registry.
type PresenceModule struct {
	registry *Registry
}

// Compile-time interface checks.
var _ mono.Module = (*PresenceModule)(nil)
var _ mono.HealthCheckableModule = (*PresenceModule)(nil)

// NewModule creates a new PresenceModule.
func NewModule() *PresenceModule {
	return &PresenceModule{
		registry: NewRegistry(),
	}
}

// Name returns the module name.
func (m *PresenceModule) Name() string {
	return "presence"
}

// Registry returns the registry shared with the chat and api modules.
func (m *PresenceModule) Registry() *Registry {
	return m.registry
}

// Start initializes the module.
func (m *PresenceModule) Start(_ context.Context) error {
	log.Println("[presence] Module started")
	return nil
}

// Stop closes every live client.
func (m *PresenceModule) Stop(_ context.Context) error {
	n := m.registry.CloseAll()
	log.Printf("[presence] Module stopped - %d clients were connected", n)
	return nil
}

// Health returns the health status.
func (m *PresenceModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connected_users": m.registry.Count(),
		},
	}
}

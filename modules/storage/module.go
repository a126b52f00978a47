package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-monolith/mono"
)

// StorageModule owns the database backend's lifecycle.
type StorageModule struct {
	backend Backend
}

// Compile-time interface checks.
var _ mono.Module = (*StorageModule)(nil)
var _ mono.HealthCheckableModule = (*StorageModule)(nil)

// NewModule creates a StorageModule around an opened backend.
func NewModule(backend Backend) *StorageModule {
	return &StorageModule{backend: backend}
}

// Name returns the module name.
func (m *StorageModule) Name() string {
	return "storage"
}

// Backend returns the wrapped backend.
func (m *StorageModule) Backend() Backend {
	return m.backend
}

// Start clears online flags left behind by a previous process; the
// presence registry always starts empty.
func (m *StorageModule) Start(ctx context.Context) error {
	n, err := m.backend.MarkAllOffline(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to reset presence: %w", err)
	}
	log.Printf("[storage] Module started (driver=%s, reset %d stale online flags)", m.backend.Driver(), n)
	return nil
}

// Stop closes the database connection.
func (m *StorageModule) Stop(_ context.Context) error {
	log.Println("[storage] Closing database connection...")
	if err := m.backend.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	log.Println("[storage] Database connection closed")
	return nil
}

// Health pings the database.
func (m *StorageModule) Health(ctx context.Context) mono.HealthStatus {
	if err := m.backend.Ping(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"driver": m.backend.Driver(),
		},
	}
}

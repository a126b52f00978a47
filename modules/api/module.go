package api

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/example/memories-chat/modules/chat"
	"github.com/example/memories-chat/modules/presence"
	"github.com/go-monolith/mono"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Config holds the HTTP and WebSocket settings.
type Config struct {
	Port string
	// ReadTimeout closes a WebSocket that sent nothing, not even a pong, for this long.
	ReadTimeout  time.Duration
	PingInterval time.Duration
	SendBuffer   int
	// MaxFrameBytes caps an inbound WebSocket frame. A larger frame closes the connection.
	MaxFrameBytes int
	// RequestsPerMinute limits /api/chat requests per client IP. Zero disables it.
	RequestsPerMinute int
}

// DefaultMaxFrameBytes is the inbound frame limit used when Config leaves it unset.
const DefaultMaxFrameBytes = 64 << 10

// HealthChecker is a module whose health GET /health reports.
type HealthChecker interface {
	Name() string
	Health(ctx context.Context) mono.HealthStatus
}

// APIModule is the HTTP API module with WebSocket support.
type APIModule struct {
	app         *fiber.App
	chatAdapter chat.ChatPort
	gateway     *chat.Gateway
	registry    *presence.Registry
	verifier    chat.IdentityVerifier
	checks      []HealthChecker
	cfg         Config
}

// Compile-time interface checks.
var _ mono.Module = (*APIModule)(nil)
var _ mono.DependentModule = (*APIModule)(nil)
var _ mono.HealthCheckableModule = (*APIModule)(nil)

// NewModule creates a new APIModule. verifier checks the bearer tokens of
// the REST endpoints.
func NewModule(cfg Config, verifier chat.IdentityVerifier) *APIModule {
	if cfg.Port == "" {
		cfg.Port = "3000"
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = DefaultMaxFrameBytes
	}
	return &APIModule{
		cfg:      cfg,
		verifier: verifier,
	}
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies.
func (m *APIModule) Dependencies() []string {
	return []string{"chat"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *APIModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "chat":
		m.chatAdapter = chat.NewChatAdapter(container)
	}
}

// SetGateway sets the connection gateway (called from main.go).
func (m *APIModule) SetGateway(gateway *chat.Gateway) {
	m.gateway = gateway
}

// SetRegistry sets the presence registry (called from main.go).
func (m *APIModule) SetRegistry(registry *presence.Registry) {
	m.registry = registry
}

// SetHealthChecks sets the modules reported by GET /health (called from main.go).
func (m *APIModule) SetHealthChecks(checks ...HealthChecker) {
	m.checks = append(m.checks, checks...)
}

// Start initializes the Fiber HTTP server.
func (m *APIModule) Start(_ context.Context) error {
	if m.chatAdapter == nil {
		return fmt.Errorf("chat adapter dependency not set")
	}
	if m.gateway == nil {
		return fmt.Errorf("chat gateway dependency not set")
	}
	if m.registry == nil {
		return fmt.Errorf("presence registry dependency not set")
	}
	if m.verifier == nil {
		return fmt.Errorf("token verifier not set")
	}

	m.app = m.newApp()

	// Start server in goroutine
	go func() {
		if err := m.app.Listen(":" + m.cfg.Port); err != nil {
			log.Printf("[api] HTTP server error: %v", err)
		}
	}()

	log.Printf("[api] HTTP server started on :%s", m.cfg.Port)
	return nil
}

// newApp builds the Fiber app with middleware and routes.
func (m *APIModule) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(loggerMiddleware())

	m.setupRoutes(app)
	return app
}

// Stop shuts down the Fiber HTTP server.
func (m *APIModule) Stop(_ context.Context) error {
	if m.app == nil {
		return nil
	}
	log.Println("[api] Shutting down HTTP server...")
	return m.app.Shutdown()
}

// Health returns the health status.
func (m *APIModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: map[string]any{
			"port":            m.cfg.Port,
			"connected_users": m.connectedUsers(),
		},
	}
}

func (m *APIModule) connectedUsers() int {
	if m.registry == nil {
		return 0
	}
	return m.registry.Count()
}

// customErrorHandler handles Fiber errors.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}

// loggerMiddleware returns a Fiber middleware for request logging.
func loggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip logging for WebSocket upgrade requests
		if c.Get("Upgrade") == "websocket" {
			return c.Next()
		}
		err := c.Next()
		log.Printf("[api] %s %s %d", c.Method(), c.Path(), c.Response().StatusCode())
		return err
	}
}

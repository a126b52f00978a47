package api

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	domain "github.com/example/memories-chat/domain/chat"
	"github.com/example/memories-chat/modules/chat"
	"github.com/example/memories-chat/modules/presence"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// setupRoutes configures all HTTP routes.
func (m *APIModule) setupRoutes(app *fiber.App) {
	// Health check
	app.Get("/health", m.healthHandler)

	// WebSocket endpoint
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(m.handleWebSocket))

	// REST API
	handlers := []fiber.Handler{AuthMiddleware(m.verifier)}
	if m.cfg.RequestsPerMinute > 0 {
		handlers = append([]fiber.Handler{RateLimitMiddleware(m.cfg.RequestsPerMinute, time.Minute)}, handlers...)
	}
	api := app.Group("/api/chat", handlers...)
	api.Get("/room", m.getRoom)
	api.Get("/messages", m.listMessages)
}

// healthHandler handles GET /health.
func (m *APIModule) healthHandler(c *fiber.Ctx) error {
	resp := HealthResponse{
		Status:  "healthy",
		Modules: make(map[string]ModuleHealth, len(m.checks)),
		Details: map[string]any{
			"connected_users": m.connectedUsers(),
		},
	}

	for _, check := range m.checks {
		status := check.Health(c.UserContext())
		resp.Modules[check.Name()] = ModuleHealth{
			Healthy: status.Healthy,
			Message: status.Message,
			Details: status.Details,
		}
		if !status.Healthy {
			resp.Status = "unhealthy"
		}
	}

	if resp.Status != "healthy" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}

// getRoom handles GET /api/chat/room. The body is the bare room; whether
// the partner is connected travels in PartnerOnlineHeader.
func (m *APIModule) getRoom(c *fiber.Ctx) error {
	userID := currentUser(c)

	room, err := m.chatAdapter.GetRoom(c.UserContext(), userID)
	if err != nil {
		return roomError(c, userID, err)
	}

	c.Set(PartnerOnlineHeader, strconv.FormatBool(m.partnerOnline(room, userID)))
	return c.JSON(room)
}

// listMessages handles GET /api/chat/messages. The body is a bare array,
// newest first.
func (m *APIModule) listMessages(c *fiber.Ctx) error {
	limit, err := queryInt(c, "limit", chat.DefaultHistoryLimit)
	if err != nil || limit <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "validation_error",
			Message: "limit must be a positive integer",
		})
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "validation_error",
			Message: "offset must be a non-negative integer",
		})
	}
	if limit > chat.MaxHistoryLimit {
		limit = chat.MaxHistoryLimit
	}

	userID := currentUser(c)
	messages, err := m.chatAdapter.ListMessages(c.UserContext(), userID, limit, offset)
	if err != nil {
		return roomError(c, userID, err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	return c.JSON(messages)
}

func (m *APIModule) partnerOnline(room *domain.Room, userID string) bool {
	if m.registry == nil {
		return false
	}
	for _, id := range []string{room.Participant1ID, room.Participant2ID} {
		if id == "" || id == userID {
			continue
		}
		if _, ok := m.registry.Lookup(id); ok {
			return true
		}
	}
	return false
}

func roomError(c *fiber.Ctx, userID string, err error) error {
	if errors.Is(err, domain.ErrRoomNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "Chat room not found",
		})
	}
	log.Printf("[api] Room lookup for user %s failed: %v", userID, err)
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error:   "lookup_failed",
		Message: "Failed to load chat room",
	})
}

func queryInt(c *fiber.Ctx, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// handleWebSocket handles WebSocket connections at /ws.
func (m *APIModule) handleWebSocket(c *websocket.Conn) {
	clientID := uuid.New().String()
	client := presence.NewClient(clientID, c, m.cfg.SendBuffer, m.cfg.PingInterval)
	go client.WritePump()

	session := m.gateway.NewSession(client, c.Query("token"))
	defer func() {
		session.Close(context.Background())
		client.Wait()
		log.Printf("[api] WebSocket client disconnected: %s (user %q)", clientID, session.UserID())
	}()

	log.Printf("[api] WebSocket client connected: %s", clientID)

	c.SetReadLimit(int64(m.cfg.MaxFrameBytes))
	m.extendReadDeadline(c)
	c.SetPongHandler(func(string) error {
		m.extendReadDeadline(c)
		return nil
	})

	// Message loop
	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[api] Client %s closed connection", clientID)
			} else if !client.Closed() {
				log.Printf("[api] Read error from %s: %v", clientID, err)
			}
			return
		}

		m.extendReadDeadline(c)
		session.HandleFrame(context.Background(), msgBytes)
	}
}

func (m *APIModule) extendReadDeadline(c *websocket.Conn) {
	if m.cfg.ReadTimeout <= 0 {
		return
	}
	_ = c.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
}

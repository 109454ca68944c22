// Package httpapi serves the REST surface and mounts the websocket
// endpoint.
package httpapi

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fnfo/chat/internal/chat/history"
	"github.com/fnfo/chat/internal/chat/room"
	"github.com/fnfo/chat/internal/gateway"
	"github.com/fnfo/chat/internal/upstream"
)

const defaultHistoryLimit = 50

// Directory is the slice of the room directory the API uses.
type Directory interface {
	GetInfo(ctx context.Context, roomID string) (*room.Info, error)
	CreateRoom(ctx context.Context, roomID string, players []string, mode string) (room.Info, error)
	CloseRoom(ctx context.Context, roomID string) error
}

// Messages reads room history.
type Messages interface {
	ReadLast(ctx context.Context, roomID string, count int) ([]history.Message, error)
}

// Profiles resolves user profiles.
type Profiles interface {
	Resolve(ctx context.Context, identityID string) (*upstream.Profile, error)
}

// HealthChecker reports shared store reachability.
type HealthChecker interface {
	Health(ctx context.Context, timeout time.Duration) error
}

// Server is the HTTP front of the chat service.
type Server struct {
	app       *fiber.App
	directory Directory
	messages  Messages
	profiles  Profiles
	health    HealthChecker
	hub       *gateway.Hub
	logger    *zap.Logger
}

// New creates the Server and registers all routes. ws may be nil in
// tests that exercise the REST surface only.
//
// Precondition: directory, messages, profiles, health, hub, and logger
// must be non-nil.
func New(
	directory Directory,
	messages Messages,
	profiles Profiles,
	health HealthChecker,
	hub *gateway.Hub,
	ws *gateway.Handler,
	logger *zap.Logger,
) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			ReadTimeout:           30 * time.Second,
		}),
		directory: directory,
		messages:  messages,
		profiles:  profiles,
		health:    health,
		hub:       hub,
		logger:    logger,
	}

	s.app.Get("/health", s.handleHealth)
	s.app.Get("/rooms/:roomId/messages", s.handleRoomMessages)
	s.app.Get("/rooms/:roomId", s.handleRoomInfo)
	s.app.Post("/rooms", s.handleCreateRoom)
	s.app.Post("/rooms/:roomId/close", s.handleCloseRoom)
	s.app.Get("/users/:identityId", s.handleUserInfo)

	if ws != nil {
		s.app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		s.app.Get("/ws", websocket.New(ws.Serve))
	}

	return s
}

// App exposes the underlying fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen blocks serving on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func errBody(msg string) fiber.Map {
	return fiber.Map{"ok": false, "msg": msg}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	if err := s.health.Health(c.Context(), 2*time.Second); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"ok":     false,
			"status": "degraded",
		})
	}
	return c.JSON(fiber.Map{
		"ok":          true,
		"status":      "healthy",
		"connections": s.hub.ConnCount(),
	})
}

func (s *Server) handleRoomMessages(c *fiber.Ctx) error {
	roomID := c.Params("roomId")
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(errBody("limit must be a positive integer"))
		}
		limit = parsed
	}

	msgs, err := s.messages.ReadLast(c.Context(), roomID, limit)
	if err != nil {
		s.logger.Error("reading history failed", zap.String("room_id", roomID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errBody("internal error"))
	}
	if msgs == nil {
		msgs = []history.Message{}
	}
	return c.JSON(fiber.Map{"ok": true, "roomId": roomID, "messages": msgs})
}

func (s *Server) handleRoomInfo(c *fiber.Ctx) error {
	roomID := c.Params("roomId")
	info, err := s.directory.GetInfo(c.Context(), roomID)
	if err != nil {
		s.logger.Error("reading room failed", zap.String("room_id", roomID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errBody("internal error"))
	}
	if info == nil {
		return c.Status(fiber.StatusNotFound).JSON(errBody("room not found"))
	}
	return c.JSON(fiber.Map{"ok": true, "room": info})
}

type createRoomRequest struct {
	RoomID  string   `json:"roomId"`
	Players []string `json:"players"`
	Mode    string   `json:"mode"`
}

func (s *Server) handleCreateRoom(c *fiber.Ctx) error {
	var req createRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errBody("malformed body"))
	}
	if req.RoomID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errBody("roomId is required"))
	}

	info, err := s.directory.CreateRoom(c.Context(), req.RoomID, req.Players, req.Mode)
	if err != nil {
		s.logger.Error("creating room failed", zap.String("room_id", req.RoomID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errBody("internal error"))
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true, "room": info})
}

func (s *Server) handleCloseRoom(c *fiber.Ctx) error {
	roomID := c.Params("roomId")
	if err := s.directory.CloseRoom(c.Context(), roomID); err != nil {
		s.logger.Error("closing room failed", zap.String("room_id", roomID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errBody("internal error"))
	}
	return c.JSON(fiber.Map{"ok": true, "roomId": roomID})
}

func (s *Server) handleUserInfo(c *fiber.Ctx) error {
	identityID := c.Params("identityId")
	profile, err := s.profiles.Resolve(c.Context(), identityID)
	if err != nil {
		s.logger.Warn("profile lookup failed", zap.String("identity_id", identityID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errBody("internal error"))
	}
	if profile == nil {
		return c.Status(fiber.StatusNotFound).JSON(errBody("user not found"))
	}
	return c.JSON(fiber.Map{"ok": true, "user": profile})
}

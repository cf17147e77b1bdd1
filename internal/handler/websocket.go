package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"connection_coordinator/internal/config"
	"connection_coordinator/internal/coordinator"
	"connection_coordinator/internal/domain"
	"connection_coordinator/internal/service"
	"connection_coordinator/internal/transport"
	apperrors "connection_coordinator/pkg/errors"
	"connection_coordinator/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: restrict origins once the frontend domains are fixed
	},
}

type WebSocketHandler struct {
	sessions    service.SessionService
	rooms       service.RoomService
	coordinator *coordinator.Coordinator
	hub         *transport.Hub
	cfg         config.TransportConfig
	log         logger.Logger
}

func NewWebSocketHandler(
	sessions service.SessionService,
	rooms service.RoomService,
	coord *coordinator.Coordinator,
	hub *transport.Hub,
	cfg config.TransportConfig,
	log logger.Logger,
) *WebSocketHandler {
	return &WebSocketHandler{
		sessions:    sessions,
		rooms:       rooms,
		coordinator: coord,
		hub:         hub,
		cfg:         cfg,
		log:         log,
	}
}

// Handle upgrades the connection, registers a session and runs the read loop
// until the client goes away.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	sessionID := uuid.New().String()
	token := c.Query("token")
	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = c.GetHeader("X-API-Key")
	}

	client := transport.NewClient(sessionID, c.ClientIP(), conn, h.cfg.MessagesPerSecond, h.cfg.Burst, h.log)

	ctx := context.Background()
	session, err := h.sessions.Create(ctx, sessionID, "", "", token, clientID, c.Request.Header.Get("Origin"))
	if err != nil {
		h.log.Error("Failed to create session", "error", err, "session_id", sessionID)
		client.Send(domain.EventConnectError, domain.Payload{"error": "failed to create session"})
		client.Close()
		conn.Close()
		return
	}

	h.hub.Register(client)

	client.Send(domain.EventConnectSuccess, domain.Payload{
		"session_id": sessionID,
		"status":     session.Status,
		"timestamp":  time.Now().Unix(),
	})

	h.log.Info("Connection established", "session_id", sessionID, "remote", c.ClientIP())

	h.readLoop(ctx, client)
	h.disconnect(ctx, sessionID)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, client *transport.Client) {
	client.ConfigureRead()

	for {
		event, err := client.ReadEvent()
		if err != nil {
			// A frame that decoded badly is answered, not disconnected.
			if errors.Is(err, apperrors.ErrMalformedEvent) {
				h.log.Warn("Dropping malformed event", "error", err, "session_id", client.SessionID())
				client.Send(domain.EventMalformedError, domain.Payload{
					"error": "malformed event",
				})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("Connection read failed", "error", err, "session_id", client.SessionID())
			}
			return
		}

		// Per-connection budget; the shared sliding window is applied
		// later by the coordinator.
		if !client.Allow() {
			client.Send(event.Name+"_error", domain.Payload{
				"error": "too many messages on this connection",
			})
			continue
		}

		// Events on one connection are processed in arrival order.
		h.coordinator.Dispatch(ctx, client.SessionID(), event)
	}
}

// disconnect tears the session down: room memberships, hub registration and
// the cache record, in that order.
func (h *WebSocketHandler) disconnect(ctx context.Context, sessionID string) {
	session, err := h.sessions.Get(ctx, sessionID)
	if err == nil {
		for _, roomID := range session.Rooms {
			if err := h.rooms.Leave(ctx, roomID, sessionID); err != nil {
				h.log.Warn("Failed to leave room on disconnect", "error", err, "room_id", roomID, "session_id", sessionID)
			}
			h.hub.LeaveRoom(sessionID, roomID)
		}
	}

	h.hub.Unregister(sessionID)

	if err := h.sessions.Delete(ctx, sessionID); err != nil {
		h.log.Warn("Failed to delete session on disconnect", "error", err, "session_id", sessionID)
	}

	h.log.Info("Connection closed", "session_id", sessionID)
}

package coordinator

import (
	"context"
	"errors"
	"time"

	"connection_coordinator/internal/domain"
	apperrors "connection_coordinator/pkg/errors"
)

// RegisterDefaultHandlers wires the request-shaped wire events. Every one of
// them answers the caller with either a *_success or *_error event.
func (c *Coordinator) RegisterDefaultHandlers() {
	c.MustRegister(domain.EventJoinRoom, HandlerFunc(c.handleJoinRoom))
	c.MustRegister(domain.EventCreateRoom, HandlerFunc(c.handleCreateRoom))
	c.MustRegister(domain.EventLeaveRoom, HandlerFunc(c.handleLeaveRoom))
	c.MustRegister(domain.EventSendMessage, HandlerFunc(c.handleSendMessage))
	c.MustRegister(domain.EventMessage, HandlerFunc(c.handleSendMessage))
	c.MustRegister(domain.EventBroadcast, HandlerFunc(c.handleBroadcast))
}

func (c *Coordinator) handleJoinRoom(ctx context.Context, session *domain.Session, data domain.Payload) {
	roomID := data.String("room_id")
	if roomID == "" {
		c.sendError(session.SessionID, domain.EventJoinRoomError, "room_id is required")
		return
	}

	userID := session.UserID
	if override := data.String("user_id"); override != "" && userID == "" {
		userID = override
	}

	if err := c.rooms.Join(ctx, roomID, session.SessionID, userID, session.UserRoles); err != nil {
		c.log.Warn("Join rejected", "error", err, "room_id", roomID, "session_id", session.SessionID)
		c.sendError(session.SessionID, domain.EventJoinRoomError, joinErrorMessage(err))
		return
	}

	c.hub.JoinRoom(session.SessionID, roomID)

	c.broadcaster.ToSession(session.SessionID, domain.EventJoinRoomSuccess, domain.Payload{
		"room_id":    roomID,
		"session_id": session.SessionID,
		"timestamp":  time.Now().Unix(),
	})
	c.broadcaster.NotifyUserJoined(roomID, session.SessionID, userID)
}

func (c *Coordinator) handleCreateRoom(ctx context.Context, session *domain.Session, data domain.Payload) {
	roomID := data.String("room_id")
	permission := data.String("permission")

	ownerID := session.UserID
	if override := data.String("user_id"); override != "" && ownerID == "" {
		ownerID = override
	}

	room, err := c.rooms.Create(ctx, roomID, permission, ownerID, nil, nil, 0)
	if err != nil {
		c.log.Warn("Create room rejected", "error", err, "room_id", roomID)
		if errors.Is(err, apperrors.ErrRoomAlreadyExists) {
			c.sendError(session.SessionID, domain.EventCreateRoomError, "room already exists")
		} else {
			c.sendError(session.SessionID, domain.EventCreateRoomError, "failed to create room")
		}
		return
	}

	if err := c.rooms.Join(ctx, room.RoomID, session.SessionID, ownerID, session.UserRoles); err != nil {
		c.log.Error("Creator failed to join own room", "error", err, "room_id", room.RoomID)
		c.sendError(session.SessionID, domain.EventCreateRoomError, "failed to join created room")
		return
	}
	c.hub.JoinRoom(session.SessionID, room.RoomID)

	c.broadcaster.ToSession(session.SessionID, domain.EventCreateRoomSuccess, domain.Payload{
		"room_id":    room.RoomID,
		"permission": room.Permission,
		"owner_id":   room.OwnerID,
		"timestamp":  time.Now().Unix(),
	})
	c.broadcaster.NotifyRoomCreated(ctx, room.RoomID)
}

func (c *Coordinator) handleLeaveRoom(ctx context.Context, session *domain.Session, data domain.Payload) {
	roomID := data.String("room_id")
	if roomID == "" {
		c.sendError(session.SessionID, domain.EventLeaveRoomError, "room_id is required")
		return
	}
	if !session.InRoom(roomID) {
		c.sendError(session.SessionID, domain.EventLeaveRoomError, "not a member of room")
		return
	}

	if err := c.rooms.Leave(ctx, roomID, session.SessionID); err != nil {
		c.log.Error("Leave failed", "error", err, "room_id", roomID, "session_id", session.SessionID)
		c.sendError(session.SessionID, domain.EventLeaveRoomError, "failed to leave room")
		return
	}

	c.hub.LeaveRoom(session.SessionID, roomID)

	c.broadcaster.ToSession(session.SessionID, domain.EventLeaveRoomSuccess, domain.Payload{
		"room_id":    roomID,
		"session_id": session.SessionID,
		"timestamp":  time.Now().Unix(),
	})
	c.broadcaster.NotifyUserLeft(roomID, session.SessionID, session.UserID)
}

// handleSendMessage serves both send_message and the legacy message request.
func (c *Coordinator) handleSendMessage(ctx context.Context, session *domain.Session, data domain.Payload) {
	roomID := data.String("room_id")
	message := data.String("message")
	if roomID == "" || message == "" {
		c.sendError(session.SessionID, domain.EventSendMessage+"_error", "room_id and message are required")
		return
	}
	if !session.InRoom(roomID) {
		c.sendError(session.SessionID, domain.EventSendMessage+"_error", "not a member of room")
		return
	}

	c.broadcaster.ToRoom(roomID, domain.EventMessage, domain.Payload{
		"room_id":   roomID,
		"message":   message,
		"sender":    senderName(session),
		"timestamp": time.Now().Unix(),
	})
}

func (c *Coordinator) handleBroadcast(ctx context.Context, session *domain.Session, data domain.Payload) {
	message := data.String("message")
	if message == "" {
		c.sendError(session.SessionID, domain.EventBroadcast+"_error", "message is required")
		return
	}

	c.broadcaster.ToAll(domain.EventMessage, domain.Payload{
		"message":   message,
		"sender":    senderName(session),
		"timestamp": time.Now().Unix(),
	})
}

func (c *Coordinator) sendError(sessionID, event, message string) {
	c.broadcaster.ToSession(sessionID, event, domain.Payload{
		"error":     message,
		"timestamp": time.Now().Unix(),
	})
}

func senderName(session *domain.Session) string {
	if session.Username != "" {
		return session.Username
	}
	if session.UserID != "" {
		return session.UserID
	}
	return session.SessionID
}

func joinErrorMessage(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrAccessDenied):
		return "access to room denied"
	case errors.Is(err, apperrors.ErrRoomFull):
		return "room is full"
	case errors.Is(err, apperrors.ErrSessionNotFound):
		return "session not found"
	default:
		return "failed to join room"
	}
}

package broadcast

import (
	"context"
	"time"

	"connection_coordinator/internal/domain"
	"connection_coordinator/internal/service"
	"connection_coordinator/internal/transport"
	"connection_coordinator/pkg/logger"
)

// Broadcaster translates domain intents into transport sends. It is always
// called from handlers that already passed the rate-limit and dispatch gates,
// so it never consults those itself.
type Broadcaster struct {
	hub     *transport.Hub
	roomSvc service.RoomService
	log     logger.Logger
}

func New(hub *transport.Hub, roomSvc service.RoomService, log logger.Logger) *Broadcaster {
	return &Broadcaster{
		hub:     hub,
		roomSvc: roomSvc,
		log:     log,
	}
}

func (b *Broadcaster) ToRoom(roomID, event string, data domain.Payload) {
	b.hub.SendToRoom(roomID, event, data)
}

func (b *Broadcaster) ToSession(sessionID, event string, data domain.Payload) error {
	return b.hub.SendToSession(sessionID, event, data)
}

func (b *Broadcaster) ToAll(event string, data domain.Payload) {
	b.hub.SendToAll(event, data)
}

func (b *Broadcaster) NotifyUserJoined(roomID, sessionID, userID string) {
	b.ToRoom(roomID, domain.EventUserJoined, domain.Payload{
		"room_id":    roomID,
		"session_id": sessionID,
		"user_id":    userID,
		"timestamp":  time.Now().Unix(),
	})
}

func (b *Broadcaster) NotifyUserLeft(roomID, sessionID, userID string) {
	b.ToRoom(roomID, domain.EventUserLeft, domain.Payload{
		"room_id":    roomID,
		"session_id": sessionID,
		"user_id":    userID,
		"timestamp":  time.Now().Unix(),
	})
}

func (b *Broadcaster) NotifyRoomCreated(ctx context.Context, roomID string) {
	data := domain.Payload{
		"room_id":   roomID,
		"timestamp": time.Now().Unix(),
	}
	if room, err := b.roomSvc.Get(ctx, roomID); err == nil {
		data["owner_id"] = room.OwnerID
		data["permission"] = room.Permission
	}
	b.ToRoom(roomID, domain.EventRoomJoined, data)
}

func (b *Broadcaster) NotifyRoomDeleted(roomID, ownerID string) {
	b.ToRoom(roomID, domain.EventRoomDeleted, domain.Payload{
		"room_id":   roomID,
		"owner_id":  ownerID,
		"timestamp": time.Now().Unix(),
	})
}

// NotifyRoomExpired tells the members, and the owner's other sessions, that
// the room's TTL ran out. Called from the expiry monitor before cleanup.
func (b *Broadcaster) NotifyRoomExpired(room *domain.Room) {
	data := domain.Payload{
		"room_id":   room.RoomID,
		"owner_id":  room.OwnerID,
		"timestamp": time.Now().Unix(),
	}
	b.ToRoom(room.RoomID, domain.EventRoomExpired, data)
}

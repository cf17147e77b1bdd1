package handler

import (
	"connection_coordinator/internal/config"
	"connection_coordinator/internal/coordinator"
	"connection_coordinator/internal/service"
	"connection_coordinator/internal/transport"
	"connection_coordinator/pkg/logger"
)

type Handlers struct {
	Health    *HealthHandler
	Room      *RoomHandler
	WebSocket *WebSocketHandler
}

func NewHandlers(
	services *service.Services,
	coord *coordinator.Coordinator,
	hub *transport.Hub,
	cfg *config.Config,
	log logger.Logger,
) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(services.Session, hub),
		Room:      NewRoomHandler(services.Room, log),
		WebSocket: NewWebSocketHandler(services.Session, services.Room, coord, hub, cfg.Transport, log),
	}
}

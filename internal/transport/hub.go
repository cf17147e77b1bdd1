package transport

import (
	"sync"

	"connection_coordinator/internal/domain"
	apperrors "connection_coordinator/pkg/errors"
	"connection_coordinator/pkg/logger"
)

// Hub tracks the live connections of this process and an in-process hint of
// room membership for fan-out. The shared cache remains the source of truth
// for membership; the hub only knows which of those sessions are connected
// here.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client
	log     logger.Logger
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		log:     log,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.SessionID()] = client
	h.log.Debug("Connection registered", "session_id", client.SessionID())
}

// Unregister drops the client and its room hints. Safe to call for a session
// that was never registered.
func (h *Hub) Unregister(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[sessionID]
	if !ok {
		return
	}
	delete(h.clients, sessionID)

	for roomID, members := range h.rooms {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}

	client.Close()
	h.log.Debug("Connection unregistered", "session_id", sessionID)
}

func (h *Hub) JoinRoom(sessionID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[sessionID]
	if !ok {
		return
	}
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[roomID] = members
	}
	members[sessionID] = client
}

func (h *Hub) LeaveRoom(sessionID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

func (h *Hub) Get(sessionID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[sessionID]
	return client, ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) SendToSession(sessionID, event string, data domain.Payload) error {
	h.mu.RLock()
	client, ok := h.clients[sessionID]
	h.mu.RUnlock()

	if !ok {
		return apperrors.ErrSessionNotFound
	}
	return client.Send(event, data)
}

// SendToRoom fans an event out to every locally connected member. Delivery
// order across members is whatever the write pumps produce.
func (h *Hub) SendToRoom(roomID, event string, data domain.Payload) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[roomID]))
	for _, client := range h.rooms[roomID] {
		members = append(members, client)
	}
	h.mu.RUnlock()

	for _, client := range members {
		if err := client.Send(event, data); err != nil {
			h.log.Debug("Room fan-out skipped client", "error", err, "room_id", roomID)
		}
	}
}

func (h *Hub) SendToAll(event string, data domain.Payload) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.Send(event, data); err != nil {
			h.log.Debug("Broadcast skipped client", "error", err)
		}
	}
}

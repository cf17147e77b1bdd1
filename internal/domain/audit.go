package domain

import "time"

const (
	AuditEventRoomCreated      = "room_created"
	AuditEventRoomDeleted      = "room_deleted"
	AuditEventRoomExpired      = "room_expired"
	AuditEventSessionSwept     = "session_swept"
	AuditEventIdentifierBanned = "identifier_banned"
)

// AuditRecord is the durable trace of a coordination event, written to the
// relational store so it survives the cache TTL window.
type AuditRecord struct {
	ID        int64                  `json:"id"`
	EventTime time.Time              `json:"event_time"`
	EventType string                 `json:"event_type"`
	ActorID   string                 `json:"actor_id,omitempty"`
	RoomID    string                 `json:"room_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

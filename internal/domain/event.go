package domain

// Wire event names. These are part of the transport contract: clients send
// the request-shaped names and always get back either the _success or _error
// counterpart.
const (
	EventConnect        = "connect"
	EventConnectSuccess = "connect_success"
	EventConnectError   = "connect_error"

	EventJoinRoom        = "join_room"
	EventJoinRoomSuccess = "join_room_success"
	EventJoinRoomError   = "join_room_error"

	EventCreateRoom        = "create_room"
	EventCreateRoomSuccess = "create_room_success"
	EventCreateRoomError   = "create_room_error"
	EventRoomJoined        = "room_joined"

	EventLeaveRoom        = "leave_room"
	EventLeaveRoomSuccess = "leave_room_success"
	EventLeaveRoomError   = "leave_room_error"

	EventSendMessage = "send_message"
	// EventMessage doubles as the legacy client request name and the
	// broadcast name fanned out to rooms.
	EventMessage = "message"

	EventBroadcast = "broadcast"

	// EventMalformedError is the reply to a frame that failed to decode;
	// there is no request name to suffix with _error.
	EventMalformedError = "malformed_error"

	EventUserJoined  = "user_joined"
	EventUserLeft    = "user_left"
	EventRoomDeleted = "room_deleted"
	EventRoomExpired = "room_expired"
)

// CorrelationField is the reserved payload key carrying the reply correlation
// id for emissions that block until acknowledged.
const CorrelationField = "unique_id"

// Payload is the JSON-like body of a transport event.
type Payload map[string]interface{}

// Event is the envelope delivered by the transport in both directions.
type Event struct {
	Name string  `json:"event"`
	Data Payload `json:"data,omitempty"`
}

func (p Payload) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

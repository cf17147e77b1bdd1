package domain

import (
	"sort"
	"time"
)

// SessionStatusActive is the only session status: a record either exists
// and is active, or has been deleted.
const SessionStatusActive = "active"

// Session is the per-connection record kept in the shared cache. The Rooms
// and UserRoles fields are sets; they are serialized as sorted lists and the
// wire order carries no meaning.
type Session struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id,omitempty"`
	Username     string    `json:"username,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
	Origin       string    `json:"origin,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	Rooms        []string  `json:"rooms"`
	UserRoles    []string  `json:"user_roles"`
	Status       string    `json:"status"`
}

func (s *Session) InRoom(roomID string) bool {
	for _, r := range s.Rooms {
		if r == roomID {
			return true
		}
	}
	return false
}

// AddRoom inserts roomID into the room set. Returns false if it was already
// a member.
func (s *Session) AddRoom(roomID string) bool {
	if s.InRoom(roomID) {
		return false
	}
	s.Rooms = append(s.Rooms, roomID)
	sort.Strings(s.Rooms)
	return true
}

// RemoveRoom drops roomID from the room set. Returns false if it was absent.
func (s *Session) RemoveRoom(roomID string) bool {
	for i, r := range s.Rooms {
		if r == roomID {
			s.Rooms = append(s.Rooms[:i], s.Rooms[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Session) HasRole(role string) bool {
	for _, r := range s.UserRoles {
		if r == role {
			return true
		}
	}
	return false
}

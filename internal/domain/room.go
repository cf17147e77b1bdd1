package domain

import (
	"sort"
	"time"
)

const (
	RoomPermissionPublic  = "public"
	RoomPermissionPrivate = "private"
)

// Room is the named channel record kept in the shared cache. AllowedUsers and
// AllowedRoles are sets serialized as sorted lists.
type Room struct {
	RoomID       string    `json:"room_id"`
	Permission   string    `json:"permission"`
	OwnerID      string    `json:"owner_id,omitempty"`
	AllowedUsers []string  `json:"allowed_users"`
	AllowedRoles []string  `json:"allowed_roles"`
	MaxSize      int       `json:"max_size"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (r *Room) UserAllowed(userID string) bool {
	for _, u := range r.AllowedUsers {
		if u == userID {
			return true
		}
	}
	return false
}

// RoleAllowed reports whether any of the given roles intersects the room's
// allowed role set.
func (r *Room) RoleAllowed(roles []string) bool {
	for _, allowed := range r.AllowedRoles {
		for _, role := range roles {
			if role == allowed {
				return true
			}
		}
	}
	return false
}

func (r *Room) SetAllowedUsers(users []string) {
	r.AllowedUsers = dedupe(users)
}

func (r *Room) SetAllowedRoles(roles []string) {
	r.AllowedRoles = dedupe(roles)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

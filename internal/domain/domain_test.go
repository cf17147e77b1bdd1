package domain

import (
	"testing"
	"time"
)

func TestSessionRoomSet(t *testing.T) {
	s := &Session{SessionID: "s-1"}

	if !s.AddRoom("b") || !s.AddRoom("a") {
		t.Fatal("adding new rooms should report true")
	}
	if s.AddRoom("a") {
		t.Error("re-adding a room should report false")
	}
	if len(s.Rooms) != 2 || s.Rooms[0] != "a" || s.Rooms[1] != "b" {
		t.Errorf("Rooms = %v, want sorted [a b]", s.Rooms)
	}

	if !s.RemoveRoom("a") {
		t.Error("removing a present room should report true")
	}
	if s.RemoveRoom("a") {
		t.Error("removing an absent room should report false")
	}
	if s.InRoom("a") || !s.InRoom("b") {
		t.Errorf("membership wrong after removal: %v", s.Rooms)
	}
}

func TestRoomAllowedSets(t *testing.T) {
	r := &Room{RoomID: "r-1", Permission: RoomPermissionPrivate}
	r.SetAllowedUsers([]string{"u-2", "u-1", "u-2"})
	r.SetAllowedRoles([]string{"mod", "mod", "admin"})

	if len(r.AllowedUsers) != 2 || r.AllowedUsers[0] != "u-1" {
		t.Errorf("AllowedUsers = %v, want deduped sorted [u-1 u-2]", r.AllowedUsers)
	}
	if !r.UserAllowed("u-1") || r.UserAllowed("u-3") {
		t.Error("UserAllowed membership wrong")
	}
	if !r.RoleAllowed([]string{"viewer", "admin"}) {
		t.Error("RoleAllowed should match on any intersection")
	}
	if r.RoleAllowed([]string{"viewer"}) || r.RoleAllowed(nil) {
		t.Error("RoleAllowed matched without intersection")
	}
}

func TestRateLimitDecisionHelpers(t *testing.T) {
	now := time.Now()
	d := &RateLimitDecision{
		Allowed: false,
		Results: []RateLimitResult{
			{Dimension: RateLimitDimensionIP, Allowed: false, ResetTime: now.Add(30 * time.Second)},
			{Dimension: RateLimitDimensionUser, Allowed: true, ResetTime: now.Add(90 * time.Second)},
			{Dimension: RateLimitDimensionAPIKey, Allowed: false, ResetTime: now.Add(10 * time.Second)},
		},
	}

	exceeded := d.ExceededDimensions()
	if len(exceeded) != 2 || exceeded[0] != RateLimitDimensionIP || exceeded[1] != RateLimitDimensionAPIKey {
		t.Errorf("ExceededDimensions = %v, want [ip api_key]", exceeded)
	}

	// Allowed dimensions never contribute to the wait.
	if got := d.RetryAfter(now); got != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", got)
	}

	past := &RateLimitDecision{Results: []RateLimitResult{
		{Dimension: RateLimitDimensionIP, Allowed: false, ResetTime: now.Add(-time.Second)},
	}}
	if got := past.RetryAfter(now); got != 0 {
		t.Errorf("RetryAfter with past reset = %v, want 0", got)
	}
}

func TestPayloadString(t *testing.T) {
	p := Payload{"room_id": "lobby", "count": 3, "flag": true}

	if p.String("room_id") != "lobby" {
		t.Errorf("String(room_id) = %q", p.String("room_id"))
	}
	// Non-string and missing values read as empty.
	if p.String("count") != "" || p.String("missing") != "" {
		t.Error("non-string values should read as empty strings")
	}
}

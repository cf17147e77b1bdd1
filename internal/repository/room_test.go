package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"connection_coordinator/internal/domain"
	apperrors "connection_coordinator/pkg/errors"
)

func testRoom(id string) *domain.Room {
	now := time.Now().Truncate(time.Second)
	return &domain.Room{
		RoomID:     id,
		Permission: domain.RoomPermissionPublic,
		OwnerID:    "owner-1",
		MaxSize:    10,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestRoomCreateIsFirstWriterWins(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewRoomRepository(rdb, newTestLogger())
	ctx := context.Background()

	first := testRoom("r-1")
	if err := repo.Create(ctx, first, time.Hour); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}

	second := testRoom("r-1")
	second.OwnerID = "intruder"
	err := repo.Create(ctx, second, time.Hour)
	if !errors.Is(err, apperrors.ErrRoomAlreadyExists) {
		t.Fatalf("expected ErrRoomAlreadyExists, got %v", err)
	}

	// The original record must be untouched by the losing create.
	got, err := repo.Get(ctx, "r-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.OwnerID != "owner-1" {
		t.Errorf("duplicate create mutated the record: owner=%q", got.OwnerID)
	}
}

func TestRoomMarkerExpiresBeforeRecord(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewRoomRepository(rdb, newTestLogger())
	ctx := context.Background()

	if err := repo.Create(ctx, testRoom("r-grace"), time.Minute); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Past the marker TTL but inside the record's grace window: the record
	// must still be readable so the expiry callback can notify members.
	mr.FastForward(2 * time.Minute)

	if mr.Exists("coord:roomttl:r-grace") {
		t.Error("marker key should have expired")
	}
	if _, err := repo.Get(ctx, "r-grace"); err != nil {
		t.Fatalf("record should survive into the grace window: %v", err)
	}

	// After the grace window the record goes too.
	mr.FastForward(RoomRecordGrace)
	if _, err := repo.Get(ctx, "r-grace"); !errors.Is(err, apperrors.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound after grace, got %v", err)
	}
}

func TestRoomTouchRewritesMarker(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewRoomRepository(rdb, newTestLogger())
	ctx := context.Background()

	if err := repo.Create(ctx, testRoom("r-touch"), time.Minute); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Let the marker expire, then touch within the grace window.
	mr.FastForward(90 * time.Second)
	ok, err := repo.Touch(ctx, "r-touch", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Touch failed: ok=%v err=%v", ok, err)
	}

	if !mr.Exists("coord:roomttl:r-touch") {
		t.Error("Touch should have reinstated the marker key")
	}

	mr.FastForward(45 * time.Second)
	if _, err := repo.Get(ctx, "r-touch"); err != nil {
		t.Fatalf("room should have survived after touch: %v", err)
	}
}

func TestRoomTouchMissing(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewRoomRepository(rdb, newTestLogger())

	ok, err := repo.Touch(context.Background(), "ghost", time.Minute)
	if err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}
	if ok {
		t.Error("Touch reported success for a missing room")
	}
}

func TestRoomDeleteRemovesAllKeys(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewRoomRepository(rdb, newTestLogger())
	ctx := context.Background()

	if err := repo.Create(ctx, testRoom("r-del"), time.Hour); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.AddMember(ctx, "r-del", "s-1", time.Hour); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	if err := repo.Delete(ctx, "r-del"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	for _, key := range []string{"coord:room:r-del", "coord:room:r-del:members", "coord:roomttl:r-del"} {
		if mr.Exists(key) {
			t.Errorf("key %s survived delete", key)
		}
	}

	if err := repo.Delete(ctx, "r-del"); !errors.Is(err, apperrors.ErrRoomNotFound) {
		t.Fatalf("second delete should report ErrRoomNotFound, got %v", err)
	}
}

func TestRoomMembers(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewRoomRepository(rdb, newTestLogger())
	ctx := context.Background()

	if err := repo.Create(ctx, testRoom("r-m"), time.Hour); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	for _, sid := range []string{"s-1", "s-2", "s-1"} {
		if err := repo.AddMember(ctx, "r-m", sid, time.Hour); err != nil {
			t.Fatalf("AddMember failed: %v", err)
		}
	}

	count, err := repo.MemberCount(ctx, "r-m")
	if err != nil {
		t.Fatalf("MemberCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("MemberCount = %d, want 2 (set semantics)", count)
	}

	if err := repo.RemoveMember(ctx, "r-m", "s-1"); err != nil {
		t.Fatalf("RemoveMember failed: %v", err)
	}
	members, err := repo.Members(ctx, "r-m")
	if err != nil {
		t.Fatalf("Members failed: %v", err)
	}
	if len(members) != 1 || members[0] != "s-2" {
		t.Errorf("Members = %v, want [s-2]", members)
	}
}

func TestRoomListSkipsMemberKeys(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewRoomRepository(rdb, newTestLogger())
	ctx := context.Background()

	for _, id := range []string{"r-a", "r-b"} {
		if err := repo.Create(ctx, testRoom(id), time.Hour); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
		if err := repo.AddMember(ctx, id, "s-1", time.Hour); err != nil {
			t.Fatalf("AddMember %s failed: %v", id, err)
		}
	}

	rooms, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rooms) != 2 {
		t.Errorf("List returned %d rooms, want 2", len(rooms))
	}
}

func TestRoomIDFromMarkerKey(t *testing.T) {
	tests := []struct {
		key    string
		roomID string
		ok     bool
	}{
		{"coord:roomttl:r-1", "r-1", true},
		{"coord:roomttl:", "", true},
		{"coord:room:r-1", "", false},
		{"coord:session:s-1", "", false},
	}

	for _, tt := range tests {
		roomID, ok := RoomIDFromMarkerKey(tt.key)
		if roomID != tt.roomID || ok != tt.ok {
			t.Errorf("RoomIDFromMarkerKey(%q) = (%q, %v), want (%q, %v)", tt.key, roomID, ok, tt.roomID, tt.ok)
		}
	}
}

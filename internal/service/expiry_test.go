package service

import (
	"context"
	"testing"
	"time"

	"connection_coordinator/internal/domain"
	"connection_coordinator/internal/repository"
)

func waitForRoomID(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("callback got room id %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("callback not invoked for room %q", want)
	}
}

func TestRedisExpiryNotifierDeliversMarkerEvents(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	expired := make(chan string, 1)
	notifier := NewRedisExpiryNotifier(rdb, 0, func(roomID string) {
		expired <- roomID
	}, newTestLogger())
	if err := notifier.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Give the subscriber a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)

	mr.Publish("__keyevent@0__:expired", "coord:roomttl:r-gone")
	waitForRoomID(t, expired, "r-gone")

	// Expired keys from other subsystems are ignored.
	mr.Publish("__keyevent@0__:expired", "coord:session:s-1")
	select {
	case got := <-expired:
		t.Fatalf("callback fired for a non-marker key: %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisExpiryNotifierStartIsIdempotent(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier := NewRedisExpiryNotifier(rdb, 0, func(string) {}, newTestLogger())
	if err := notifier.Start(ctx); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := notifier.Start(ctx); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
}

func TestPollingExpiryNotifierFindsOrphanedRecords(t *testing.T) {
	mr, rdb := newTestRedis(t)
	log := newTestLogger()
	roomRepo := repository.NewRoomRepository(rdb, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	room := &domain.Room{
		RoomID:     "r-poll",
		Permission: domain.RoomPermissionPublic,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := roomRepo.Create(ctx, room, time.Minute); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Push past the marker TTL so the record lingers orphaned in its
	// grace window.
	mr.FastForward(2 * time.Minute)

	expired := make(chan string, 1)
	notifier := NewPollingExpiryNotifier(rdb, 10*time.Millisecond, func(roomID string) {
		select {
		case expired <- roomID:
		default:
		}
	}, log)
	if err := notifier.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForRoomID(t, expired, "r-poll")
}

func TestPollingExpiryNotifierIgnoresLiveRooms(t *testing.T) {
	_, rdb := newTestRedis(t)
	log := newTestLogger()
	roomRepo := repository.NewRoomRepository(rdb, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	room := &domain.Room{
		RoomID:     "r-live",
		Permission: domain.RoomPermissionPublic,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := roomRepo.Create(ctx, room, time.Minute); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	expired := make(chan string, 1)
	notifier := NewPollingExpiryNotifier(rdb, 10*time.Millisecond, func(roomID string) {
		select {
		case expired <- roomID:
		default:
		}
	}, log)
	if err := notifier.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case got := <-expired:
		t.Fatalf("callback fired for a live room: %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

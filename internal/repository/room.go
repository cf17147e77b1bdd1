package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"connection_coordinator/internal/domain"
	apperrors "connection_coordinator/pkg/errors"
	"connection_coordinator/pkg/logger"
)

const (
	RoomKeyPrefix        = "coord:room:%s"
	RoomMembersKeyPrefix = "coord:room:%s:members"
	RoomScanPattern      = "coord:room:*"

	// Marker keys exist only to expire. Their keyspace notification is what
	// turns a silent TTL expiry into an observable room-expired event.
	RoomMarkerKeyPrefix = "coord:roomttl:%s"
	RoomMarkerPrefix    = "coord:roomttl:"

	// The authoritative record outlives the marker by this much so the
	// expiry callback can still read it for owner/member notification.
	RoomRecordGrace = 5 * time.Minute
)

type RoomRepository interface {
	// Create writes the record only when the room id is unused; a second
	// create for the same id returns ErrRoomAlreadyExists untouched.
	Create(ctx context.Context, room *domain.Room, ttl time.Duration) error
	Get(ctx context.Context, roomID string) (*domain.Room, error)
	// Save overwrites the record without changing membership.
	Save(ctx context.Context, room *domain.Room, ttl time.Duration) error
	Delete(ctx context.Context, roomID string) error
	// Touch reinstates the TTL on the record, member set and marker key.
	Touch(ctx context.Context, roomID string, ttl time.Duration) (bool, error)
	// MarkerExists reports whether the room's expiry marker is still alive.
	MarkerExists(ctx context.Context, roomID string) (bool, error)
	List(ctx context.Context) ([]*domain.Room, error)

	AddMember(ctx context.Context, roomID, sessionID string, ttl time.Duration) error
	RemoveMember(ctx context.Context, roomID, sessionID string) error
	Members(ctx context.Context, roomID string) ([]string, error)
	MemberCount(ctx context.Context, roomID string) (int, error)
}

type roomRepository struct {
	rdb *redis.Client
	log logger.Logger
}

func NewRoomRepository(rdb *redis.Client, log logger.Logger) RoomRepository {
	return &roomRepository{rdb: rdb, log: log}
}

func roomKey(roomID string) string {
	return fmt.Sprintf(RoomKeyPrefix, roomID)
}

func roomMembersKey(roomID string) string {
	return fmt.Sprintf(RoomMembersKeyPrefix, roomID)
}

func roomMarkerKey(roomID string) string {
	return fmt.Sprintf(RoomMarkerKeyPrefix, roomID)
}

// RoomIDFromMarkerKey extracts the room id from an expired marker key. The
// second return is false when the key does not belong to this subsystem.
func RoomIDFromMarkerKey(key string) (string, bool) {
	if !strings.HasPrefix(key, RoomMarkerPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, RoomMarkerPrefix), true
}

func (r *roomRepository) Create(ctx context.Context, room *domain.Room, ttl time.Duration) error {
	data, err := json.Marshal(room)
	if err != nil {
		r.log.Error("Failed to marshal room", "error", err, "room_id", room.RoomID)
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	created, err := r.rdb.SetNX(ctx, roomKey(room.RoomID), data, ttl+RoomRecordGrace).Result()
	if err != nil {
		r.log.Error("Failed to create room", "error", err, "room_id", room.RoomID)
		return fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	if !created {
		return apperrors.ErrRoomAlreadyExists
	}

	if err := r.rdb.Set(ctx, roomMarkerKey(room.RoomID), room.RoomID, ttl).Err(); err != nil {
		r.log.Error("Failed to set room expiry marker", "error", err, "room_id", room.RoomID)
		return fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}

	return nil
}

func (r *roomRepository) Get(ctx context.Context, roomID string) (*domain.Room, error) {
	data, err := r.rdb.Get(ctx, roomKey(roomID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.ErrRoomNotFound
		}
		r.log.Error("Failed to get room", "error", err, "room_id", roomID)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}

	room := &domain.Room{}
	if err := json.Unmarshal(data, room); err != nil {
		r.log.Error("Failed to unmarshal room", "error", err, "room_id", roomID)
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}

	return room, nil
}

func (r *roomRepository) Save(ctx context.Context, room *domain.Room, ttl time.Duration) error {
	data, err := json.Marshal(room)
	if err != nil {
		r.log.Error("Failed to marshal room", "error", err, "room_id", room.RoomID)
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	if err := r.rdb.Set(ctx, roomKey(room.RoomID), data, ttl+RoomRecordGrace).Err(); err != nil {
		r.log.Error("Failed to save room", "error", err, "room_id", room.RoomID)
		return fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}

	return nil
}

func (r *roomRepository) Delete(ctx context.Context, roomID string) error {
	deleted, err := r.rdb.Del(ctx, roomKey(roomID), roomMembersKey(roomID), roomMarkerKey(roomID)).Result()
	if err != nil {
		r.log.Error("Failed to delete room", "error", err, "room_id", roomID)
		return fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	if deleted == 0 {
		return apperrors.ErrRoomNotFound
	}
	return nil
}

func (r *roomRepository) Touch(ctx context.Context, roomID string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.Expire(ctx, roomKey(roomID), ttl+RoomRecordGrace).Result()
	if err != nil {
		r.log.Error("Failed to touch room", "error", err, "room_id", roomID)
		return false, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	if !ok {
		return false, nil
	}

	// The marker may have expired already even though the record is still
	// within its grace window, so rewrite it instead of extending it.
	if err := r.rdb.Set(ctx, roomMarkerKey(roomID), roomID, ttl).Err(); err != nil {
		r.log.Error("Failed to refresh room expiry marker", "error", err, "room_id", roomID)
		return false, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	r.rdb.Expire(ctx, roomMembersKey(roomID), ttl+RoomRecordGrace)

	return true, nil
}

func (r *roomRepository) MarkerExists(ctx context.Context, roomID string) (bool, error) {
	exists, err := r.rdb.Exists(ctx, roomMarkerKey(roomID)).Result()
	if err != nil {
		r.log.Error("Failed to check room expiry marker", "error", err, "room_id", roomID)
		return false, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	return exists > 0, nil
}

func (r *roomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	var rooms []*domain.Room

	iter := r.rdb.Scan(ctx, 0, RoomScanPattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasSuffix(key, ":members") {
			continue
		}

		data, err := r.rdb.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			r.log.Error("Failed to read room during scan", "error", err, "key", key)
			return nil, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
		}

		room := &domain.Room{}
		if err := json.Unmarshal(data, room); err != nil {
			r.log.Warn("Skipping malformed room record", "error", err, "key", key)
			continue
		}
		rooms = append(rooms, room)
	}
	if err := iter.Err(); err != nil {
		r.log.Error("Room scan failed", "error", err)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}

	return rooms, nil
}

func (r *roomRepository) AddMember(ctx context.Context, roomID, sessionID string, ttl time.Duration) error {
	key := roomMembersKey(roomID)
	if err := r.rdb.SAdd(ctx, key, sessionID).Err(); err != nil {
		r.log.Error("Failed to add room member", "error", err, "room_id", roomID, "session_id", sessionID)
		return fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	r.rdb.Expire(ctx, key, ttl+RoomRecordGrace)
	return nil
}

func (r *roomRepository) RemoveMember(ctx context.Context, roomID, sessionID string) error {
	if err := r.rdb.SRem(ctx, roomMembersKey(roomID), sessionID).Err(); err != nil {
		r.log.Error("Failed to remove room member", "error", err, "room_id", roomID, "session_id", sessionID)
		return fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	return nil
}

func (r *roomRepository) Members(ctx context.Context, roomID string) ([]string, error) {
	members, err := r.rdb.SMembers(ctx, roomMembersKey(roomID)).Result()
	if err != nil {
		r.log.Error("Failed to list room members", "error", err, "room_id", roomID)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	return members, nil
}

func (r *roomRepository) MemberCount(ctx context.Context, roomID string) (int, error) {
	count, err := r.rdb.SCard(ctx, roomMembersKey(roomID)).Result()
	if err != nil {
		r.log.Error("Failed to count room members", "error", err, "room_id", roomID)
		return 0, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	return int(count), nil
}

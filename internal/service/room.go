package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"connection_coordinator/internal/config"
	"connection_coordinator/internal/domain"
	"connection_coordinator/internal/repository"
	apperrors "connection_coordinator/pkg/errors"
	"connection_coordinator/pkg/logger"
)

type RoomService interface {
	// Create registers a new room. An empty roomID gets a server-generated
	// one. A second create for the same id fails with ErrRoomAlreadyExists
	// and leaves the first record untouched.
	Create(ctx context.Context, roomID, permission, ownerID string, allowedUsers, allowedRoles []string, maxSize int) (*domain.Room, error)
	Get(ctx context.Context, roomID string) (*domain.Room, error)
	UpdatePermissions(ctx context.Context, roomID string, permission *string, allowedUsers, allowedRoles []string) (*domain.Room, error)
	Delete(ctx context.Context, roomID string) error
	// CheckAccess is fail-open: the owner, public rooms and rooms without a
	// permission record all allow; backend errors allow and are logged.
	CheckAccess(ctx context.Context, roomID, userID string, userRoles []string) bool
	// Touch reinstates the room TTL. Call it on every join and on any
	// activity signal the caller wires in.
	Touch(ctx context.Context, roomID string) error
	ListAll(ctx context.Context) ([]*domain.Room, error)
	// History returns the room's audit trail, newest first. It requires
	// the audit store and fails when none is configured.
	History(ctx context.Context, roomID string, limit int) ([]*domain.AuditRecord, error)
	// SweepStale is the periodic fallback when keyspace notifications are
	// unavailable: rooms whose expiry marker is gone are expired. Touch
	// rewrites the marker, so an actively touched room is never reaped.
	SweepStale(ctx context.Context) (int, error)

	// Join and Leave keep the session's room set and the room's member list
	// consistent; neither side is ever mutated directly by callers.
	Join(ctx context.Context, roomID, sessionID, userID string, userRoles []string) error
	Leave(ctx context.Context, roomID, sessionID string) error
	Members(ctx context.Context, roomID string) ([]string, error)

	// HandleExpiredRoom is invoked by the TTL monitor with the room id
	// extracted from an expired marker key.
	HandleExpiredRoom(ctx context.Context, roomID string)
	SetOnExpired(fn func(room *domain.Room))
}

type roomService struct {
	roomRepo    repository.RoomRepository
	sessionRepo repository.SessionRepository
	auditRepo   repository.AuditRepository
	roomCfg     config.RoomConfig
	sessionCfg  config.SessionConfig
	log         logger.Logger
	onExpired   func(room *domain.Room)
}

func NewRoomService(
	roomRepo repository.RoomRepository,
	sessionRepo repository.SessionRepository,
	auditRepo repository.AuditRepository,
	roomCfg config.RoomConfig,
	sessionCfg config.SessionConfig,
	log logger.Logger,
) RoomService {
	return &roomService{
		roomRepo:    roomRepo,
		sessionRepo: sessionRepo,
		auditRepo:   auditRepo,
		roomCfg:     roomCfg,
		sessionCfg:  sessionCfg,
		log:         log,
	}
}

func (s *roomService) Create(ctx context.Context, roomID, permission, ownerID string, allowedUsers, allowedRoles []string, maxSize int) (*domain.Room, error) {
	if roomID == "" {
		roomID = uuid.New().String()
	}
	if permission != domain.RoomPermissionPrivate {
		permission = domain.RoomPermissionPublic
	}
	if maxSize <= 0 {
		maxSize = s.roomCfg.DefaultMaxSize
	}

	now := time.Now()
	room := &domain.Room{
		RoomID:     roomID,
		Permission: permission,
		OwnerID:    ownerID,
		MaxSize:    maxSize,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	room.SetAllowedUsers(allowedUsers)
	room.SetAllowedRoles(allowedRoles)

	if err := s.roomRepo.Create(ctx, room, s.roomCfg.TTL); err != nil {
		return nil, err
	}

	s.audit(ctx, domain.AuditEventRoomCreated, ownerID, roomID, map[string]interface{}{
		"permission": permission,
		"max_size":   maxSize,
	})

	s.log.Info("Room created", "room_id", roomID, "permission", permission, "owner_id", ownerID)
	return room, nil
}

func (s *roomService) Get(ctx context.Context, roomID string) (*domain.Room, error) {
	return s.roomRepo.Get(ctx, roomID)
}

func (s *roomService) UpdatePermissions(ctx context.Context, roomID string, permission *string, allowedUsers, allowedRoles []string) (*domain.Room, error) {
	room, err := s.roomRepo.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if permission != nil {
		if *permission != domain.RoomPermissionPublic && *permission != domain.RoomPermissionPrivate {
			return nil, apperrors.ErrBadRequest
		}
		room.Permission = *permission
	}
	if allowedUsers != nil {
		room.SetAllowedUsers(allowedUsers)
	}
	if allowedRoles != nil {
		room.SetAllowedRoles(allowedRoles)
	}
	room.UpdatedAt = time.Now()

	if err := s.roomRepo.Save(ctx, room, s.roomCfg.TTL); err != nil {
		return nil, err
	}

	return room, nil
}

func (s *roomService) Delete(ctx context.Context, roomID string) error {
	room, err := s.roomRepo.Get(ctx, roomID)
	if err != nil {
		return err
	}

	if err := s.roomRepo.Delete(ctx, roomID); err != nil {
		return err
	}

	s.audit(ctx, domain.AuditEventRoomDeleted, room.OwnerID, roomID, nil)
	s.log.Info("Room deleted", "room_id", roomID)
	return nil
}

func (s *roomService) CheckAccess(ctx context.Context, roomID, userID string, userRoles []string) bool {
	room, err := s.roomRepo.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, apperrors.ErrRoomNotFound) {
			// Rooms without a permission record behave as public. Several
			// callers rely on rooms working without an explicit create.
			return true
		}
		s.log.Error("Access check failed open", "error", err, "room_id", roomID)
		return true
	}

	if room.OwnerID != "" && room.OwnerID == userID {
		return true
	}
	if room.Permission == domain.RoomPermissionPublic {
		return true
	}
	if room.Permission == domain.RoomPermissionPrivate {
		if userID != "" && room.UserAllowed(userID) {
			return true
		}
		if room.RoleAllowed(userRoles) {
			return true
		}
		return false
	}

	return false
}

func (s *roomService) Touch(ctx context.Context, roomID string) error {
	touched, err := s.roomRepo.Touch(ctx, roomID, s.roomCfg.TTL)
	if err != nil {
		return err
	}
	if !touched {
		return apperrors.ErrRoomNotFound
	}
	return nil
}

func (s *roomService) ListAll(ctx context.Context) ([]*domain.Room, error) {
	return s.roomRepo.List(ctx)
}

func (s *roomService) History(ctx context.Context, roomID string, limit int) ([]*domain.AuditRecord, error) {
	if s.auditRepo == nil {
		return nil, apperrors.ErrBackendUnavailable
	}
	if limit <= 0 {
		limit = 50
	}
	return s.auditRepo.ListByRoom(ctx, roomID, limit)
}

func (s *roomService) SweepStale(ctx context.Context) (int, error) {
	rooms, err := s.roomRepo.List(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, room := range rooms {
		alive, err := s.roomRepo.MarkerExists(ctx, room.RoomID)
		if err != nil {
			s.log.Error("Room sweep marker check failed", "error", err, "room_id", room.RoomID)
			continue
		}
		if alive {
			continue
		}
		s.HandleExpiredRoom(ctx, room.RoomID)
		removed++
	}

	if removed > 0 {
		s.log.Info("Swept stale rooms", "count", removed)
	}
	return removed, nil
}

func (s *roomService) Join(ctx context.Context, roomID, sessionID, userID string, userRoles []string) error {
	if !s.CheckAccess(ctx, roomID, userID, userRoles) {
		return apperrors.ErrAccessDenied
	}

	room, err := s.roomRepo.Get(ctx, roomID)
	if err != nil && !errors.Is(err, apperrors.ErrRoomNotFound) {
		return err
	}

	if room != nil && room.MaxSize > 0 {
		count, err := s.roomRepo.MemberCount(ctx, roomID)
		if err != nil {
			return err
		}
		if count >= room.MaxSize {
			return apperrors.ErrRoomFull
		}
	}

	// Member list first, session's room set second: the session set must
	// stay a subset of the rooms that actually list it.
	if err := s.roomRepo.AddMember(ctx, roomID, sessionID, s.roomCfg.TTL); err != nil {
		return err
	}

	session, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		s.roomRepo.RemoveMember(ctx, roomID, sessionID)
		return err
	}
	session.AddRoom(roomID)
	session.LastActivity = time.Now()
	if err := s.sessionRepo.Save(ctx, session, s.sessionCfg.TTL); err != nil {
		s.roomRepo.RemoveMember(ctx, roomID, sessionID)
		return err
	}

	// Any join reinstates the room's TTL. Ignore NotFound for rooms that
	// were never explicitly created.
	if room != nil {
		if err := s.Touch(ctx, roomID); err != nil && !errors.Is(err, apperrors.ErrRoomNotFound) {
			s.log.Warn("Failed to touch room on join", "error", err, "room_id", roomID)
		}
	}

	return nil
}

func (s *roomService) Leave(ctx context.Context, roomID, sessionID string) error {
	// Session's room set first, member list second, preserving the subset
	// invariant in the other direction.
	session, err := s.sessionRepo.Get(ctx, sessionID)
	if err == nil {
		session.RemoveRoom(roomID)
		session.LastActivity = time.Now()
		if err := s.sessionRepo.Save(ctx, session, s.sessionCfg.TTL); err != nil {
			return err
		}
	} else if !errors.Is(err, apperrors.ErrSessionNotFound) {
		return err
	}

	return s.roomRepo.RemoveMember(ctx, roomID, sessionID)
}

func (s *roomService) Members(ctx context.Context, roomID string) ([]string, error) {
	return s.roomRepo.Members(ctx, roomID)
}

func (s *roomService) HandleExpiredRoom(ctx context.Context, roomID string) {
	room, err := s.roomRepo.Get(ctx, roomID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrRoomNotFound) {
			s.log.Error("Failed to load expired room", "error", err, "room_id", roomID)
		}
		// Record already gone; nothing to notify about.
		return
	}

	if s.onExpired != nil {
		s.onExpired(room)
	}

	if err := s.roomRepo.Delete(ctx, roomID); err != nil && !errors.Is(err, apperrors.ErrRoomNotFound) {
		s.log.Error("Failed to delete expired room", "error", err, "room_id", roomID)
	}

	s.audit(ctx, domain.AuditEventRoomExpired, room.OwnerID, roomID, nil)
	s.log.Info("Room expired", "room_id", roomID)
}

func (s *roomService) SetOnExpired(fn func(room *domain.Room)) {
	s.onExpired = fn
}

func (s *roomService) audit(ctx context.Context, eventType, actorID, roomID string, payload map[string]interface{}) {
	if s.auditRepo == nil {
		return
	}
	record := &domain.AuditRecord{
		EventTime: time.Now(),
		EventType: eventType,
		ActorID:   actorID,
		RoomID:    roomID,
		Payload:   payload,
	}
	if err := s.auditRepo.CreateRecord(ctx, record); err != nil {
		s.log.Warn("Failed to write audit record", "error", err, "event_type", eventType)
	}
}

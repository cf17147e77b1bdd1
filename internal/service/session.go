package service

import (
	"context"
	"errors"
	"time"

	"connection_coordinator/internal/config"
	"connection_coordinator/internal/domain"
	"connection_coordinator/internal/repository"
	apperrors "connection_coordinator/pkg/errors"
	"connection_coordinator/pkg/logger"
)

type SessionService interface {
	// Create registers a fresh session record, overwriting any stale record
	// left under the same id. A non-empty token is verified and the
	// resulting principal stamped onto the session; a bad token still
	// creates the session, just unauthenticated.
	Create(ctx context.Context, sessionID, userID, username, token, clientID, origin string) (*domain.Session, error)
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Delete(ctx context.Context, sessionID string) error
	// AddRoom and RemoveRoom are idempotent set operations; both report
	// false when the session does not exist.
	AddRoom(ctx context.Context, sessionID, roomID string) (bool, error)
	RemoveRoom(ctx context.Context, sessionID, roomID string) (bool, error)
	Touch(ctx context.Context, sessionID string) error
	// Authenticate verifies the token and, on success, overwrites the
	// session's user identity and roles.
	Authenticate(ctx context.Context, sessionID, token string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	Count(ctx context.Context) (int, error)
	// SweepStale removes sessions whose last activity predates the cutoff.
	SweepStale(ctx context.Context, maxInactive time.Duration) (int, error)
}

type sessionService struct {
	sessionRepo repository.SessionRepository
	auditRepo   repository.AuditRepository
	verifier    TokenVerifier
	cfg         config.SessionConfig
	log         logger.Logger
}

func NewSessionService(sessionRepo repository.SessionRepository, auditRepo repository.AuditRepository, verifier TokenVerifier, cfg config.SessionConfig, log logger.Logger) SessionService {
	return &sessionService{
		sessionRepo: sessionRepo,
		auditRepo:   auditRepo,
		verifier:    verifier,
		cfg:         cfg,
		log:         log,
	}
}

func (s *sessionService) Create(ctx context.Context, sessionID, userID, username, token, clientID, origin string) (*domain.Session, error) {
	now := time.Now()
	session := &domain.Session{
		SessionID:    sessionID,
		UserID:       userID,
		Username:     username,
		ClientID:     clientID,
		Origin:       origin,
		ConnectedAt:  now,
		LastActivity: now,
		Rooms:        []string{},
		UserRoles:    []string{},
		Status:       domain.SessionStatusActive,
	}

	if token != "" {
		principal, err := s.verifier.Verify(ctx, token)
		if err != nil {
			s.log.Warn("Session token rejected", "error", err, "session_id", sessionID)
		} else {
			session.UserID = principal.UserID
			session.Username = principal.Username
			session.UserRoles = append([]string{}, principal.Roles...)
		}
	}

	if err := s.sessionRepo.Save(ctx, session, s.cfg.TTL); err != nil {
		return nil, err
	}

	s.log.Info("Session created", "session_id", sessionID, "user_id", session.UserID)
	return session, nil
}

func (s *sessionService) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.sessionRepo.Get(ctx, sessionID)
}

func (s *sessionService) Delete(ctx context.Context, sessionID string) error {
	return s.sessionRepo.Delete(ctx, sessionID)
}

func (s *sessionService) AddRoom(ctx context.Context, sessionID, roomID string) (bool, error) {
	session, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}

	session.AddRoom(roomID)
	session.LastActivity = time.Now()
	if err := s.sessionRepo.Save(ctx, session, s.cfg.TTL); err != nil {
		return false, err
	}
	return true, nil
}

func (s *sessionService) RemoveRoom(ctx context.Context, sessionID, roomID string) (bool, error) {
	session, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}

	session.RemoveRoom(roomID)
	session.LastActivity = time.Now()
	if err := s.sessionRepo.Save(ctx, session, s.cfg.TTL); err != nil {
		return false, err
	}
	return true, nil
}

func (s *sessionService) Touch(ctx context.Context, sessionID string) error {
	session, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	session.LastActivity = time.Now()
	return s.sessionRepo.Save(ctx, session, s.cfg.TTL)
}

func (s *sessionService) Authenticate(ctx context.Context, sessionID, token string) (bool, error) {
	session, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}

	principal, err := s.verifier.Verify(ctx, token)
	if err != nil {
		s.log.Warn("Authentication failed", "error", err, "session_id", sessionID)
		return false, nil
	}

	session.UserID = principal.UserID
	session.Username = principal.Username
	session.UserRoles = append([]string{}, principal.Roles...)
	session.LastActivity = time.Now()

	if err := s.sessionRepo.Save(ctx, session, s.cfg.TTL); err != nil {
		return false, err
	}

	s.log.Info("Session authenticated", "session_id", sessionID, "user_id", principal.UserID)
	return true, nil
}

func (s *sessionService) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	sessions, err := s.sessionRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	var matched []*domain.Session
	for _, session := range sessions {
		if session.UserID == userID {
			matched = append(matched, session)
		}
	}
	return matched, nil
}

func (s *sessionService) Count(ctx context.Context) (int, error) {
	return s.sessionRepo.Count(ctx)
}

func (s *sessionService) SweepStale(ctx context.Context, maxInactive time.Duration) (int, error) {
	sessions, err := s.sessionRepo.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxInactive)
	removed := 0
	for _, session := range sessions {
		if session.LastActivity.After(cutoff) {
			continue
		}
		if err := s.sessionRepo.Delete(ctx, session.SessionID); err != nil {
			s.log.Error("Failed to remove stale session", "error", err, "session_id", session.SessionID)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.log.Info("Swept stale sessions", "count", removed)
		if s.auditRepo != nil {
			record := &domain.AuditRecord{
				EventTime: time.Now(),
				EventType: domain.AuditEventSessionSwept,
				Payload:   map[string]interface{}{"count": removed},
			}
			if err := s.auditRepo.CreateRecord(ctx, record); err != nil {
				s.log.Warn("Failed to write audit record", "error", err, "event_type", record.EventType)
			}
		}
	}
	return removed, nil
}

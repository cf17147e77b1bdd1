package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"connection_coordinator/internal/domain"
	apperrors "connection_coordinator/pkg/errors"
	"connection_coordinator/pkg/logger"
)

const (
	// Префикс ключей Redis
	SessionKeyPrefix   = "coord:session:%s"
	SessionScanPattern = "coord:session:*"
)

type SessionRepository interface {
	// Save serializes the full record and overwrites whatever is stored
	// under the session id, resetting the TTL.
	Save(ctx context.Context, session *domain.Session, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Delete(ctx context.Context, sessionID string) error
	// Touch extends the TTL without rewriting the record.
	Touch(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
	List(ctx context.Context) ([]*domain.Session, error)
	Count(ctx context.Context) (int, error)
}

type sessionRepository struct {
	rdb *redis.Client
	log logger.Logger
}

func NewSessionRepository(rdb *redis.Client, log logger.Logger) SessionRepository {
	return &sessionRepository{rdb: rdb, log: log}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf(SessionKeyPrefix, sessionID)
}

func (r *sessionRepository) Save(ctx context.Context, session *domain.Session, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		r.log.Error("Failed to marshal session", "error", err, "session_id", session.SessionID)
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := r.rdb.Set(ctx, sessionKey(session.SessionID), data, ttl).Err(); err != nil {
		r.log.Error("Failed to save session", "error", err, "session_id", session.SessionID)
		return fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}

	return nil
}

func (r *sessionRepository) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	data, err := r.rdb.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.ErrSessionNotFound
		}
		r.log.Error("Failed to get session", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}

	session := &domain.Session{}
	if err := json.Unmarshal(data, session); err != nil {
		r.log.Error("Failed to unmarshal session", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return session, nil
}

func (r *sessionRepository) Delete(ctx context.Context, sessionID string) error {
	if err := r.rdb.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		r.log.Error("Failed to delete session", "error", err, "session_id", sessionID)
		return fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	return nil
}

func (r *sessionRepository) Touch(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.Expire(ctx, sessionKey(sessionID), ttl).Result()
	if err != nil {
		r.log.Error("Failed to touch session", "error", err, "session_id", sessionID)
		return false, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	return ok, nil
}

func (r *sessionRepository) List(ctx context.Context) ([]*domain.Session, error) {
	var sessions []*domain.Session

	iter := r.rdb.Scan(ctx, 0, SessionScanPattern, 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Expired between SCAN and GET.
				continue
			}
			r.log.Error("Failed to read session during scan", "error", err, "key", iter.Val())
			return nil, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
		}

		session := &domain.Session{}
		if err := json.Unmarshal(data, session); err != nil {
			r.log.Warn("Skipping malformed session record", "error", err, "key", iter.Val())
			continue
		}
		sessions = append(sessions, session)
	}
	if err := iter.Err(); err != nil {
		r.log.Error("Session scan failed", "error", err)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}

	return sessions, nil
}

func (r *sessionRepository) Count(ctx context.Context) (int, error) {
	count := 0
	iter := r.rdb.Scan(ctx, 0, SessionScanPattern, 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		r.log.Error("Session count scan failed", "error", err)
		return 0, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	return count, nil
}

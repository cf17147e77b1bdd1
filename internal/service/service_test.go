package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"connection_coordinator/internal/config"
	"connection_coordinator/internal/repository"
	apperrors "connection_coordinator/pkg/errors"
	"connection_coordinator/pkg/logger"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return mr, rdb
}

func newTestLogger() logger.Logger {
	return logger.New("error")
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		TTL:         2 * time.Hour,
		MaxInactive: time.Hour,
	}
}

func testRoomConfig() config.RoomConfig {
	return config.RoomConfig{
		TTL:            time.Hour,
		DefaultMaxSize: 100,
	}
}

// stubVerifier accepts any token listed in principals and rejects the rest.
type stubVerifier struct {
	principals map[string]*Principal
}

func (v *stubVerifier) Verify(_ context.Context, token string) (*Principal, error) {
	principal, ok := v.principals[token]
	if !ok {
		return nil, apperrors.ErrInvalidToken
	}
	return principal, nil
}

func newTestServices(t *testing.T) (*miniredis.Miniredis, SessionService, RoomService) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	log := newTestLogger()

	sessionRepo := repository.NewSessionRepository(rdb, log)
	roomRepo := repository.NewRoomRepository(rdb, log)

	verifier := &stubVerifier{principals: map[string]*Principal{
		"good-token": {UserID: "user-1", Username: "alice", Roles: []string{"admin"}},
	}}

	sessions := NewSessionService(sessionRepo, nil, verifier, testSessionConfig(), log)
	rooms := NewRoomService(roomRepo, sessionRepo, nil, testRoomConfig(), testSessionConfig(), log)

	return mr, sessions, rooms
}

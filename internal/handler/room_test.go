package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"connection_coordinator/internal/config"
	"connection_coordinator/internal/repository"
	"connection_coordinator/internal/service"
	"connection_coordinator/pkg/logger"
)

func newRoomHistoryRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.New("error")
	sessionCfg := config.SessionConfig{TTL: time.Hour, MaxInactive: time.Hour}
	roomCfg := config.RoomConfig{TTL: time.Hour, DefaultMaxSize: 100}

	rooms := service.NewRoomService(
		repository.NewRoomRepository(rdb, log),
		repository.NewSessionRepository(rdb, log),
		nil, roomCfg, sessionCfg, log,
	)

	router := gin.New()
	router.GET("/rooms/:id/history", NewRoomHandler(rooms, log).History)
	return router
}

func TestRoomHistoryEndpointWithoutAuditStore(t *testing.T) {
	router := newRoomHistoryRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rooms/r-1/history", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 without an audit store", w.Code)
	}
}

func TestRoomHistoryEndpointRejectsBadLimit(t *testing.T) {
	router := newRoomHistoryRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rooms/r-1/history?limit=ten", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a non-integer limit", w.Code)
	}
}

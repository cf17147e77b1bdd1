package middleware

import (
	"encoding/json"
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

func newTestRouter(t *testing.T, cfg config.RateLimitConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.New("error")
	limiter := service.NewRateLimitService(repository.NewRateLimitRepository(rdb, log), nil, cfg, log)

	router := gin.New()
	router.Use(NewRateLimitMiddleware(limiter, log).Limit())
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func doRequest(router *gin.Engine, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestLimitMiddlewareAllowsAndSetsHeaders(t *testing.T) {
	router := newTestRouter(t, config.RateLimitConfig{
		IP: config.DimensionLimit{Limit: 5, Window: time.Minute},
	})

	w := doRequest(router, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-IP-Limit"); got != "5" {
		t.Errorf("X-RateLimit-IP-Limit = %q, want 5", got)
	}
	if got := w.Header().Get("X-RateLimit-IP-Remaining"); got != "4" {
		t.Errorf("X-RateLimit-IP-Remaining = %q, want 4", got)
	}
	if w.Header().Get("X-RateLimit-IP-Reset") == "" {
		t.Error("X-RateLimit-IP-Reset not set")
	}
}

func TestLimitMiddlewareRejectsOverBudget(t *testing.T) {
	router := newTestRouter(t, config.RateLimitConfig{
		IP: config.DimensionLimit{Limit: 2, Window: time.Minute},
	})

	doRequest(router, "")
	doRequest(router, "")
	w := doRequest(router, "")

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After not set on rejection")
	}

	var body struct {
		Error         string   `json:"error"`
		ExceededTypes []string `json:"exceeded_types"`
		RetryAfter    int      `json:"retry_after"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("malformed body %q: %v", w.Body.String(), err)
	}
	if body.Error != "rate_limit_exceeded" {
		t.Errorf("error = %q", body.Error)
	}
	if len(body.ExceededTypes) != 1 || body.ExceededTypes[0] != "ip" {
		t.Errorf("exceeded_types = %v, want [ip]", body.ExceededTypes)
	}
	if body.RetryAfter <= 0 || body.RetryAfter > 60 {
		t.Errorf("retry_after = %d, want within (0, 60]", body.RetryAfter)
	}
}

func TestLimitMiddlewareChecksAPIKeyDimension(t *testing.T) {
	router := newTestRouter(t, config.RateLimitConfig{
		IP:     config.DimensionLimit{Limit: 100, Window: time.Minute},
		APIKey: config.DimensionLimit{Limit: 1, Window: time.Minute},
	})

	if w := doRequest(router, "key-1"); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w.Code)
	}
	if w := doRequest(router, "key-1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429 on the api_key budget", w.Code)
	}

	// A different key has its own budget; the IP budget is still fine.
	if w := doRequest(router, "key-2"); w.Code != http.StatusOK {
		t.Fatalf("other key status = %d, want 200", w.Code)
	}
}

package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"connection_coordinator/internal/domain"
	"connection_coordinator/internal/service"
	"connection_coordinator/pkg/logger"
)

type RateLimitMiddleware struct {
	rateLimitService service.RateLimitService
	log              logger.Logger
}

func NewRateLimitMiddleware(rateLimitService service.RateLimitService, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimitService: rateLimitService,
		log:              log,
	}
}

// Limit checks every dimension present on the request (client IP always,
// user when authenticated, API key when supplied) and rejects with 429 only
// when at least one dimension is over budget. Headers are emitted for all
// checked dimensions either way.
func (m *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifiers := map[string]string{
			domain.RateLimitDimensionIP: c.ClientIP(),
		}
		if userID := c.GetString("user_id"); userID != "" {
			identifiers[domain.RateLimitDimensionUser] = userID
		}
		if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
			identifiers[domain.RateLimitDimensionAPIKey] = apiKey
		}

		decision := m.rateLimitService.CheckAndConsume(c.Request.Context(), identifiers)

		for _, result := range decision.Results {
			prefix := headerPrefix(result.Dimension)
			c.Header(prefix+"-Limit", strconv.Itoa(result.Limit))
			c.Header(prefix+"-Remaining", strconv.Itoa(result.Remaining))
			c.Header(prefix+"-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
		}

		if !decision.Allowed {
			retryAfter := int(decision.RetryAfter(time.Now()).Seconds())
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":          "rate_limit_exceeded",
				"message":        "Too many requests, slow down",
				"exceeded_types": decision.ExceededDimensions(),
				"retry_after":    retryAfter,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func headerPrefix(dimension string) string {
	return fmt.Sprintf("X-RateLimit-%s", strings.ToUpper(dimension))
}

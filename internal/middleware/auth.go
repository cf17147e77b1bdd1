package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"connection_coordinator/internal/service"
	"connection_coordinator/pkg/logger"
)

type AuthMiddleware struct {
	verifier service.TokenVerifier
	log      logger.Logger
}

func NewAuthMiddleware(verifier service.TokenVerifier, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		log:      log,
	}
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		principal, err := m.verifier.Verify(c.Request.Context(), parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set("user_id", principal.UserID)
		c.Set("username", principal.Username)
		c.Set("user_roles", principal.Roles)
		c.Next()
	}
}

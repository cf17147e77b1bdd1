package service

import (
	"context"
	"errors"
	"time"

	apperrors "connection_coordinator/pkg/errors"
	"connection_coordinator/pkg/jwt"
	"connection_coordinator/pkg/logger"
)

// Principal is what a verified bearer token resolves to.
type Principal struct {
	UserID    string
	Username  string
	Roles     []string
	ExpiresAt time.Time
}

// TokenVerifier turns an opaque bearer token into a principal. Token issuance
// lives elsewhere; this layer only consumes the result.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

type jwtVerifier struct {
	tokens *jwt.TokenManager
	log    logger.Logger
}

func NewJWTVerifier(tokens *jwt.TokenManager, log logger.Logger) TokenVerifier {
	return &jwtVerifier{tokens: tokens, log: log}
}

func (v *jwtVerifier) Verify(ctx context.Context, token string) (*Principal, error) {
	claims, err := v.tokens.Validate(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.ErrTokenExpired
		}
		return nil, apperrors.ErrInvalidToken
	}

	principal := &Principal{
		UserID:   claims.UserID,
		Username: claims.Username,
		Roles:    claims.Roles,
	}
	if claims.ExpiresAt != nil {
		principal.ExpiresAt = claims.ExpiresAt.Time
	}

	return principal, nil
}

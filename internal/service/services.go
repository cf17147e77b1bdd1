package service

import (
	"connection_coordinator/internal/config"
	"connection_coordinator/internal/repository"
	"connection_coordinator/pkg/jwt"
	"connection_coordinator/pkg/logger"
)

type Services struct {
	Session   SessionService
	Room      RoomService
	RateLimit RateLimitService
	Verifier  TokenVerifier
}

func NewServices(repos *repository.Repositories, cfg *config.Config, log logger.Logger) *Services {
	tokens := jwt.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TTL)
	verifier := NewJWTVerifier(tokens, log)

	return &Services{
		Session:   NewSessionService(repos.Session, repos.Audit, verifier, cfg.Session, log),
		Room:      NewRoomService(repos.Room, repos.Session, repos.Audit, cfg.Room, cfg.Session, log),
		RateLimit: NewRateLimitService(repos.RateLimit, repos.Audit, cfg.RateLimit, log),
		Verifier:  verifier,
	}
}

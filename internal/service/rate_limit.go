package service

import (
	"context"
	"time"

	"connection_coordinator/internal/config"
	"connection_coordinator/internal/domain"
	"connection_coordinator/internal/repository"
	"connection_coordinator/pkg/logger"
)

type RateLimitService interface {
	// CheckAndConsume evaluates every dimension in identifiers (dimension →
	// identifier) independently and allows the request only when all of
	// them allow. Each dimension is always fully evaluated so its metadata
	// is available even when another dimension already rejected. Backend
	// errors fail open.
	CheckAndConsume(ctx context.Context, identifiers map[string]string) *domain.RateLimitDecision
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	auditRepo     repository.AuditRepository
	cfg           config.RateLimitConfig
	log           logger.Logger
}

func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, auditRepo repository.AuditRepository, cfg config.RateLimitConfig, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		auditRepo:     auditRepo,
		cfg:           cfg,
		log:           log,
	}
}

func (s *rateLimitService) limitFor(dimension string) (config.DimensionLimit, bool) {
	switch dimension {
	case domain.RateLimitDimensionIP:
		return s.cfg.IP, true
	case domain.RateLimitDimensionUser:
		return s.cfg.User, true
	case domain.RateLimitDimensionAPIKey:
		return s.cfg.APIKey, true
	default:
		return config.DimensionLimit{}, false
	}
}

func (s *rateLimitService) CheckAndConsume(ctx context.Context, identifiers map[string]string) *domain.RateLimitDecision {
	decision := &domain.RateLimitDecision{Allowed: true}

	for _, dimension := range []string{domain.RateLimitDimensionIP, domain.RateLimitDimensionUser, domain.RateLimitDimensionAPIKey} {
		identifier, ok := identifiers[dimension]
		if !ok || identifier == "" {
			continue
		}
		result := s.checkDimension(ctx, dimension, identifier)
		decision.Results = append(decision.Results, result)
		if !result.Allowed {
			decision.Allowed = false
		}
	}

	return decision
}

func (s *rateLimitService) checkDimension(ctx context.Context, dimension, identifier string) domain.RateLimitResult {
	limit, ok := s.limitFor(dimension)
	result := domain.RateLimitResult{
		Dimension:  dimension,
		Identifier: identifier,
		Allowed:    true,
		Limit:      limit.Limit,
	}
	if !ok {
		return result
	}

	// A standing ban rejects immediately without touching the counter.
	banned, err := s.rateLimitRepo.IsBanned(ctx, dimension, identifier)
	if err != nil {
		s.log.Error("Ban check failed, allowing request", "error", err, "dimension", dimension)
		result.Remaining = limit.Limit
		result.ResetTime = time.Now().Add(limit.Window)
		return result
	}
	if banned {
		result.Allowed = false
		result.Banned = true
		result.Remaining = 0
		result.ResetTime = time.Now().Add(s.cfg.BanDuration)
		return result
	}

	count, ttl, err := s.rateLimitRepo.Count(ctx, dimension, identifier)
	if err != nil {
		s.log.Error("Rate counter read failed, allowing request", "error", err, "dimension", dimension)
		result.Remaining = limit.Limit
		result.ResetTime = time.Now().Add(limit.Window)
		return result
	}

	if count >= int64(limit.Limit) {
		result.Allowed = false
		result.Remaining = 0
		result.ResetTime = time.Now().Add(ttl)
		s.recordViolation(ctx, dimension, identifier)
		return result
	}

	newCount, err := s.rateLimitRepo.Increment(ctx, dimension, identifier, limit.Window)
	if err != nil {
		s.log.Error("Rate counter increment failed, allowing request", "error", err, "dimension", dimension)
		result.Remaining = limit.Limit - int(count) - 1
		result.ResetTime = time.Now().Add(limit.Window)
		return result
	}

	result.Remaining = limit.Limit - int(newCount)
	if result.Remaining < 0 {
		result.Remaining = 0
	}
	if count == 0 {
		// Fresh window.
		result.ResetTime = time.Now().Add(limit.Window)
	} else {
		result.ResetTime = time.Now().Add(ttl)
	}

	return result
}

func (s *rateLimitService) recordViolation(ctx context.Context, dimension, identifier string) {
	if !s.cfg.AutoBan {
		return
	}

	violations, err := s.rateLimitRepo.IncrementViolations(ctx, dimension, identifier, s.cfg.ViolationWindow)
	if err != nil {
		s.log.Error("Failed to record violation", "error", err, "dimension", dimension)
		return
	}

	if violations >= int64(s.cfg.ViolationThreshold) {
		if err := s.rateLimitRepo.Ban(ctx, dimension, identifier, s.cfg.BanDuration); err != nil {
			s.log.Error("Failed to write ban", "error", err, "dimension", dimension)
			return
		}
		s.log.Warn("Identifier banned",
			"dimension", dimension,
			"identifier", identifier,
			"violations", violations,
			"duration", s.cfg.BanDuration,
		)
		if s.auditRepo != nil {
			record := &domain.AuditRecord{
				EventTime: time.Now(),
				EventType: domain.AuditEventIdentifierBanned,
				ActorID:   identifier,
				Payload: map[string]interface{}{
					"dimension":  dimension,
					"violations": violations,
					"duration":   s.cfg.BanDuration.String(),
				},
			}
			if err := s.auditRepo.CreateRecord(ctx, record); err != nil {
				s.log.Warn("Failed to write audit record", "error", err, "event_type", record.EventType)
			}
		}
	}
}

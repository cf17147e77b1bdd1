package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "connection_coordinator/pkg/errors"
	"connection_coordinator/pkg/logger"
)

const (
	RateLimitCounterKeyPrefix   = "coord:ratelimit:%s:%s"
	RateLimitViolationKeyPrefix = "coord:ratelimit:violations:%s:%s"
	RateLimitBanKeyPrefix       = "coord:ratelimit:ban:%s:%s"
)

type RateLimitRepository interface {
	IsBanned(ctx context.Context, dimension, identifier string) (bool, error)
	// Count returns the current window counter and the time left in the
	// window. A missing counter reports 0 with zero TTL.
	Count(ctx context.Context, dimension, identifier string) (int64, time.Duration, error)
	// Increment bumps the window counter, starting the window on first use.
	Increment(ctx context.Context, dimension, identifier string, window time.Duration) (int64, error)
	IncrementViolations(ctx context.Context, dimension, identifier string, window time.Duration) (int64, error)
	Ban(ctx context.Context, dimension, identifier string, duration time.Duration) error
}

type rateLimitRepository struct {
	rdb *redis.Client
	log logger.Logger
}

func NewRateLimitRepository(rdb *redis.Client, log logger.Logger) RateLimitRepository {
	return &rateLimitRepository{rdb: rdb, log: log}
}

func counterKey(dimension, identifier string) string {
	return fmt.Sprintf(RateLimitCounterKeyPrefix, dimension, identifier)
}

func violationKey(dimension, identifier string) string {
	return fmt.Sprintf(RateLimitViolationKeyPrefix, dimension, identifier)
}

func banKey(dimension, identifier string) string {
	return fmt.Sprintf(RateLimitBanKeyPrefix, dimension, identifier)
}

func (r *rateLimitRepository) IsBanned(ctx context.Context, dimension, identifier string) (bool, error) {
	exists, err := r.rdb.Exists(ctx, banKey(dimension, identifier)).Result()
	if err != nil {
		r.log.Error("Failed to check ban", "error", err, "dimension", dimension, "identifier", identifier)
		return false, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	return exists > 0, nil
}

func (r *rateLimitRepository) Count(ctx context.Context, dimension, identifier string) (int64, time.Duration, error) {
	key := counterKey(dimension, identifier)

	count, err := r.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, 0, nil
	}
	if err != nil {
		r.log.Error("Failed to read rate counter", "error", err, "key", key)
		return 0, 0, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}

	ttl, err := r.rdb.PTTL(ctx, key).Result()
	if err != nil {
		r.log.Error("Failed to read rate counter TTL", "error", err, "key", key)
		return count, 0, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	if ttl < 0 {
		ttl = 0
	}

	return count, ttl, nil
}

func (r *rateLimitRepository) Increment(ctx context.Context, dimension, identifier string, window time.Duration) (int64, error) {
	key := counterKey(dimension, identifier)

	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		r.log.Error("Failed to increment rate counter", "error", err, "key", key)
		return 0, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}

	if count == 1 {
		r.rdb.Expire(ctx, key, window)
	}

	return count, nil
}

func (r *rateLimitRepository) IncrementViolations(ctx context.Context, dimension, identifier string, window time.Duration) (int64, error) {
	key := violationKey(dimension, identifier)

	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		r.log.Error("Failed to increment violations", "error", err, "key", key)
		return 0, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}

	if count == 1 {
		r.rdb.Expire(ctx, key, window)
	}

	return count, nil
}

func (r *rateLimitRepository) Ban(ctx context.Context, dimension, identifier string, duration time.Duration) error {
	if err := r.rdb.Set(ctx, banKey(dimension, identifier), "1", duration).Err(); err != nil {
		r.log.Error("Failed to write ban", "error", err, "dimension", dimension, "identifier", identifier)
		return fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	return nil
}

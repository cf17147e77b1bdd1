package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"connection_coordinator/pkg/logger"
)

type Repositories struct {
	Session   SessionRepository
	Room      RoomRepository
	RateLimit RateLimitRepository
	Audit     AuditRepository
}

// NewRepositories wires the Redis-backed registries and, when a database pool
// is available, the durable audit log. Audit stays nil without a pool.
func NewRepositories(rdb *redis.Client, db *pgxpool.Pool, log logger.Logger) *Repositories {
	repos := &Repositories{
		Session:   NewSessionRepository(rdb, log),
		Room:      NewRoomRepository(rdb, log),
		RateLimit: NewRateLimitRepository(rdb, log),
	}

	if db != nil {
		repos.Audit = NewAuditRepository(db, log)
		log.Info("Audit repository initialized")
	} else {
		log.Warn("Database pool is nil, audit repository disabled")
	}

	return repos
}

package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"connection_coordinator/internal/domain"
	"connection_coordinator/pkg/logger"
)

type AuditRepository interface {
	CreateRecord(ctx context.Context, record *domain.AuditRecord) error
	ListByRoom(ctx context.Context, roomID string, limit int) ([]*domain.AuditRecord, error)
}

type auditRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewAuditRepository(db *pgxpool.Pool, log logger.Logger) AuditRepository {
	return &auditRepository{db: db, log: log}
}

func (r *auditRepository) CreateRecord(ctx context.Context, record *domain.AuditRecord) error {
	query := `
		INSERT INTO coordination_audit (event_time, event_type, actor_id, room_id, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := r.db.QueryRow(ctx, query,
		record.EventTime, record.EventType, record.ActorID, record.RoomID, record.Payload,
	).Scan(&record.ID)

	if err != nil {
		r.log.Error("Failed to create audit record", "error", err)
		return err
	}

	return nil
}

func (r *auditRepository) ListByRoom(ctx context.Context, roomID string, limit int) ([]*domain.AuditRecord, error) {
	query := `
		SELECT id, event_time, event_type, actor_id, room_id, payload
		FROM coordination_audit
		WHERE room_id = $1
		ORDER BY event_time DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, roomID, limit)
	if err != nil {
		r.log.Error("Failed to list audit records", "error", err)
		return nil, err
	}
	defer rows.Close()

	var records []*domain.AuditRecord
	for rows.Next() {
		record := &domain.AuditRecord{}
		err := rows.Scan(
			&record.ID, &record.EventTime, &record.EventType,
			&record.ActorID, &record.RoomID, &record.Payload,
		)
		if err != nil {
			r.log.Error("Failed to scan audit record", "error", err)
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

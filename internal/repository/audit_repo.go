// internal/repository/audit_repo.go
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"verification-service/internal/domain"
	"verification-service/pkg/id"
)

type AuditRepository struct {
	pool *pgxpool.Pool
	ids  *id.ULIDGenerator
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool, ids: id.NewULIDGenerator()}
}

// Insert appends an audit entry. IDs are ULIDs so entries sort by time.
func (r *AuditRepository) Insert(ctx context.Context, entry *domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = r.ids.New()
	}

	query := `
		INSERT INTO audit_logs (id, actor_id, actor_role, action, payment_id, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	details := entry.Details
	if len(details) == 0 {
		details = []byte(`{}`)
	}
	err := r.pool.QueryRow(ctx, query,
		entry.ID, entry.ActorID, entry.ActorRole, entry.Action, entry.PaymentID, []byte(details),
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// internal/repository/plan_repo.go
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"verification-service/internal/domain"
	"verification-service/pkg/xerrors"
)

type PlanRepository struct {
	pool *pgxpool.Pool
}

func NewPlanRepository(pool *pgxpool.Pool) *PlanRepository {
	return &PlanRepository{pool: pool}
}

func (r *PlanRepository) GetByID(ctx context.Context, id string) (*domain.Plan, error) {
	var (
		p     domain.Plan
		price string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, price::text, currency FROM plans WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &price, &p.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid plan price %q: %w", price, err)
	}
	return &p, nil
}

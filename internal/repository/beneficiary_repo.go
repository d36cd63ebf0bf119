// internal/repository/beneficiary_repo.go
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"verification-service/internal/domain"
	"verification-service/pkg/cache"
)

type BeneficiaryRepository struct {
	pool *pgxpool.Pool
}

func NewBeneficiaryRepository(pool *pgxpool.Pool) *BeneficiaryRepository {
	return &BeneficiaryRepository{pool: pool}
}

// FindByAccount returns the active registered beneficiary for a normalised
// account number, or nil when none is registered.
func (r *BeneficiaryRepository) FindByAccount(ctx context.Context, account string) (*domain.ApprovedBeneficiary, error) {
	query := `
		SELECT account_number, name, bank
		FROM approved_beneficiaries
		WHERE account_number = $1 AND active
	`
	var b domain.ApprovedBeneficiary
	err := r.pool.QueryRow(ctx, query, account).Scan(&b.AccountNumber, &b.Name, &b.Bank)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get beneficiary: %w", err)
	}
	return &b, nil
}

// ============================================================================
// CACHED LOOKUP
// ============================================================================

type beneficiaryFinder interface {
	FindByAccount(ctx context.Context, account string) (*domain.ApprovedBeneficiary, error)
}

// CachedBeneficiaryLookup caches registry answers, including misses.
type CachedBeneficiaryLookup struct {
	next   beneficiaryFinder
	store  cache.Store
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedBeneficiaryLookup(next beneficiaryFinder, store cache.Store, ttl time.Duration, logger *zap.Logger) *CachedBeneficiaryLookup {
	return &CachedBeneficiaryLookup{next: next, store: store, ttl: ttl, logger: logger}
}

type cachedBeneficiary struct {
	Found bool                        `json:"found"`
	Value *domain.ApprovedBeneficiary `json:"value,omitempty"`
}

func (c *CachedBeneficiaryLookup) FindByAccount(ctx context.Context, account string) (*domain.ApprovedBeneficiary, error) {
	key := "beneficiary:" + account

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("beneficiary cache read failed", zap.String("account", account), zap.Error(err))
	}
	if ok {
		var hit cachedBeneficiary
		if err := json.Unmarshal(raw, &hit); err == nil {
			return hit.Value, nil
		}
	}

	b, err := c.next.FindByAccount(ctx, account)
	if err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(cachedBeneficiary{Found: b != nil, Value: b})
	if err := c.store.Set(ctx, key, payload, c.ttl); err != nil {
		c.logger.Warn("beneficiary cache write failed", zap.String("account", account), zap.Error(err))
	}
	return b, nil
}

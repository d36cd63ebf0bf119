// internal/repository/payment_repo.go
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"verification-service/internal/domain"
	"verification-service/pkg/xerrors"
)

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

const paymentColumns = `
	id, user_id, method, plan_id,
	amount::text, currency,
	beneficiary_name, beneficiary_account, deposit_address, pay_code,
	status, review_status,
	receipt_path, tx_id, webhook_data,
	created_at, updated_at, approved_at`

// ============================================================================
// LOOKUPS
// ============================================================================

// GetByID retrieves a payment intent by ID
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	p, err := scanPayment(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

// FindByPayCode returns the newest intent carrying payCode, in any status.
func (r *PaymentRepository) FindByPayCode(ctx context.Context, payCode string) (*domain.PaymentIntent, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE upper(pay_code) = $1
		ORDER BY created_at DESC
		LIMIT 1`

	p, err := scanPayment(r.pool.QueryRow(ctx, query, strings.ToUpper(payCode)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment by pay code: %w", err)
	}
	return p, nil
}

// LatestPendingBank returns the user's most recent pending bank intent.
func (r *PaymentRepository) LatestPendingBank(ctx context.Context, userID string) (*domain.PaymentIntent, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE user_id = $1 AND method = $2 AND status = $3
		ORDER BY created_at DESC
		LIMIT 1`

	p, err := scanPayment(r.pool.QueryRow(ctx, query, userID, domain.MethodBank, domain.PaymentStatusPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending bank payment: %w", err)
	}
	return p, nil
}

// ListRecentForSweep returns open intents created since the given time.
func (r *PaymentRepository) ListRecentForSweep(ctx context.Context, since time.Time, limit int) ([]*domain.PaymentIntent, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE status IN ($1, $2)
		  AND method IN ($3, $4, $5)
		  AND created_at >= $6
		ORDER BY created_at ASC
		LIMIT $7`

	rows, err := r.pool.Query(ctx, query,
		domain.PaymentStatusPending, domain.PaymentStatusManualReview,
		domain.MethodBank, domain.MethodCrypto, domain.MethodBinancePay,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments for sweep: %w", err)
	}
	defer rows.Close()

	var out []*domain.PaymentIntent
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ============================================================================
// STATUS TRANSITIONS
// ============================================================================

// ApproveConditional moves an open intent to approved. It reports false when
// the row was not open, so a repeated call is a no-op.
func (r *PaymentRepository) ApproveConditional(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE payments
		SET status = $2, approved_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
	`
	tag, err := r.pool.Exec(ctx, query, id,
		domain.PaymentStatusApproved,
		domain.PaymentStatusPending, domain.PaymentStatusManualReview)
	if err != nil {
		return false, fmt.Errorf("failed to approve payment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkManualReview moves a pending intent to manual_review.
func (r *PaymentRepository) MarkManualReview(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE payments
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`
	tag, err := r.pool.Exec(ctx, query, id, domain.PaymentStatusManualReview, domain.PaymentStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment for review: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetReviewStatus writes the sweep marker. Status is left untouched.
func (r *PaymentRepository) SetReviewStatus(ctx context.Context, id, reviewStatus string) error {
	query := `
		UPDATE payments
		SET review_status = $2, updated_at = NOW()
		WHERE id = $1 AND review_status IS DISTINCT FROM $2
	`
	if _, err := r.pool.Exec(ctx, query, id, reviewStatus); err != nil {
		return fmt.Errorf("failed to set review status: %w", err)
	}
	return nil
}

// MergeEvidence folds the non-empty parts of ev into webhook_data and, when
// given, records the transaction id the evidence was collected for.
func (r *PaymentRepository) MergeEvidence(ctx context.Context, id string, ev domain.Evidence, txID *string) error {
	patch, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode evidence: %w", err)
	}

	query := `
		UPDATE payments
		SET webhook_data = COALESCE(webhook_data, '{}'::jsonb) || $2::jsonb,
		    tx_id = COALESCE($3, tx_id),
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, patch, txID)
	if xerrors.IsUniqueViolation(err) {
		return xerrors.ErrTxAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("failed to merge evidence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// TxIDClaimed reports whether another open or approved payment of the same
// method already carries txID.
func (r *PaymentRepository) TxIDClaimed(ctx context.Context, method domain.PaymentMethod, txID, exceptID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM payments
			WHERE method = $1 AND tx_id = $2 AND id <> $3
			  AND status IN ($4, $5, $6)
		)
	`
	var claimed bool
	err := r.pool.QueryRow(ctx, query, method, txID, exceptID,
		domain.PaymentStatusPending, domain.PaymentStatusManualReview, domain.PaymentStatusApproved,
	).Scan(&claimed)
	if err != nil {
		return false, fmt.Errorf("failed to check transaction id: %w", err)
	}
	return claimed, nil
}

// ============================================================================
// SCANNING
// ============================================================================

func scanPayment(row pgx.Row) (*domain.PaymentIntent, error) {
	var (
		p        domain.PaymentIntent
		amount   string
		evidence []byte
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.Method, &p.PlanID,
		&amount, &p.Currency,
		&p.BeneficiaryName, &p.BeneficiaryAccount, &p.DepositAddress, &p.PayCode,
		&p.Status, &p.ReviewStatus,
		&p.ReceiptPath, &p.TxID, &evidence,
		&p.CreatedAt, &p.UpdatedAt, &p.ApprovedAt,
	)
	if err != nil {
		return nil, err
	}

	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &p.WebhookData); err != nil {
			return nil, fmt.Errorf("invalid webhook_data: %w", err)
		}
	}
	return &p, nil
}

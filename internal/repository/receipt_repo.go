// internal/repository/receipt_repo.go
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"verification-service/internal/domain"
	"verification-service/pkg/xerrors"
)

type ReceiptRepository struct {
	pool *pgxpool.Pool
}

func NewReceiptRepository(pool *pgxpool.Pool) *ReceiptRepository {
	return &ReceiptRepository{pool: pool}
}

// Insert stores rec once per content hash. When a receipt for the same hash
// already exists it is returned instead and created is false.
func (r *ReceiptRepository) Insert(ctx context.Context, rec *domain.Receipt) (stored *domain.Receipt, created bool, err error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	parsed, err := json.Marshal(rec.Slip)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode parsed slip: %w", err)
	}
	var checks []byte
	if rec.Checks != nil {
		if checks, err = json.Marshal(rec.Checks); err != nil {
			return nil, false, fmt.Errorf("failed to encode checks: %w", err)
		}
	}
	var amount *string
	if rec.Slip.Amount != nil {
		s := rec.Slip.Amount.String()
		amount = &s
	}

	query := `
		INSERT INTO receipts (
			id, payment_id, user_id, file_path, content_hash,
			bank, amount, currency, slip_status, success_keyword,
			reference, sender_name, receiver_name, receiver_account, pay_code,
			transaction_at, value_date_at, raw_text, parsed,
			confidence, checks, verdict, reason, notified
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7::numeric, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $19,
			$20, $21, $22, $23, FALSE
		)
		ON CONFLICT (content_hash) DO NOTHING
		RETURNING created_at
	`

	s := rec.Slip
	err = r.pool.QueryRow(ctx, query,
		rec.ID, rec.PaymentID, rec.UserID, rec.FilePath, rec.ContentHash,
		s.Bank, amount, s.Currency, s.Status, s.SuccessKeyword,
		s.Reference, s.SenderName, s.ReceiverName, s.ReceiverAccount, s.PayCode,
		s.TransactionAt, s.ValueDateAt, s.RawText, parsed,
		rec.Confidence, checks, rec.Verdict, rec.Reason,
	).Scan(&rec.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := r.GetByContentHash(ctx, rec.ContentHash)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert receipt: %w", err)
	}
	return rec, true, nil
}

// GetByContentHash retrieves the receipt recorded for an image hash
func (r *ReceiptRepository) GetByContentHash(ctx context.Context, hash string) (*domain.Receipt, error) {
	query := `
		SELECT id, payment_id, user_id, file_path, content_hash,
		       parsed, confidence, checks, verdict, reason, notified, created_at
		FROM receipts
		WHERE content_hash = $1
	`

	var (
		rec    domain.Receipt
		parsed []byte
		checks []byte
	)
	err := r.pool.QueryRow(ctx, query, hash).Scan(
		&rec.ID, &rec.PaymentID, &rec.UserID, &rec.FilePath, &rec.ContentHash,
		&parsed, &rec.Confidence, &checks, &rec.Verdict, &rec.Reason, &rec.Notified, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}

	if err := json.Unmarshal(parsed, &rec.Slip); err != nil {
		return nil, fmt.Errorf("invalid parsed slip: %w", err)
	}
	if len(checks) > 0 {
		rec.Checks = &domain.ReceiptChecks{}
		if err := json.Unmarshal(checks, rec.Checks); err != nil {
			return nil, fmt.Errorf("invalid checks: %w", err)
		}
	}
	return &rec, nil
}

// MarkNotified flips the notified flag; it reports false if it was already set.
func (r *ReceiptRepository) MarkNotified(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE receipts SET notified = TRUE WHERE id = $1 AND notified = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark receipt notified: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// internal/usecase/interfaces.go
package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"verification-service/internal/domain"
)

type PaymentStore interface {
	GetByID(ctx context.Context, id string) (*domain.PaymentIntent, error)
	FindByPayCode(ctx context.Context, payCode string) (*domain.PaymentIntent, error)
	LatestPendingBank(ctx context.Context, userID string) (*domain.PaymentIntent, error)
	ListRecentForSweep(ctx context.Context, since time.Time, limit int) ([]*domain.PaymentIntent, error)

	ApproveConditional(ctx context.Context, id string) (bool, error)
	MarkManualReview(ctx context.Context, id string) (bool, error)
	SetReviewStatus(ctx context.Context, id, reviewStatus string) error
	MergeEvidence(ctx context.Context, id string, ev domain.Evidence, txID *string) error
	TxIDClaimed(ctx context.Context, method domain.PaymentMethod, txID, exceptID string) (bool, error)
}

type ReceiptStore interface {
	Insert(ctx context.Context, rec *domain.Receipt) (*domain.Receipt, bool, error)
	MarkNotified(ctx context.Context, id string) (bool, error)
}

type PlanStore interface {
	GetByID(ctx context.Context, id string) (*domain.Plan, error)
}

type AuditStore interface {
	Insert(ctx context.Context, entry *domain.AuditLog) error
}

type TextExtractor interface {
	ExtractText(ctx context.Context, imageRef string) (*domain.OCRResult, error)
}

type TransferVerifier interface {
	VerifyTransfer(ctx context.Context, txID, expectedRecipient string, expectedAmount decimal.Decimal) *domain.VerificationResult
}

type DepositVerifier interface {
	VerifyDeposit(ctx context.Context, txID string) *domain.DepositCheck
}

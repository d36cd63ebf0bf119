// internal/domain/payment.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string
type PaymentStatus string

const (
	MethodBank       PaymentMethod = "bank"
	MethodCrypto     PaymentMethod = "crypto"
	MethodBinancePay PaymentMethod = "binance_pay"
)

const (
	PaymentStatusPending      PaymentStatus = "pending"
	PaymentStatusManualReview PaymentStatus = "manual_review"
	PaymentStatusApproved     PaymentStatus = "approved"
	PaymentStatusRejected     PaymentStatus = "rejected"
)

// Review markers written by the auto-review sweep. Held markers are
// "held_" + reason.
const (
	ReviewQueuedOCR  = "queued_ocr"
	ReviewHeldPrefix = "held_"
)

// PaymentIntent is an expected payment, created before any proof arrives.
// Only status and review fields are ever mutated.
type PaymentIntent struct {
	ID     string
	UserID string
	Method PaymentMethod
	PlanID *string

	// Expected values
	Amount             decimal.Decimal
	Currency           string
	BeneficiaryName    *string
	BeneficiaryAccount *string
	DepositAddress     *string
	PayCode            *string

	Status       PaymentStatus
	ReviewStatus *string

	// Proof references
	ReceiptPath *string
	TxID        *string
	WebhookData Evidence

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ApprovedAt *time.Time
}

// IsOpen reports whether the intent can still be approved.
func (p *PaymentIntent) IsOpen() bool {
	return p.Status == PaymentStatusPending || p.Status == PaymentStatusManualReview
}

// Evidence is the JSON stored in payments.webhook_data.
type Evidence struct {
	OCR     *OCREvidence        `json:"ocr,omitempty"`
	Crypto  *VerificationResult `json:"crypto,omitempty"`
	Binance *DepositCheck       `json:"binance,omitempty"`
}

// HasPassing reports whether any stored evidence carries a passing verdict.
func (e Evidence) HasPassing() bool {
	if e.OCR != nil && e.OCR.Verdict == VerdictApproved {
		return true
	}
	if e.Crypto != nil && e.Crypto.OK {
		return true
	}
	if e.Binance != nil && e.Binance.Credited {
		return true
	}
	return false
}

// OCREvidence summarises one OCR pass over the payment's receipt image.
type OCREvidence struct {
	ReceiptID  string           `json:"receipt_id,omitempty"`
	Confidence float64          `json:"confidence"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Currency   *string          `json:"currency,omitempty"`
	Date       *time.Time       `json:"date,omitempty"`
	Verdict    Verdict          `json:"verdict,omitempty"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// Plan is the subscription plan an intent was created for.
type Plan struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Currency string
}

// ApprovedBeneficiary is a registered receiving account.
type ApprovedBeneficiary struct {
	AccountNumber string
	Name          string
	Bank          BankFormat
}

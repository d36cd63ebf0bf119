// internal/domain/receipt.go
package domain

import "time"

type Verdict string

const (
	VerdictApproved     Verdict = "approved"
	VerdictManualReview Verdict = "manual_review"
)

const (
	ReasonNoIntentFound   = "no_intent_found"
	ReasonAutoRulesFailed = "auto_rules_failed"
)

// ReceiptChecks records which decision rules passed.
type ReceiptChecks struct {
	AmountOK      bool `json:"amount_ok"`
	TimeOK        bool `json:"time_ok"`
	StatusOK      bool `json:"status_ok"`
	BeneficiaryOK bool `json:"beneficiary_ok"`
	PayCodeOK     bool `json:"pay_code_ok"`
}

// Receipt is the append-only audit record of one verification attempt.
// Only Notified changes after insert.
type Receipt struct {
	ID          string
	PaymentID   *string
	UserID      string
	FilePath    string
	ContentHash string

	Slip       ParsedSlip
	Confidence float64
	Checks     *ReceiptChecks

	Verdict  Verdict
	Reason   *string
	Notified bool

	CreatedAt time.Time
}

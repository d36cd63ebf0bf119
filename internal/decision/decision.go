// internal/decision/decision.go
package decision

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"verification-service/internal/domain"
)

// Held reasons written by the sweep as "held_<reason>".
const (
	HeldLowConfidence         = "low_confidence"
	HeldAmountMismatch        = "amount_mismatch"
	HeldCurrencyMismatch      = "currency_mismatch"
	HeldTimeMismatch          = "time_mismatch"
	HeldAwaitingConfirmations = "awaiting_confirmations"
	HeldVerificationFailed    = "verification_failed"
	HeldNoEvidence            = "no_evidence"
)

// minAccountSuffix is the shortest account fragment accepted as a suffix match.
const minAccountSuffix = 4

// ============================================================================
// Primitive rules
// ============================================================================

// AmountWithinTolerance reports |observed-expected| <= tol*expected.
// The bound is inclusive. A non-positive expected amount only matches exactly.
func AmountWithinTolerance(observed, expected, tol decimal.Decimal) bool {
	if !expected.IsPositive() {
		return observed.Equal(expected)
	}
	return observed.Sub(expected).Abs().LessThanOrEqual(expected.Mul(tol))
}

// WithinWindow reports whether t lies within ±window of ref, inclusive.
func WithinWindow(t, ref time.Time, window time.Duration) bool {
	d := t.Sub(ref)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// NormaliseAccount strips whitespace and dashes from an account number.
func NormaliseAccount(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return r
	}, s)
}

// AccountSuffixMatch reports whether one normalised account is an exact
// suffix of the other. Slips often print only the trailing digits.
func AccountSuffixMatch(a, b string) bool {
	a, b = NormaliseAccount(a), NormaliseAccount(b)
	if len(a) < minAccountSuffix || len(b) < minAccountSuffix {
		return false
	}
	return strings.HasSuffix(a, b) || strings.HasSuffix(b, a)
}

// ============================================================================
// Beneficiary
// ============================================================================

// BeneficiaryLookup resolves a registered receiving account.
// It returns (nil, nil) when the account is not registered.
type BeneficiaryLookup interface {
	FindByAccount(ctx context.Context, account string) (*domain.ApprovedBeneficiary, error)
}

// BeneficiaryMatch checks the slip's recipient against the intent's expected
// beneficiary, consulting the approved-beneficiary registry when neither the
// account suffix nor the name matches directly.
func BeneficiaryMatch(ctx context.Context, intent *domain.PaymentIntent, slip *domain.ParsedSlip, lookup BeneficiaryLookup) (bool, error) {
	if intent.BeneficiaryAccount != nil && slip.ReceiverAccount != nil &&
		AccountSuffixMatch(*slip.ReceiverAccount, *intent.BeneficiaryAccount) {
		return true, nil
	}
	if intent.BeneficiaryName != nil && slip.ReceiverName != nil &&
		namesEqual(*intent.BeneficiaryName, *slip.ReceiverName) {
		return true, nil
	}

	if lookup == nil || slip.ReceiverAccount == nil {
		return false, nil
	}
	registered, err := lookup.FindByAccount(ctx, NormaliseAccount(*slip.ReceiverAccount))
	if err != nil {
		return false, fmt.Errorf("beneficiary lookup: %w", err)
	}
	if registered == nil {
		return false, nil
	}
	if intent.BeneficiaryName != nil && namesEqual(registered.Name, *intent.BeneficiaryName) {
		return true, nil
	}
	if slip.ReceiverName != nil && namesEqual(registered.Name, *slip.ReceiverName) {
		return true, nil
	}
	return false, nil
}

func namesEqual(a, b string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " "))
}

// ============================================================================
// Receipt verdict (worker path)
// ============================================================================

type SlipPolicy struct {
	AmountTolerance decimal.Decimal
	TimeWindow      time.Duration
}

type SlipDecision struct {
	Checks  domain.ReceiptChecks
	Verdict domain.Verdict
	Reason  *string
}

// EvaluateSlip applies the auto-approval rules to a parsed slip. Approval
// requires every check to pass; anything else is manual review.
func EvaluateSlip(intent *domain.PaymentIntent, slip *domain.ParsedSlip, beneficiaryOK bool, p SlipPolicy) SlipDecision {
	checks := domain.ReceiptChecks{
		AmountOK:      slip.Amount != nil && AmountWithinTolerance(*slip.Amount, intent.Amount, p.AmountTolerance),
		TimeOK:        slipTimeOK(slip, intent.CreatedAt, p.TimeWindow),
		StatusOK:      (slip.Status != nil && *slip.Status == domain.SlipSuccess) || slip.SuccessKeyword,
		BeneficiaryOK: beneficiaryOK,
		PayCodeOK:     payCodeOK(intent.PayCode, slip.PayCode),
	}

	if checks.AmountOK && checks.TimeOK && checks.StatusOK && checks.BeneficiaryOK && checks.PayCodeOK {
		return SlipDecision{Checks: checks, Verdict: domain.VerdictApproved}
	}
	reason := domain.ReasonAutoRulesFailed
	return SlipDecision{Checks: checks, Verdict: domain.VerdictManualReview, Reason: &reason}
}

func slipTimeOK(slip *domain.ParsedSlip, ref time.Time, window time.Duration) bool {
	if slip.TransactionAt != nil && WithinWindow(*slip.TransactionAt, ref, window) {
		return true
	}
	return slip.ValueDateAt != nil && WithinWindow(*slip.ValueDateAt, ref, window)
}

func payCodeOK(expected, parsed *string) bool {
	if expected == nil || *expected == "" {
		return true
	}
	return parsed != nil && strings.EqualFold(*expected, *parsed)
}

// ============================================================================
// Stored evidence (sweep path)
// ============================================================================

type EvidencePolicy struct {
	MinConfidence    float64
	AmountTolerance  decimal.Decimal
	TimeWindow       time.Duration
	MinConfirmations int64
}

// Expected is what the payment should show: plan price when linked, else the
// intent's own amount and currency.
type Expected struct {
	Amount   decimal.Decimal
	Currency string
	At       time.Time
}

// Outcome is a sweep verdict. Reason is empty when Pass is true.
type Outcome struct {
	Pass   bool
	Reason string
}

func held(reason string) Outcome { return Outcome{Reason: reason} }

// EvaluateOCR checks stored OCR evidence. The currency check is skipped when
// either side is missing, and the time check when the evidence has no date.
func EvaluateOCR(ev *domain.OCREvidence, exp Expected, p EvidencePolicy) Outcome {
	if ev == nil {
		return held(HeldNoEvidence)
	}
	if ev.Confidence < p.MinConfidence {
		return held(HeldLowConfidence)
	}
	if ev.Amount == nil || !AmountWithinTolerance(*ev.Amount, exp.Amount, p.AmountTolerance) {
		return held(HeldAmountMismatch)
	}
	if ev.Currency != nil && *ev.Currency != "" && exp.Currency != "" &&
		!strings.EqualFold(*ev.Currency, exp.Currency) {
		return held(HeldCurrencyMismatch)
	}
	if ev.Date != nil && !WithinWindow(*ev.Date, exp.At, p.TimeWindow) {
		return held(HeldTimeMismatch)
	}
	return Outcome{Pass: true}
}

// EvaluateTransfer gates an on-chain verification on the confirmation policy.
func EvaluateTransfer(res *domain.VerificationResult, p EvidencePolicy) Outcome {
	switch {
	case res == nil:
		return held(HeldNoEvidence)
	case !res.OK:
		return held(HeldVerificationFailed)
	case res.Confirmations < p.MinConfirmations:
		return held(HeldAwaitingConfirmations)
	}
	return Outcome{Pass: true}
}

// EvaluateDeposit passes credited exchange deposits of at least the expected
// amount. The coin is compared with the expected currency when both are known.
func EvaluateDeposit(c *domain.DepositCheck, exp Expected) Outcome {
	switch {
	case c == nil:
		return held(HeldNoEvidence)
	case !c.Credited:
		return held(HeldVerificationFailed)
	case c.Amount == nil || c.Amount.LessThan(exp.Amount):
		return held(HeldAmountMismatch)
	case c.Coin != "" && exp.Currency != "" && !strings.EqualFold(c.Coin, exp.Currency):
		return held(HeldCurrencyMismatch)
	}
	return Outcome{Pass: true}
}

// internal/domain/verification.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Verifier failure reasons.
const (
	ReasonFetchError         = "fetch_error"
	ReasonNotSuccess         = "not_success"
	ReasonNoTokenTransfer    = "no_token_transfer"
	ReasonWrongRecipient     = "wrong_recipient"
	ReasonInsufficientAmount = "insufficient_amount"
	ReasonBadAmount          = "bad_amount"
	ReasonMissingAPIKeys     = "missing_api_keys"
	ReasonDepositNotFound    = "not_found"
	ReasonBadResponse        = "bad_response"
)

// VerificationResult is the outcome of checking one on-chain transfer.
// Confirmations are always reported; the caller decides whether they suffice.
type VerificationResult struct {
	OK            bool             `json:"ok"`
	TxID          string           `json:"tx_id"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Confirmations int64            `json:"confirmations"`
	BlockNumber   int64            `json:"block_number,omitempty"`
	Counterparty  string           `json:"counterparty,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	CheckedAt     time.Time        `json:"checked_at"`
}

// DepositCheck is the outcome of looking a deposit up on the exchange.
type DepositCheck struct {
	Credited  bool             `json:"credited"`
	TxID      string           `json:"tx_id"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Coin      string           `json:"coin,omitempty"`
	Network   string           `json:"network,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	CheckedAt time.Time        `json:"checked_at"`
}

// internal/chains/tron/verifier.go
package tron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"verification-service/internal/domain"
)

var verificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tron_transfer_verifications_total",
		Help: "TRC20 transfer verifications by outcome",
	},
	[]string{"result"},
)

// Verifier checks a USDT (TRC20) transfer against an expected recipient and amount.
type Verifier struct {
	client   *TronHTTPClient
	contract string
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewVerifier(client *TronHTTPClient, contract string, timeout time.Duration, logger *zap.Logger) *Verifier {
	return &Verifier{
		client:   client,
		contract: contract,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// VerifyTransfer never returns an error: every failure, including network
// failure, is reported as a reason on the result. Confirmations are reported
// whenever the transfer itself is valid; the minimum is the caller's policy.
func (v *Verifier) VerifyTransfer(ctx context.Context, txID, expectedRecipient string, expectedAmount decimal.Decimal) *domain.VerificationResult {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	res := v.verify(ctx, strings.TrimSpace(txID), expectedRecipient, expectedAmount)
	res.CheckedAt = v.now().UTC()

	outcome := "ok"
	if !res.OK {
		outcome = res.Reason
	}
	verificationsTotal.WithLabelValues(outcome).Inc()

	v.logger.Info("TRC20 transfer verified",
		zap.String("tx_id", res.TxID),
		zap.Bool("ok", res.OK),
		zap.String("reason", res.Reason),
		zap.Int64("confirmations", res.Confirmations))

	return res
}

func (v *Verifier) verify(ctx context.Context, txID, expectedRecipient string, expectedAmount decimal.Decimal) *domain.VerificationResult {
	res := &domain.VerificationResult{TxID: txID}

	tx, err := v.client.GetTransactionByID(ctx, txID)
	if err != nil {
		res.Reason = v.failureReason("gettransactionbyid", txID, err)
		return res
	}
	if !strings.EqualFold(tx.ContractResult(), "SUCCESS") {
		res.Reason = domain.ReasonNotSuccess
		return res
	}

	events, err := v.client.GetTransactionEvents(ctx, txID)
	if err != nil {
		res.Reason = v.failureReason("events", txID, err)
		return res
	}
	transfer := v.findTransfer(events.Data)
	if transfer == nil {
		res.Reason = domain.ReasonNoTokenTransfer
		return res
	}
	res.BlockNumber = transfer.BlockNumber
	res.Counterparty = transfer.Result["to"]
	if to, err := NormalizeAddress(res.Counterparty); err == nil {
		res.Counterparty = to
	}

	raw, err := decimal.NewFromString(transfer.Result["value"])
	if err != nil {
		res.Reason = domain.ReasonBadAmount
		return res
	}
	amount := raw.Shift(-USDTDecimals)
	res.Amount = &amount

	if !SameAddress(res.Counterparty, expectedRecipient) {
		res.Reason = domain.ReasonWrongRecipient
		return res
	}
	if amount.LessThan(expectedAmount) {
		res.Reason = domain.ReasonInsufficientAmount
		return res
	}

	if res.BlockNumber == 0 {
		info, err := v.client.GetTransactionInfo(ctx, txID)
		if err != nil {
			res.Reason = v.failureReason("gettransactioninfobyid", txID, err)
			return res
		}
		res.BlockNumber = info.BlockNumber
	}

	latest, err := v.client.GetNowBlockNumber(ctx)
	if err != nil {
		res.Reason = v.failureReason("getnowblock", txID, err)
		return res
	}
	if res.BlockNumber > 0 && latest > res.BlockNumber {
		res.Confirmations = latest - res.BlockNumber
	}

	res.OK = true
	return res
}

func (v *Verifier) findTransfer(events []Event) *Event {
	for i := range events {
		e := &events[i]
		if e.EventName != "Transfer" {
			continue
		}
		if SameAddress(e.ContractAddress, v.contract) {
			return e
		}
	}
	return nil
}

func (v *Verifier) failureReason(call, txID string, err error) string {
	v.logger.Warn("TronGrid call failed",
		zap.String("call", call),
		zap.String("tx_id", txID),
		zap.Error(err))

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("http_%d", statusErr.StatusCode)
	}
	return domain.ReasonFetchError
}

// internal/exchange/binance/verifier.go
package binance

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

var depositChecksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "binance_deposit_checks_total",
		Help: "Binance deposit lookups by outcome",
	},
	[]string{"result"},
)

// Verifier looks up a deposit on the exchange by transaction id.
type Verifier struct {
	client  *Client
	timeout time.Duration
	logger  *zap.Logger
}

func NewVerifier(client *Client, timeout time.Duration, logger *zap.Logger) *Verifier {
	return &Verifier{
		client:  client,
		timeout: timeout,
		logger:  logger,
	}
}

// VerifyDeposit never returns an error. Missing credentials, a missing
// record and a non-credited status are reported as distinct reasons.
func (v *Verifier) VerifyDeposit(ctx context.Context, txID string) *domain.DepositCheck {
	txID = strings.TrimSpace(txID)
	res := v.verify(ctx, txID)
	res.TxID = txID
	res.CheckedAt = time.Now().UTC()

	outcome := "credited"
	if !res.Credited {
		outcome = res.Reason
		if strings.HasPrefix(outcome, "not_credited_status_") {
			outcome = "not_credited"
		}
	}
	depositChecksTotal.WithLabelValues(outcome).Inc()

	v.logger.Info("binance deposit checked",
		zap.String("tx_id", txID),
		zap.Bool("credited", res.Credited),
		zap.String("reason", res.Reason))

	return res
}

func (v *Verifier) verify(ctx context.Context, txID string) *domain.DepositCheck {
	if !v.client.HasCredentials() {
		return &domain.DepositCheck{Reason: domain.ReasonMissingAPIKeys}
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	records, err := v.client.DepositHistory(ctx, txID)
	if err != nil {
		v.logger.Warn("deposit history lookup failed",
			zap.String("tx_id", txID),
			zap.Error(err))

		var statusErr *StatusError
		switch {
		case errors.As(err, &statusErr):
			return &domain.DepositCheck{Reason: fmt.Sprintf("http_%d", statusErr.StatusCode)}
		case errors.Is(err, ErrBadResponse):
			return &domain.DepositCheck{Reason: domain.ReasonBadResponse}
		default:
			return &domain.DepositCheck{Reason: domain.ReasonFetchError}
		}
	}

	for i := range records {
		r := &records[i]
		if r.TxID != txID {
			continue
		}

		check := &domain.DepositCheck{Coin: r.Coin, Network: r.Network}
		if amt, err := decimal.NewFromString(r.Amount); err == nil {
			check.Amount = &amt
		}
		status := r.StatusText()
		if status == "1" || strings.EqualFold(status, "success") {
			check.Credited = true
			return check
		}
		check.Reason = "not_credited_status_" + status
		return check
	}

	return &domain.DepositCheck{Reason: domain.ReasonDepositNotFound}
}

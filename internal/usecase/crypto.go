// internal/usecase/crypto.go
package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"verification-service/internal/decision"
	"verification-service/internal/domain"
	"verification-service/pkg/xerrors"
)

var (
	tronActor    = domain.Actor{ID: "system:tron-verifier", Role: domain.RoleSystem}
	binanceActor = domain.Actor{ID: "system:binance-verifier", Role: domain.RoleSystem}
)

// TransferVerification is the outcome of checking a crypto payment.
type TransferVerification struct {
	PaymentID string                     `json:"payment_id"`
	Result    *domain.VerificationResult `json:"result"`
	Pass      bool                       `json:"pass"`
	Held      string                     `json:"held_reason,omitempty"`
	Approval  *ApprovalResult            `json:"approval,omitempty"`
}

// DepositVerification is the outcome of checking an exchange deposit.
type DepositVerification struct {
	PaymentID string               `json:"payment_id"`
	Result    *domain.DepositCheck `json:"result"`
	Pass      bool                 `json:"pass"`
	Held      string               `json:"held_reason,omitempty"`
	Approval  *ApprovalResult      `json:"approval,omitempty"`
}

// CryptoUsecase runs the on-chain and exchange verifiers for a payment,
// stores the evidence on it and approves when the evidence passes.
type CryptoUsecase struct {
	payments PaymentStore
	tron     TransferVerifier
	binance  DepositVerifier
	approver *Approver
	policy   decision.EvidencePolicy
	logger   *zap.Logger
}

func NewCryptoUsecase(
	payments PaymentStore,
	tron TransferVerifier,
	binance DepositVerifier,
	approver *Approver,
	policy decision.EvidencePolicy,
	logger *zap.Logger,
) *CryptoUsecase {
	return &CryptoUsecase{
		payments: payments,
		tron:     tron,
		binance:  binance,
		approver: approver,
		policy:   policy,
		logger:   logger,
	}
}

func (uc *CryptoUsecase) VerifyTron(ctx context.Context, paymentID, txID string) (*TransferVerification, error) {
	payment, err := uc.openPayment(ctx, paymentID, txID, domain.MethodCrypto)
	if err != nil {
		return nil, err
	}
	if payment.DepositAddress == nil || *payment.DepositAddress == "" {
		return nil, fmt.Errorf("%w: payment has no deposit address", xerrors.ErrInvalidRequest)
	}

	res := uc.tron.VerifyTransfer(ctx, txID, *payment.DepositAddress, payment.Amount)
	if err := uc.payments.MergeEvidence(ctx, paymentID, domain.Evidence{Crypto: res}, &txID); err != nil {
		return nil, err
	}

	out := &TransferVerification{PaymentID: paymentID, Result: res}
	verdict := decision.EvaluateTransfer(res, uc.policy)
	out.Pass, out.Held = verdict.Pass, verdict.Reason

	uc.logger.Info("tron transfer checked",
		zap.String("payment_id", paymentID),
		zap.String("tx_id", txID),
		zap.Bool("ok", res.OK),
		zap.String("reason", res.Reason),
		zap.Int64("confirmations", res.Confirmations))

	out.Approval, err = uc.settle(ctx, payment, verdict, tronActor)
	return out, err
}

func (uc *CryptoUsecase) VerifyBinance(ctx context.Context, paymentID, txID string) (*DepositVerification, error) {
	payment, err := uc.openPayment(ctx, paymentID, txID, domain.MethodBinancePay)
	if err != nil {
		return nil, err
	}

	res := uc.binance.VerifyDeposit(ctx, txID)
	if err := uc.payments.MergeEvidence(ctx, paymentID, domain.Evidence{Binance: res}, &txID); err != nil {
		return nil, err
	}

	out := &DepositVerification{PaymentID: paymentID, Result: res}
	verdict := decision.EvaluateDeposit(res, decision.Expected{Amount: payment.Amount, Currency: payment.Currency})
	out.Pass, out.Held = verdict.Pass, verdict.Reason

	uc.logger.Info("binance deposit checked",
		zap.String("payment_id", paymentID),
		zap.String("tx_id", txID),
		zap.Bool("credited", res.Credited),
		zap.String("reason", res.Reason))

	out.Approval, err = uc.settle(ctx, payment, verdict, binanceActor)
	return out, err
}

func (uc *CryptoUsecase) openPayment(ctx context.Context, paymentID, txID string, method domain.PaymentMethod) (*domain.PaymentIntent, error) {
	if paymentID == "" || txID == "" {
		return nil, fmt.Errorf("%w: payment_id and tx_id are required", xerrors.ErrInvalidRequest)
	}
	payment, err := uc.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Method != method {
		return nil, fmt.Errorf("%w: payment method is %s", xerrors.ErrInvalidRequest, payment.Method)
	}
	if payment.Status == domain.PaymentStatusApproved {
		return nil, xerrors.ErrAlreadyApproved
	}
	if !payment.IsOpen() {
		return nil, xerrors.ErrNotApprovable
	}

	claimed, err := uc.payments.TxIDClaimed(ctx, method, txID, payment.ID)
	if err != nil {
		return nil, err
	}
	if claimed {
		uc.logger.Warn("transaction already used by another payment",
			zap.String("payment_id", payment.ID),
			zap.String("tx_id", txID))
		return nil, xerrors.ErrTxAlreadyUsed
	}
	return payment, nil
}

func (uc *CryptoUsecase) settle(ctx context.Context, p *domain.PaymentIntent, verdict decision.Outcome, actor domain.Actor) (*ApprovalResult, error) {
	if !verdict.Pass {
		return nil, uc.payments.SetReviewStatus(ctx, p.ID, domain.ReviewHeldPrefix+verdict.Reason)
	}
	return uc.approver.Approve(ctx, p.ID, actor)
}

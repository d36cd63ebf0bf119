// internal/usecase/autoreview.go
package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"verification-service/internal/decision"
	"verification-service/internal/domain"
	"verification-service/internal/queue"
	"verification-service/pkg/xerrors"
)

var sweepOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auto_review_outcomes_total",
		Help: "Auto-review sweep outcomes by payment method",
	},
	[]string{"method", "outcome"},
)

type SweepConfig struct {
	Lookback  time.Duration
	BatchSize int
	Policy    decision.EvidencePolicy
}

// SweepResult summarises one auto-review pass.
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Approved  int `json:"approved"`
	Held      int `json:"held"`
	QueuedOCR int `json:"queued_ocr"`
	Failed    int `json:"failed"`
}

// AutoReviewUsecase re-applies the decision rules to evidence already stored
// on recent open payments.
type AutoReviewUsecase struct {
	payments PaymentStore
	plans    PlanStore
	queue    queue.Queue
	approver *Approver
	cfg      SweepConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewAutoReviewUsecase(
	payments PaymentStore,
	plans PlanStore,
	q queue.Queue,
	approver *Approver,
	cfg SweepConfig,
	logger *zap.Logger,
) *AutoReviewUsecase {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	return &AutoReviewUsecase{
		payments: payments,
		plans:    plans,
		queue:    q,
		approver: approver,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

type sweepOutcome string

const (
	outcomeApproved  sweepOutcome = "approved"
	outcomeHeld      sweepOutcome = "held"
	outcomeQueuedOCR sweepOutcome = "queued_ocr"
)

// Sweep reviews open payments created within the lookback window. A failure
// on one payment is logged and does not stop the pass.
func (uc *AutoReviewUsecase) Sweep(ctx context.Context) (*SweepResult, error) {
	since := uc.now().Add(-uc.cfg.Lookback)

	payments, err := uc.payments.ListRecentForSweep(ctx, since, uc.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments for review: %w", err)
	}

	result := &SweepResult{Scanned: len(payments)}
	for _, p := range payments {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		outcome, err := uc.review(ctx, p)
		if err != nil {
			result.Failed++
			sweepOutcomes.WithLabelValues(string(p.Method), "error").Inc()
			uc.logger.Error("auto-review failed",
				zap.String("payment_id", p.ID),
				zap.String("method", string(p.Method)),
				zap.Error(err))
			continue
		}

		sweepOutcomes.WithLabelValues(string(p.Method), string(outcome)).Inc()
		switch outcome {
		case outcomeApproved:
			result.Approved++
		case outcomeHeld:
			result.Held++
		case outcomeQueuedOCR:
			result.QueuedOCR++
		}
	}

	uc.logger.Info("auto-review sweep completed",
		zap.Int("scanned", result.Scanned),
		zap.Int("approved", result.Approved),
		zap.Int("held", result.Held),
		zap.Int("queued_ocr", result.QueuedOCR),
		zap.Int("failed", result.Failed))

	return result, nil
}

func (uc *AutoReviewUsecase) review(ctx context.Context, p *domain.PaymentIntent) (sweepOutcome, error) {
	ev := p.WebhookData

	var verdict decision.Outcome
	switch p.Method {
	case domain.MethodBank:
		if ev.OCR == nil {
			if p.ReceiptPath != nil && *p.ReceiptPath != "" {
				return uc.queueOCR(ctx, p)
			}
			verdict = decision.Outcome{Reason: decision.HeldNoEvidence}
			break
		}
		exp, err := uc.expected(ctx, p)
		if err != nil {
			return "", err
		}
		verdict = decision.EvaluateOCR(ev.OCR, exp, uc.cfg.Policy)
		if verdict.Pass && ev.OCR.Verdict != domain.VerdictApproved {
			// Record the passing re-evaluation before approving on it.
			ocr := *ev.OCR
			ocr.Verdict = domain.VerdictApproved
			ocr.RecordedAt = uc.now()
			if err := uc.payments.MergeEvidence(ctx, p.ID, domain.Evidence{OCR: &ocr}, nil); err != nil {
				return "", err
			}
		}

	case domain.MethodCrypto:
		verdict = decision.EvaluateTransfer(ev.Crypto, uc.cfg.Policy)

	case domain.MethodBinancePay:
		exp, err := uc.expected(ctx, p)
		if err != nil {
			return "", err
		}
		verdict = decision.EvaluateDeposit(ev.Binance, exp)

	default:
		return "", fmt.Errorf("%w: unsupported method %q", xerrors.ErrInvalidRequest, p.Method)
	}

	if !verdict.Pass {
		if err := uc.payments.SetReviewStatus(ctx, p.ID, domain.ReviewHeldPrefix+verdict.Reason); err != nil {
			return "", err
		}
		return outcomeHeld, nil
	}

	res, err := uc.approver.Approve(ctx, p.ID, domain.SystemActor)
	if err != nil {
		return "", err
	}
	if res.AlreadyApproved {
		uc.logger.Debug("payment already approved", zap.String("payment_id", p.ID))
	}
	return outcomeApproved, nil
}

// queueOCR hands a stored receipt image to the worker and defers evaluation.
func (uc *AutoReviewUsecase) queueOCR(ctx context.Context, p *domain.PaymentIntent) (sweepOutcome, error) {
	if p.ReviewStatus == nil || *p.ReviewStatus != domain.ReviewQueuedOCR {
		paymentID := p.ID
		job := domain.ReceiptJob{
			UserID:      p.UserID,
			PaymentID:   &paymentID,
			StoragePath: *p.ReceiptPath,
			ContentHash: pathHash(*p.ReceiptPath),
		}
		queued, err := uc.queue.Enqueue(ctx, job)
		if err != nil {
			return "", err
		}
		uc.logger.Info("receipt queued for OCR",
			zap.String("payment_id", p.ID),
			zap.Bool("queued", queued))
	}

	if err := uc.payments.SetReviewStatus(ctx, p.ID, domain.ReviewQueuedOCR); err != nil {
		return "", err
	}
	return outcomeQueuedOCR, nil
}

// expected prefers the linked plan's price and currency.
func (uc *AutoReviewUsecase) expected(ctx context.Context, p *domain.PaymentIntent) (decision.Expected, error) {
	exp := decision.Expected{Amount: p.Amount, Currency: p.Currency, At: p.CreatedAt}
	if p.PlanID == nil || *p.PlanID == "" {
		return exp, nil
	}

	plan, err := uc.plans.GetByID(ctx, *p.PlanID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return exp, nil
	}
	if err != nil {
		return exp, err
	}

	exp.Amount = plan.Price
	if plan.Currency != "" {
		exp.Currency = plan.Currency
	}
	return exp, nil
}

// pathHash stands in for the image hash when the sweep enqueues a receipt it
// only knows by storage path.
func pathHash(path string) string {
	sum := sha256.Sum256([]byte("path:" + path))
	return hex.EncodeToString(sum[:])
}

// internal/usecase/reconcile.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"verification-service/internal/decision"
	"verification-service/internal/domain"
	"verification-service/internal/queue"
	"verification-service/internal/slip"
	"verification-service/pkg/events"
	"verification-service/pkg/notify"
	"verification-service/pkg/xerrors"
)

const DefaultBatchSize = 10

// reconcileActor attributes approvals made by the receipt worker.
var reconcileActor = domain.Actor{ID: "system:reconcile-worker", Role: domain.RoleSystem}

var (
	receiptVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_verdicts_total",
			Help: "Receipts recorded by verdict and reason",
		},
		[]string{"verdict", "reason"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "receipt_job_duration_seconds",
			Help:    "Time spent processing one receipt job",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"outcome"},
	)
)

type ReconcileConfig struct {
	BatchSize int
	Policy    decision.SlipPolicy
}

// BatchResult summarises one worker invocation.
type BatchResult struct {
	Popped       int `json:"popped"`
	Acked        int `json:"acked"`
	Retried      int `json:"retried"`
	DeadLettered int `json:"dead_lettered"`
}

type ReconcileUsecase struct {
	queue         queue.Queue
	extractor     TextExtractor
	payments      PaymentStore
	receipts      ReceiptStore
	beneficiaries decision.BeneficiaryLookup
	approver      *Approver
	notifier      notify.Notifier
	publisher     events.Publisher
	cfg           ReconcileConfig
	logger        *zap.Logger
	now           func() time.Time
}

func NewReconcileUsecase(
	q queue.Queue,
	extractor TextExtractor,
	payments PaymentStore,
	receipts ReceiptStore,
	beneficiaries decision.BeneficiaryLookup,
	approver *Approver,
	notifier notify.Notifier,
	publisher events.Publisher,
	cfg ReconcileConfig,
	logger *zap.Logger,
) *ReconcileUsecase {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &ReconcileUsecase{
		queue:         q,
		extractor:     extractor,
		payments:      payments,
		receipts:      receipts,
		beneficiaries: beneficiaries,
		approver:      approver,
		notifier:      notifier,
		publisher:     publisher,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

// Enqueue registers an uploaded receipt. Duplicate content hashes are
// reported as not queued.
func (uc *ReconcileUsecase) Enqueue(ctx context.Context, job domain.ReceiptJob) (bool, error) {
	job.Attempt = 0
	return uc.queue.Enqueue(ctx, job)
}

// DeadLetters lists jobs that exhausted their retries.
func (uc *ReconcileUsecase) DeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	return uc.queue.DeadLetters(ctx, limit)
}

// RunBatch leases up to n jobs and processes them one by one. A job is acked
// only after its receipt is persisted; any failure before that sends it back
// through Retry.
func (uc *ReconcileUsecase) RunBatch(ctx context.Context, n int) (*BatchResult, error) {
	if n <= 0 {
		n = uc.cfg.BatchSize
	}

	jobs, err := uc.queue.Pop(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("failed to pop receipt jobs: %w", err)
	}

	result := &BatchResult{Popped: len(jobs)}
	for _, job := range jobs {
		if ctx.Err() != nil {
			// Unprocessed leases expire and are redelivered.
			break
		}

		start := time.Now()
		if err := uc.processJob(ctx, job); err != nil {
			uc.logger.Warn("receipt job failed",
				zap.String("msg_id", job.MsgID),
				zap.String("content_hash", job.Job.ContentHash),
				zap.Int("attempt", job.Job.Attempt),
				zap.Bool("transient", errors.Is(err, xerrors.ErrTransient)),
				zap.Error(err))

			dead, rerr := uc.queue.Retry(ctx, job, job.Job.Attempt+1, err)
			if rerr != nil {
				uc.logger.Error("failed to reschedule receipt job",
					zap.String("msg_id", job.MsgID),
					zap.Error(rerr))
				continue
			}
			if dead {
				result.DeadLettered++
				jobDuration.WithLabelValues("dead_lettered").Observe(time.Since(start).Seconds())
			} else {
				result.Retried++
				jobDuration.WithLabelValues("retried").Observe(time.Since(start).Seconds())
			}
			continue
		}

		if err := uc.queue.Ack(ctx, job); err != nil {
			uc.logger.Error("failed to ack receipt job",
				zap.String("msg_id", job.MsgID),
				zap.Error(err))
			continue
		}
		result.Acked++
		jobDuration.WithLabelValues("acked").Observe(time.Since(start).Seconds())
	}

	if result.Popped > 0 {
		uc.logger.Info("receipt batch processed",
			zap.String("backend", uc.queue.Backend()),
			zap.Int("popped", result.Popped),
			zap.Int("acked", result.Acked),
			zap.Int("retried", result.Retried),
			zap.Int("dead_lettered", result.DeadLettered))
	}
	return result, nil
}

func (uc *ReconcileUsecase) processJob(ctx context.Context, leased domain.LeasedJob) error {
	job := leased.Job

	ocr, err := uc.extractor.ExtractText(ctx, job.StoragePath)
	if err != nil {
		return err
	}
	parsed := slip.Parse(ocr.Text)

	intent, err := uc.locateIntent(ctx, job, parsed)
	if err != nil {
		return err
	}

	rec := &domain.Receipt{
		UserID:      job.UserID,
		FilePath:    job.StoragePath,
		ContentHash: job.ContentHash,
		Slip:        *parsed,
		Confidence:  ocr.Confidence,
	}

	if intent == nil {
		reason := domain.ReasonNoIntentFound
		rec.Verdict = domain.VerdictManualReview
		rec.Reason = &reason

		stored, created, err := uc.receipts.Insert(ctx, rec)
		if err != nil {
			return err
		}
		uc.recorded(ctx, stored, created)
		return uc.notifyOnce(ctx, stored, msgNoIntent)
	}

	beneficiaryOK, err := decision.BeneficiaryMatch(ctx, intent, parsed, uc.beneficiaries)
	if err != nil {
		return err
	}
	d := decision.EvaluateSlip(intent, parsed, beneficiaryOK, uc.cfg.Policy)

	rec.PaymentID = &intent.ID
	rec.Checks = &d.Checks
	rec.Verdict = d.Verdict
	rec.Reason = d.Reason

	// On redelivery the stored receipt is authoritative.
	stored, created, err := uc.receipts.Insert(ctx, rec)
	if err != nil {
		return err
	}
	uc.recorded(ctx, stored, created)

	if err := uc.payments.MergeEvidence(ctx, intent.ID, domain.Evidence{OCR: uc.ocrEvidence(stored)}, nil); err != nil {
		return err
	}

	if stored.Verdict == domain.VerdictApproved {
		return uc.settleApproved(ctx, intent, stored)
	}

	if _, err := uc.payments.MarkManualReview(ctx, intent.ID); err != nil {
		return err
	}
	return uc.notifyOnce(ctx, stored, msgQueuedForReview)
}

// locateIntent tries the slip's pay-code, then the job's payment id, then the
// user's latest pending bank intent. It returns nil when nothing matches.
func (uc *ReconcileUsecase) locateIntent(ctx context.Context, job domain.ReceiptJob, parsed *domain.ParsedSlip) (*domain.PaymentIntent, error) {
	if parsed.PayCode != nil {
		intent, err := uc.payments.FindByPayCode(ctx, *parsed.PayCode)
		if err == nil {
			return intent, nil
		}
		if !errors.Is(err, xerrors.ErrNotFound) {
			return nil, err
		}
	}

	if job.PaymentID != nil && *job.PaymentID != "" {
		intent, err := uc.payments.GetByID(ctx, *job.PaymentID)
		if err == nil {
			return intent, nil
		}
		if !errors.Is(err, xerrors.ErrNotFound) {
			return nil, err
		}
	}

	intent, err := uc.payments.LatestPendingBank(ctx, job.UserID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, nil
	}
	return intent, err
}

// settleApproved claims the receipt's notification before approving, so a
// redelivered job never messages the payer twice.
func (uc *ReconcileUsecase) settleApproved(ctx context.Context, intent *domain.PaymentIntent, rec *domain.Receipt) error {
	claimed, err := uc.receipts.MarkNotified(ctx, rec.ID)
	if err != nil {
		return err
	}

	res, err := uc.approver.Approve(ctx, intent.ID, reconcileActor)
	switch {
	case err == nil:
	case isTerminalApprovalError(err):
		uc.logger.Warn("approved receipt could not approve payment",
			zap.String("payment_id", intent.ID),
			zap.String("receipt_id", rec.ID),
			zap.Error(err))
		if claimed {
			uc.notifier.Notify(ctx, rec.UserID, msgQueuedForReview)
		}
		return nil
	default:
		return err
	}

	if claimed && res.AlreadyApproved {
		uc.notifier.Notify(ctx, rec.UserID, msgAlreadyApproved)
	}
	return nil
}

func (uc *ReconcileUsecase) notifyOnce(ctx context.Context, rec *domain.Receipt, text string) error {
	if rec.Notified {
		return nil
	}
	claimed, err := uc.receipts.MarkNotified(ctx, rec.ID)
	if err != nil {
		return err
	}
	if claimed {
		uc.notifier.Notify(ctx, rec.UserID, text)
	}
	return nil
}

func (uc *ReconcileUsecase) ocrEvidence(rec *domain.Receipt) *domain.OCREvidence {
	date := rec.Slip.TransactionAt
	if date == nil {
		date = rec.Slip.ValueDateAt
	}
	return &domain.OCREvidence{
		ReceiptID:  rec.ID,
		Confidence: rec.Confidence,
		Amount:     rec.Slip.Amount,
		Currency:   rec.Slip.Currency,
		Date:       date,
		Verdict:    rec.Verdict,
		RecordedAt: uc.now(),
	}
}

func (uc *ReconcileUsecase) recorded(ctx context.Context, rec *domain.Receipt, created bool) {
	reason := ""
	if rec.Reason != nil {
		reason = *rec.Reason
	}

	if !created {
		uc.logger.Info("receipt already recorded",
			zap.String("receipt_id", rec.ID),
			zap.String("content_hash", rec.ContentHash))
		return
	}

	receiptVerdicts.WithLabelValues(string(rec.Verdict), reason).Inc()
	uc.logger.Info("receipt recorded",
		zap.String("receipt_id", rec.ID),
		zap.Stringp("payment_id", rec.PaymentID),
		zap.String("bank", string(rec.Slip.Bank)),
		zap.String("verdict", string(rec.Verdict)),
		zap.String("reason", reason))

	uc.publisher.Publish(ctx, events.Event{
		Type:       events.TypeReceiptVerdict,
		Key:        derefOr(rec.PaymentID, rec.ContentHash),
		OccurredAt: uc.now(),
		Data: map[string]any{
			"receipt_id":   rec.ID,
			"payment_id":   rec.PaymentID,
			"user_id":      rec.UserID,
			"content_hash": rec.ContentHash,
			"bank":         rec.Slip.Bank,
			"verdict":      rec.Verdict,
			"reason":       rec.Reason,
			"checks":       rec.Checks,
		},
	})
}

func derefOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

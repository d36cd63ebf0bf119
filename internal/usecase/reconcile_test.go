package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"verification-service/internal/decision"
	"verification-service/internal/domain"
	"verification-service/internal/queue"
	"verification-service/pkg/xerrors"
)

const slipTemplate = `Bank of Maldives
Transfer Receipt
Status: Successful
Reference: BLAZ123456789
Transaction Date: 12/03/2024 14:22
From AHMED ALI 7730000111111
To ISLAND TRADERS PVT LTD 7730000123456
Amount: MVR %s
Remarks: PAY-A1B2C3`

// 14:22 at +05:00
var slipTime = time.Date(2024, 3, 12, 9, 22, 0, 0, time.UTC)

type reconcileFixture struct {
	uc        *ReconcileUsecase
	queue     *queue.MemoryQueue
	payments  *fakePayments
	receipts  *fakeReceipts
	extractor *fakeExtractor
	notifier  *recordingNotifier
	publisher *recordingPublisher
	audit     *fakeAudit
}

func bankIntent() *domain.PaymentIntent {
	return &domain.PaymentIntent{
		ID:                 "pay-1",
		UserID:             "tg-1001",
		Method:             domain.MethodBank,
		Amount:             dec("1250"),
		Currency:           "MVR",
		BeneficiaryName:    strPtr("Island Traders Pvt Ltd"),
		BeneficiaryAccount: strPtr("7730000123456"),
		PayCode:            strPtr("PAY-A1B2C3"),
		Status:             domain.PaymentStatusPending,
		CreatedAt:          slipTime.Add(-10 * time.Minute),
	}
}

func newReconcileFixture(t *testing.T, slipText string, intents ...*domain.PaymentIntent) *reconcileFixture {
	t.Helper()

	f := &reconcileFixture{
		queue:     queue.NewMemoryQueue(queue.Options{Backend: queue.BackendMemory, Backoff: func(int) time.Duration { return 0 }}),
		payments:  newFakePayments(intents...),
		receipts:  newFakeReceipts(),
		extractor: &fakeExtractor{text: map[string]string{"tg-1001/slip.jpg": slipText}, conf: 0.91},
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		audit:     &fakeAudit{},
	}
	approver := NewApprover(f.payments, f.audit, f.notifier, f.publisher, zap.NewNop())
	f.uc = NewReconcileUsecase(
		f.queue, f.extractor, f.payments, f.receipts, fakeBeneficiaries{},
		approver, f.notifier, f.publisher,
		ReconcileConfig{Policy: decision.SlipPolicy{AmountTolerance: dec("0.02"), TimeWindow: time.Hour}},
		zap.NewNop(),
	)
	return f
}

func (f *reconcileFixture) enqueue(t *testing.T, hash string, paymentID *string) {
	t.Helper()
	ok, err := f.uc.Enqueue(context.Background(), domain.ReceiptJob{
		UserID:      "tg-1001",
		PaymentID:   paymentID,
		StoragePath: "tg-1001/slip.jpg",
		ContentHash: hash,
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRunBatch_ScenarioA_Approves(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(t, fmtSlip("1,250.00"), bankIntent())
	f.enqueue(t, "hash-a", nil)

	res, err := f.uc.RunBatch(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, &BatchResult{Popped: 1, Acked: 1}, res)

	rec := f.receipts.byContentHash("hash-a")
	require.NotNil(t, rec)
	assert.Equal(t, domain.VerdictApproved, rec.Verdict)
	assert.Nil(t, rec.Reason)
	require.NotNil(t, rec.PaymentID)
	assert.Equal(t, "pay-1", *rec.PaymentID)
	assert.True(t, rec.Notified)

	p := f.payments.get("pay-1")
	assert.Equal(t, domain.PaymentStatusApproved, p.Status)
	require.NotNil(t, p.WebhookData.OCR)
	assert.Equal(t, domain.VerdictApproved, p.WebhookData.OCR.Verdict)
	assert.Equal(t, 0.91, p.WebhookData.OCR.Confidence)

	msgs := f.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "tg-1001", msgs[0].chatID)
	assert.Contains(t, msgs[0].text, "1250.00 MVR")

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, domain.AuditActionAutoApprove, f.audit.entries[0].Action)
	assert.Equal(t, reconcileActor.ID, f.audit.entries[0].ActorID)

	assert.Equal(t, []string{"receipt.verdict", "payment.approved"}, f.publisher.types())
	assert.Equal(t, 0, f.queue.Len())
}

func TestRunBatch_ScenarioB_ManualReview(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(t, fmtSlip("900.00"), bankIntent())
	f.enqueue(t, "hash-b", nil)

	res, err := f.uc.RunBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Acked)

	rec := f.receipts.byContentHash("hash-b")
	require.NotNil(t, rec)
	assert.Equal(t, domain.VerdictManualReview, rec.Verdict)
	require.NotNil(t, rec.Reason)
	assert.Equal(t, domain.ReasonAutoRulesFailed, *rec.Reason)
	require.NotNil(t, rec.Checks)
	assert.False(t, rec.Checks.AmountOK)
	assert.True(t, rec.Checks.StatusOK)
	assert.True(t, rec.Checks.BeneficiaryOK)

	assert.Equal(t, domain.PaymentStatusManualReview, f.payments.get("pay-1").Status)

	msgs := f.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, msgQueuedForReview, msgs[0].text)
	assert.Empty(t, f.audit.entries)
}

func TestRunBatch_NoIntentFound(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(t, "Bank of Maldives\nStatus: Successful\nAmount: MVR 100.00")
	f.enqueue(t, "hash-c", nil)

	res, err := f.uc.RunBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Acked)

	rec := f.receipts.byContentHash("hash-c")
	require.NotNil(t, rec)
	assert.Nil(t, rec.PaymentID)
	assert.Equal(t, domain.VerdictManualReview, rec.Verdict)
	require.NotNil(t, rec.Reason)
	assert.Equal(t, domain.ReasonNoIntentFound, *rec.Reason)

	msgs := f.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, msgNoIntent, msgs[0].text)
}

func TestRunBatch_FallsBackToJobPaymentID(t *testing.T) {
	ctx := context.Background()
	intent := bankIntent()
	intent.PayCode = nil
	intent.Status = domain.PaymentStatusManualReview
	f := newReconcileFixture(t, "Bank of Maldives\nStatus: Successful\nAmount: MVR 1,250.00\nTo ISLAND TRADERS PVT LTD 7730000123456\nDate: 12/03/2024 14:22", intent)
	f.enqueue(t, "hash-d", strPtr("pay-1"))

	_, err := f.uc.RunBatch(ctx, 10)
	require.NoError(t, err)

	rec := f.receipts.byContentHash("hash-d")
	require.NotNil(t, rec)
	require.NotNil(t, rec.PaymentID)
	assert.Equal(t, "pay-1", *rec.PaymentID)
	assert.Equal(t, domain.VerdictApproved, rec.Verdict)
	assert.Equal(t, domain.PaymentStatusApproved, f.payments.get("pay-1").Status)
}

func TestRunBatch_FallsBackToLatestPendingBankIntent(t *testing.T) {
	ctx := context.Background()
	older := bankIntent()
	older.ID, older.PayCode, older.CreatedAt = "pay-old", nil, slipTime.Add(-3*time.Hour)
	newer := bankIntent()
	newer.ID, newer.PayCode = "pay-new", nil

	f := newReconcileFixture(t, "BML\nStatus: Successful\nAmount: MVR 1,250.00", older, newer)
	f.enqueue(t, "hash-e", nil)

	_, err := f.uc.RunBatch(ctx, 10)
	require.NoError(t, err)

	rec := f.receipts.byContentHash("hash-e")
	require.NotNil(t, rec)
	require.NotNil(t, rec.PaymentID)
	assert.Equal(t, "pay-new", *rec.PaymentID)
}

func TestRunBatch_TransientFailureRetriesUntilDeadLetter(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(t, fmtSlip("1,250.00"), bankIntent())
	f.extractor.err = xerrors.Transient("fetch receipt image", errors.New("storage timeout"))
	f.enqueue(t, "hash-f", nil)

	var total BatchResult
	for i := 0; i < 10; i++ {
		res, err := f.uc.RunBatch(ctx, 10)
		require.NoError(t, err)
		total.Popped += res.Popped
		total.Retried += res.Retried
		total.DeadLettered += res.DeadLettered
		total.Acked += res.Acked
	}

	assert.Equal(t, 5, f.extractor.calls)
	assert.Equal(t, BatchResult{Popped: 5, Retried: 4, DeadLettered: 1}, total)
	assert.Equal(t, 0, f.queue.Len())

	dead, err := f.uc.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "hash-f", dead[0].Job.ContentHash)
	assert.Equal(t, 5, dead[0].Job.Attempt)
	assert.Contains(t, dead[0].LastError, "storage timeout")

	assert.Empty(t, f.notifier.messages())
	assert.Equal(t, domain.PaymentStatusPending, f.payments.get("pay-1").Status)
}

func TestRunBatch_RedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(t, fmtSlip("1,250.00"), bankIntent())
	f.payments.mergeErr = errors.New("connection reset")
	f.enqueue(t, "hash-g", nil)

	res, err := f.uc.RunBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	assert.Equal(t, 1, f.receipts.inserts)
	assert.Empty(t, f.notifier.messages())

	f.payments.mergeErr = nil
	res, err = f.uc.RunBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Acked)

	assert.Equal(t, 1, f.receipts.inserts, "receipt is stored once per content hash")
	assert.Len(t, f.notifier.messages(), 1)
	assert.Equal(t, domain.PaymentStatusApproved, f.payments.get("pay-1").Status)

	// A stray duplicate delivery of the same job changes nothing.
	err = f.uc.processJob(ctx, domain.LeasedJob{MsgID: "dup", Job: domain.ReceiptJob{
		UserID: "tg-1001", StoragePath: "tg-1001/slip.jpg", ContentHash: "hash-g",
	}})
	require.NoError(t, err)
	assert.Len(t, f.notifier.messages(), 1)
	assert.Len(t, f.audit.entries, 1)
}

func TestRunBatch_AlreadyApprovedIntent(t *testing.T) {
	ctx := context.Background()
	intent := bankIntent()
	intent.Status = domain.PaymentStatusApproved
	f := newReconcileFixture(t, fmtSlip("1,250.00"), intent)
	f.enqueue(t, "hash-h", nil)

	_, err := f.uc.RunBatch(ctx, 10)
	require.NoError(t, err)

	msgs := f.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, msgAlreadyApproved, msgs[0].text)
	assert.Empty(t, f.audit.entries)
}

func TestEnqueue_Deduplicates(t *testing.T) {
	ctx := context.Background()
	f := newReconcileFixture(t, "")
	f.enqueue(t, "hash-i", nil)

	ok, err := f.uc.Enqueue(ctx, domain.ReceiptJob{UserID: "tg-1001", StoragePath: "x", ContentHash: "hash-i", Attempt: 3})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, f.queue.Len())
}

func fmtSlip(amount string) string {
	return fmt.Sprintf(slipTemplate, amount)
}

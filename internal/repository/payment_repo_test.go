package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verification-service/internal/domain"
	"verification-service/internal/pgtest"
	"verification-service/pkg/xerrors"
)

func insertPayment(t *testing.T, pool *pgxpool.Pool, id string, method domain.PaymentMethod, status domain.PaymentStatus, payCode string) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO payments (id, user_id, method, amount, currency, status, pay_code)
		VALUES ($1, $2, $3, 1250, 'MVR', $4, NULLIF($5, ''))`,
		id, "u-"+id, method, status, payCode)
	require.NoError(t, err)
}

func TestPaymentRepository_ApproveConditional(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Pool(t)
	repo := NewPaymentRepository(pool)

	insertPayment(t, pool, "p-open", domain.MethodBank, domain.PaymentStatusPending, "")
	insertPayment(t, pool, "p-review", domain.MethodBank, domain.PaymentStatusManualReview, "")
	insertPayment(t, pool, "p-rejected", domain.MethodBank, domain.PaymentStatusRejected, "")

	ok, err := repo.ApproveConditional(ctx, "p-open")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ApproveConditional(ctx, "p-open")
	require.NoError(t, err)
	assert.False(t, ok, "second approval is a no-op")

	ok, err = repo.ApproveConditional(ctx, "p-review")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ApproveConditional(ctx, "p-rejected")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.ApproveConditional(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	p, err := repo.GetByID(ctx, "p-open")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusApproved, p.Status)
	require.NotNil(t, p.ApprovedAt)
	assert.WithinDuration(t, time.Now(), *p.ApprovedAt, time.Minute)

	p, err = repo.GetByID(ctx, "p-rejected")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRejected, p.Status)
	assert.Nil(t, p.ApprovedAt)
}

func TestPaymentRepository_ConcurrentApproveWinsOnce(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Pool(t)
	repo := NewPaymentRepository(pool)
	insertPayment(t, pool, "p-race", domain.MethodCrypto, domain.PaymentStatusPending, "")

	wins := make(chan bool, 4)
	for i := 0; i < 4; i++ {
		go func() {
			ok, err := repo.ApproveConditional(ctx, "p-race")
			wins <- err == nil && ok
		}()
	}
	won := 0
	for i := 0; i < 4; i++ {
		if <-wins {
			won++
		}
	}
	assert.Equal(t, 1, won)
}

func TestPaymentRepository_MergeEvidenceKeepsOtherParts(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Pool(t)
	repo := NewPaymentRepository(pool)
	insertPayment(t, pool, "p-ev", domain.MethodCrypto, domain.PaymentStatusPending, "")

	require.NoError(t, repo.MergeEvidence(ctx, "p-ev",
		domain.Evidence{OCR: &domain.OCREvidence{ReceiptID: "r1", Confidence: 0.9, Verdict: domain.VerdictManualReview}}, nil))

	tx := "abc123"
	require.NoError(t, repo.MergeEvidence(ctx, "p-ev",
		domain.Evidence{Crypto: &domain.VerificationResult{OK: true, TxID: tx, Confirmations: 25}}, &tx))

	p, err := repo.GetByID(ctx, "p-ev")
	require.NoError(t, err)
	require.NotNil(t, p.WebhookData.OCR)
	assert.Equal(t, "r1", p.WebhookData.OCR.ReceiptID)
	require.NotNil(t, p.WebhookData.Crypto)
	assert.True(t, p.WebhookData.Crypto.OK)
	require.NotNil(t, p.TxID)
	assert.Equal(t, tx, *p.TxID)

	// Evidence without a tx id leaves the stored one alone.
	require.NoError(t, repo.MergeEvidence(ctx, "p-ev", domain.Evidence{}, nil))
	p, err = repo.GetByID(ctx, "p-ev")
	require.NoError(t, err)
	assert.Equal(t, tx, *p.TxID)

	err = repo.MergeEvidence(ctx, "missing", domain.Evidence{}, nil)
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestPaymentRepository_TransactionIDIsSingleUse(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Pool(t)
	repo := NewPaymentRepository(pool)
	insertPayment(t, pool, "p-first", domain.MethodCrypto, domain.PaymentStatusPending, "")
	insertPayment(t, pool, "p-second", domain.MethodCrypto, domain.PaymentStatusPending, "")
	insertPayment(t, pool, "p-binance", domain.MethodBinancePay, domain.PaymentStatusPending, "")

	tx := "shared-tx"
	require.NoError(t, repo.MergeEvidence(ctx, "p-first", domain.Evidence{}, &tx))

	claimed, err := repo.TxIDClaimed(ctx, domain.MethodCrypto, tx, "p-second")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.TxIDClaimed(ctx, domain.MethodCrypto, tx, "p-first")
	require.NoError(t, err)
	assert.False(t, claimed, "a payment may re-check its own transaction")

	err = repo.MergeEvidence(ctx, "p-second", domain.Evidence{}, &tx)
	assert.ErrorIs(t, err, xerrors.ErrTxAlreadyUsed)

	// Another method has its own id space.
	require.NoError(t, repo.MergeEvidence(ctx, "p-binance", domain.Evidence{}, &tx))

	// A rejected payment releases the transaction.
	_, err = pool.Exec(ctx, `UPDATE payments SET status = 'rejected' WHERE id = 'p-first'`)
	require.NoError(t, err)
	claimed, err = repo.TxIDClaimed(ctx, domain.MethodCrypto, tx, "p-second")
	require.NoError(t, err)
	assert.False(t, claimed)
	require.NoError(t, repo.MergeEvidence(ctx, "p-second", domain.Evidence{}, &tx))
}

func TestPaymentRepository_LookupsAndTransitions(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Pool(t)
	repo := NewPaymentRepository(pool)
	insertPayment(t, pool, "p-code", domain.MethodBank, domain.PaymentStatusPending, "QX7K2M")

	p, err := repo.FindByPayCode(ctx, "qx7k2m")
	require.NoError(t, err)
	assert.Equal(t, "p-code", p.ID)

	_, err = repo.FindByPayCode(ctx, "NOPE00")
	assert.ErrorIs(t, err, xerrors.ErrNotFound)

	p, err = repo.LatestPendingBank(ctx, "u-p-code")
	require.NoError(t, err)
	assert.Equal(t, "p-code", p.ID)

	ok, err := repo.MarkManualReview(ctx, "p-code")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.MarkManualReview(ctx, "p-code")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.LatestPendingBank(ctx, "u-p-code")
	assert.ErrorIs(t, err, xerrors.ErrNotFound)

	require.NoError(t, repo.SetReviewStatus(ctx, "p-code", "held_low_confidence"))
	p, err = repo.GetByID(ctx, "p-code")
	require.NoError(t, err)
	require.NotNil(t, p.ReviewStatus)
	assert.Equal(t, "held_low_confidence", *p.ReviewStatus)
	assert.Equal(t, domain.PaymentStatusManualReview, p.Status)

	recent, err := repo.ListRecentForSweep(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "p-code", recent[0].ID)
}

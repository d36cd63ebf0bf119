package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"verification-service/internal/domain"
	"verification-service/internal/pgtest"
)

func newTestTableQueue(t *testing.T, opts Options) (*TableQueue, *pgxpool.Pool) {
	t.Helper()
	pool := pgtest.Pool(t)
	return NewTableQueue(pool, opts, zap.NewNop()), pool
}

func enqueueAll(t *testing.T, q Queue, hashes ...string) {
	t.Helper()
	for _, h := range hashes {
		ok, err := q.Enqueue(context.Background(), job(h))
		require.NoError(t, err)
		require.True(t, ok, h)
	}
}

func TestTableQueue_EnqueueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestTableQueue(t, Options{})

	enqueueAll(t, q, "h1")
	ok, err := q.Enqueue(ctx, job("h1"))
	require.NoError(t, err)
	assert.False(t, ok)

	leased, err := q.Pop(ctx, 10)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.NoError(t, q.Ack(ctx, leased[0]))

	// Done rows keep deduplicating.
	ok, err = q.Enqueue(ctx, job("h1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTableQueue_PopSkipsLockedRows(t *testing.T) {
	ctx := context.Background()
	q, pool := newTestTableQueue(t, Options{})
	enqueueAll(t, q, "a", "b", "c")

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	var lockedID int64
	require.NoError(t, tx.QueryRow(ctx,
		`SELECT id FROM receipt_jobs WHERE content_hash = 'a' FOR UPDATE`).Scan(&lockedID))

	leased, err := q.Pop(ctx, 10)
	require.NoError(t, err)
	require.Len(t, leased, 2)
	assert.Equal(t, "b", leased[0].Job.ContentHash)
	assert.Equal(t, "c", leased[1].Job.ContentHash)

	require.NoError(t, tx.Rollback(ctx))

	leased, err = q.Pop(ctx, 10)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, "a", leased[0].Job.ContentHash)

	// Everything is leased now.
	leased, err = q.Pop(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, leased)
}

func TestTableQueue_ConcurrentPopsNeverShareAJob(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestTableQueue(t, Options{})
	enqueueAll(t, q, "a", "b", "c", "d", "e", "f")

	type popResult struct {
		leased []domain.LeasedJob
		err    error
	}
	results := make(chan popResult, 3)
	for i := 0; i < 3; i++ {
		go func() {
			leased, err := q.Pop(ctx, 3)
			results <- popResult{leased: leased, err: err}
		}()
	}

	seen := map[string]int{}
	for i := 0; i < 3; i++ {
		r := <-results
		require.NoError(t, r.err)
		for _, l := range r.leased {
			seen[l.Job.ContentHash]++
		}
	}
	rest, err := q.Pop(ctx, 10)
	require.NoError(t, err)
	for _, l := range rest {
		seen[l.Job.ContentHash]++
	}

	assert.Len(t, seen, 6)
	for h, n := range seen {
		assert.Equal(t, 1, n, "job %s leased more than once", h)
	}
}

func TestTableQueue_RetryBacksOffExponentially(t *testing.T) {
	ctx := context.Background()
	q, pool := newTestTableQueue(t, Options{})
	enqueueAll(t, q, "slow")

	leased, err := q.Pop(ctx, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	dead, err := q.Retry(ctx, leased[0], 3, errors.New("ocr timeout"))
	require.NoError(t, err)
	assert.False(t, dead)

	var (
		status    string
		attempts  int
		delay     float64
		lastError string
	)
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT status, attempts, EXTRACT(EPOCH FROM next_run_at - updated_at)::float8, last_error
		FROM receipt_jobs WHERE content_hash = 'slow'`).Scan(&status, &attempts, &delay, &lastError))
	assert.Equal(t, "pending", status)
	assert.Equal(t, 3, attempts)
	assert.InDelta(t, 8, delay, 0.001)
	assert.Equal(t, "ocr timeout", lastError)

	// Not visible until the backoff elapses.
	none, err := q.Pop(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTableQueue_RetryDeadLettersAtCeiling(t *testing.T) {
	ctx := context.Background()
	q, pool := newTestTableQueue(t, Options{MaxAttempts: 2})
	enqueueAll(t, q, "poison")

	leased, err := q.Pop(ctx, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	dead, err := q.Retry(ctx, leased[0], 2, errors.New("unreadable"))
	require.NoError(t, err)
	assert.True(t, dead)

	var status string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT status FROM receipt_jobs WHERE content_hash = 'poison'`).Scan(&status))
	assert.Equal(t, "dead", status)

	letters, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, leased[0].MsgID, letters[0].MsgID)
	assert.Equal(t, "poison", letters[0].Job.ContentHash)
	assert.Equal(t, 2, letters[0].Job.Attempt)
	assert.Equal(t, "unreadable", letters[0].LastError)

	none, err := q.Pop(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTableQueue_ExpiredLeaseCountsAsAttempt(t *testing.T) {
	ctx := context.Background()
	q, pool := newTestTableQueue(t, Options{MaxAttempts: 2})
	enqueueAll(t, q, "crashy")

	expire := func() {
		t.Helper()
		_, err := pool.Exec(ctx,
			`UPDATE receipt_jobs SET lease_until = now() - interval '1 second' WHERE content_hash = 'crashy'`)
		require.NoError(t, err)
	}

	leased, err := q.Pop(ctx, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, 0, leased[0].Job.Attempt)

	expire()
	leased, err = q.Pop(ctx, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, 1, leased[0].Job.Attempt)

	expire()
	leased, err = q.Pop(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, leased)

	letters, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, 2, letters[0].Job.Attempt)
	assert.Equal(t, errLeaseExpired.Error(), letters[0].LastError)
}

func TestTableQueue_DeadLettersAreNotRetriedTwice(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestTableQueue(t, Options{MaxAttempts: 1})
	enqueueAll(t, q, "once")

	leased, err := q.Pop(ctx, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	_, err = q.Retry(ctx, leased[0], 1, errors.New("boom"))
	require.NoError(t, err)

	// A stale handle retried again stays dead and does not duplicate the letter.
	dead, err := q.Retry(ctx, leased[0], 1, errors.New("boom"))
	require.NoError(t, err)
	assert.True(t, dead)

	letters, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, letters, 1)
}

// internal/queue/table.go
package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"verification-service/internal/domain"
	"verification-service/pkg/xerrors"
)

// TableQueue is the fallback backend on plain tables: receipt_jobs holds the
// live lane and receipt_jobs_dead the dead-letter lane. Rows are leased with
// FOR UPDATE SKIP LOCKED and an expiring lease_until.
type TableQueue struct {
	pool   *pgxpool.Pool
	opts   Options
	logger *zap.Logger
}

func NewTableQueue(pool *pgxpool.Pool, opts Options, logger *zap.Logger) *TableQueue {
	return &TableQueue{pool: pool, opts: opts.withDefaults(), logger: logger}
}

func (q *TableQueue) Backend() string { return BackendTable }

func (q *TableQueue) Enqueue(ctx context.Context, job domain.ReceiptJob) (bool, error) {
	query := `
		INSERT INTO receipt_jobs (user_id, payment_id, storage_path, content_hash, attempts, status, next_run_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', now())
		ON CONFLICT (content_hash) DO NOTHING
	`

	tag, err := q.pool.Exec(ctx, query, job.UserID, job.PaymentID, job.StoragePath, job.ContentHash, job.Attempt)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue receipt job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		jobsEnqueued.WithLabelValues(BackendTable, "duplicate").Inc()
		return false, nil
	}

	jobsEnqueued.WithLabelValues(BackendTable, "enqueued").Inc()
	return true, nil
}

func (q *TableQueue) Pop(ctx context.Context, count int) ([]domain.LeasedJob, error) {
	if count <= 0 {
		return nil, nil
	}

	if err := q.buryExpired(ctx); err != nil {
		return nil, err
	}

	// A processing row whose lease lapsed was delivered and never settled,
	// so re-leasing it counts as another attempt.
	query := `
		UPDATE receipt_jobs
		SET attempts = attempts + CASE WHEN status = 'processing' THEN 1 ELSE 0 END,
		    status = 'processing',
		    lease_until = now() + make_interval(secs => $2),
		    updated_at = now()
		WHERE id IN (
			SELECT id FROM receipt_jobs
			WHERE (status = 'pending' AND next_run_at <= now())
			   OR (status = 'processing' AND lease_until < now())
			ORDER BY next_run_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, user_id, payment_id, storage_path, content_hash, attempts, now()
	`

	rows, err := q.pool.Query(ctx, query, count, q.opts.VisibilityTimeout.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to lease receipt jobs: %w", err)
	}
	defer rows.Close()

	var leased []domain.LeasedJob
	for rows.Next() {
		var (
			id int64
			l  domain.LeasedJob
		)
		if err := rows.Scan(&id, &l.Job.UserID, &l.Job.PaymentID, &l.Job.StoragePath, &l.Job.ContentHash, &l.Job.Attempt, &l.LeasedAt); err != nil {
			return nil, fmt.Errorf("failed to scan receipt job: %w", err)
		}
		l.MsgID = strconv.FormatInt(id, 10)
		leased = append(leased, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to lease receipt jobs: %w", err)
	}
	return leased, nil
}

// buryExpired dead-letters processing rows whose lease lapsed on their
// last allowed attempt.
func (q *TableQueue) buryExpired(ctx context.Context) error {
	query := `
		WITH expired AS (
			SELECT id FROM receipt_jobs
			WHERE status = 'processing' AND lease_until < now() AND attempts + 1 >= $1
			FOR UPDATE SKIP LOCKED
		), moved AS (
			UPDATE receipt_jobs j
			SET status = 'dead', attempts = j.attempts + 1, lease_until = NULL, last_error = $2, updated_at = now()
			FROM expired
			WHERE j.id = expired.id
			RETURNING j.id, j.user_id, j.payment_id, j.storage_path, j.content_hash, j.attempts
		)
		INSERT INTO receipt_jobs_dead (id, user_id, payment_id, storage_path, content_hash, attempts, last_error, failed_at)
		SELECT id, user_id, payment_id, storage_path, content_hash, attempts, $2, now()
		FROM moved
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := q.pool.Exec(ctx, query, q.opts.MaxAttempts, errLeaseExpired.Error())
	if err != nil {
		return fmt.Errorf("failed to dead-letter expired receipt jobs: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		jobsRetried.WithLabelValues(BackendTable, "dead_lettered").Add(float64(n))
		q.logger.Warn("expired receipt jobs dead-lettered", zap.Int64("count", n))
	}
	return nil
}

// Ack marks the row done. Done rows stay behind so their content hash keeps
// deduplicating later uploads.
func (q *TableQueue) Ack(ctx context.Context, job domain.LeasedJob) error {
	id, err := parseMsgID(job.MsgID)
	if err != nil {
		return err
	}

	query := `
		UPDATE receipt_jobs
		SET status = 'done', lease_until = NULL, updated_at = now()
		WHERE id = $1
	`
	if _, err := q.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to ack receipt job: %w", err)
	}
	return nil
}

func (q *TableQueue) Retry(ctx context.Context, job domain.LeasedJob, nextAttempt int, cause error) (bool, error) {
	id, err := parseMsgID(job.MsgID)
	if err != nil {
		return false, err
	}

	if nextAttempt >= q.opts.MaxAttempts {
		if err := q.deadLetter(ctx, id, nextAttempt, cause); err != nil {
			return false, err
		}
		jobsRetried.WithLabelValues(BackendTable, "dead_lettered").Inc()
		return true, nil
	}

	query := `
		UPDATE receipt_jobs
		SET status = 'pending',
		    attempts = $2,
		    next_run_at = now() + make_interval(secs => $3),
		    lease_until = NULL,
		    last_error = $4,
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := q.pool.Exec(ctx, query, id, nextAttempt, q.opts.Backoff(nextAttempt).Seconds(), errorText(cause))
	if err != nil {
		return false, fmt.Errorf("failed to reschedule receipt job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, fmt.Errorf("receipt job %d: %w", id, xerrors.ErrNotFound)
	}

	jobsRetried.WithLabelValues(BackendTable, "retried").Inc()
	return false, nil
}

func (q *TableQueue) deadLetter(ctx context.Context, id int64, attempts int, cause error) error {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO receipt_jobs_dead (id, user_id, payment_id, storage_path, content_hash, attempts, last_error, failed_at)
		SELECT id, user_id, payment_id, storage_path, content_hash, $2, $3, now()
		FROM receipt_jobs
		WHERE id = $1
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insert, id, attempts, errorText(cause)); err != nil {
		return fmt.Errorf("failed to dead-letter receipt job: %w", err)
	}

	update := `
		UPDATE receipt_jobs
		SET status = 'dead', attempts = $2, lease_until = NULL, last_error = $3, updated_at = now()
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, update, id, attempts, errorText(cause))
	if err != nil {
		return fmt.Errorf("failed to dead-letter receipt job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("receipt job %d: %w", id, xerrors.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	q.logger.Warn("receipt job dead-lettered",
		zap.Int64("job_id", id),
		zap.Int("attempts", attempts),
		zap.Error(cause))
	return nil
}

func (q *TableQueue) DeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, user_id, payment_id, storage_path, content_hash, attempts, COALESCE(last_error, ''), failed_at
		FROM receipt_jobs_dead
		ORDER BY failed_at DESC, id DESC
		LIMIT $1
	`
	rows, err := q.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DeadLetter, error) {
		var (
			id int64
			d  domain.DeadLetter
		)
		err := row.Scan(&id, &d.Job.UserID, &d.Job.PaymentID, &d.Job.StoragePath, &d.Job.ContentHash, &d.Job.Attempt, &d.LastError, &d.FailedAt)
		d.MsgID = strconv.FormatInt(id, 10)
		return d, err
	})
}

func parseMsgID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: message id %q", xerrors.ErrInvalidRequest, s)
	}
	return id, nil
}

// internal/queue/pgmq.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"verification-service/internal/domain"
)

// PGMQQueue is the native backend on the Postgres pgmq extension. Leasing is
// pgmq's visibility timeout; the dead-letter lane is the <name>_dlq queue.
// Content hashes are claimed in receipt_job_hashes in the same transaction
// as the send, which is what makes Enqueue idempotent.
type PGMQQueue struct {
	pool   *pgxpool.Pool
	opts   Options
	dlq    string
	logger *zap.Logger
}

type deadLetterMessage struct {
	Job       domain.ReceiptJob `json:"job"`
	Raw       json.RawMessage   `json:"raw,omitempty"`
	LastError string            `json:"last_error,omitempty"`
	FailedAt  time.Time         `json:"failed_at"`
}

func NewPGMQQueue(pool *pgxpool.Pool, opts Options, logger *zap.Logger) *PGMQQueue {
	opts = opts.withDefaults()
	return &PGMQQueue{pool: pool, opts: opts, dlq: opts.Name + "_dlq", logger: logger}
}

func (q *PGMQQueue) Backend() string { return BackendPGMQ }

// Ensure creates the live and dead-letter queues. It doubles as the
// capability probe: it fails with a Postgres error when pgmq is absent.
func (q *PGMQQueue) Ensure(ctx context.Context) error {
	for _, name := range []string{q.opts.Name, q.dlq} {
		if _, err := q.pool.Exec(ctx, `SELECT pgmq.create($1)`, name); err != nil {
			return fmt.Errorf("failed to create pgmq queue %s: %w", name, err)
		}
	}
	return nil
}

func (q *PGMQQueue) Enqueue(ctx context.Context, job domain.ReceiptJob) (bool, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to marshal receipt job: %w", err)
	}

	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	claim := `
		INSERT INTO receipt_job_hashes (content_hash, queue_name)
		VALUES ($1, $2)
		ON CONFLICT (content_hash) DO NOTHING
	`
	tag, err := tx.Exec(ctx, claim, job.ContentHash, q.opts.Name)
	if err != nil {
		return false, fmt.Errorf("failed to claim content hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		jobsEnqueued.WithLabelValues(BackendPGMQ, "duplicate").Inc()
		return false, nil
	}

	var msgID int64
	if err := tx.QueryRow(ctx, `SELECT * FROM pgmq.send($1, $2::jsonb)`, q.opts.Name, payload).Scan(&msgID); err != nil {
		return false, fmt.Errorf("failed to send receipt job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	jobsEnqueued.WithLabelValues(BackendPGMQ, "enqueued").Inc()
	q.logger.Debug("receipt job sent",
		zap.Int64("msg_id", msgID),
		zap.String("content_hash", job.ContentHash))
	return true, nil
}

// Pop reads up to count messages. pgmq's read_ct counts every delivery of a
// message; deliveries beyond the first were leases that lapsed, and they
// count towards the attempt ceiling like explicit retries do.
func (q *PGMQQueue) Pop(ctx context.Context, count int) ([]domain.LeasedJob, error) {
	if count <= 0 {
		return nil, nil
	}

	type delivery struct {
		msgID   int64
		readCt  int
		payload []byte
	}

	query := `SELECT msg_id, read_ct, message FROM pgmq.read($1, $2, $3)`
	rows, err := q.pool.Query(ctx, query, q.opts.Name, int(q.opts.VisibilityTimeout.Seconds()), count)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt jobs: %w", err)
	}
	deliveries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (delivery, error) {
		var d delivery
		err := row.Scan(&d.msgID, &d.readCt, &d.payload)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt jobs: %w", err)
	}

	now := time.Now()
	leased := make([]domain.LeasedJob, 0, len(deliveries))
	for _, d := range deliveries {
		l := domain.LeasedJob{MsgID: strconv.FormatInt(d.msgID, 10), LeasedAt: now}

		if err := json.Unmarshal(d.payload, &l.Job); err != nil {
			// Undecodable payloads would be redelivered forever.
			q.logger.Error("dead-lettering malformed receipt job",
				zap.Int64("msg_id", d.msgID),
				zap.Error(err))
			msg := deadLetterMessage{Raw: d.payload, LastError: err.Error(), FailedAt: now.UTC()}
			if berr := q.bury(ctx, d.msgID, msg); berr != nil {
				q.logger.Error("failed to dead-letter malformed receipt job", zap.Error(berr))
			}
			continue
		}

		if d.readCt > 1 {
			l.Job.Attempt += d.readCt - 1
		}
		if l.Job.Attempt >= q.opts.MaxAttempts {
			msg := deadLetterMessage{Job: l.Job, LastError: errLeaseExpired.Error(), FailedAt: now.UTC()}
			if err := q.bury(ctx, d.msgID, msg); err != nil {
				return nil, err
			}
			q.logger.Warn("receipt job dead-lettered",
				zap.Int64("msg_id", d.msgID),
				zap.Int("attempts", l.Job.Attempt),
				zap.Error(errLeaseExpired))
			continue
		}

		leased = append(leased, l)
	}
	return leased, nil
}

func (q *PGMQQueue) Ack(ctx context.Context, job domain.LeasedJob) error {
	id, err := parseMsgID(job.MsgID)
	if err != nil {
		return err
	}
	if _, err := q.pool.Exec(ctx, `SELECT pgmq.delete($1, $2::bigint)`, q.opts.Name, id); err != nil {
		return fmt.Errorf("failed to ack receipt job: %w", err)
	}
	return nil
}

// Retry re-sends the job with the new attempt count and deletes the leased
// message in one transaction. The re-send is delayed by the visibility
// timeout, matching pgmq's own redelivery delay.
func (q *PGMQQueue) Retry(ctx context.Context, job domain.LeasedJob, nextAttempt int, cause error) (bool, error) {
	id, err := parseMsgID(job.MsgID)
	if err != nil {
		return false, err
	}

	next := job.Job
	next.Attempt = nextAttempt

	if nextAttempt >= q.opts.MaxAttempts {
		msg := deadLetterMessage{Job: next, LastError: errorText(cause), FailedAt: time.Now().UTC()}
		if err := q.bury(ctx, id, msg); err != nil {
			return false, err
		}
		q.logger.Warn("receipt job dead-lettered",
			zap.Int64("msg_id", id),
			zap.Int("attempts", nextAttempt),
			zap.Error(cause))
		return true, nil
	}

	payload, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("failed to marshal receipt job: %w", err)
	}
	if err := q.move(ctx, id, q.opts.Name, payload, int(q.opts.VisibilityTimeout.Seconds())); err != nil {
		return false, err
	}

	jobsRetried.WithLabelValues(BackendPGMQ, "retried").Inc()
	return false, nil
}

// bury moves a live message to the dead-letter queue.
func (q *PGMQQueue) bury(ctx context.Context, msgID int64, msg deadLetterMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	if err := q.move(ctx, msgID, q.dlq, payload, 0); err != nil {
		return err
	}
	jobsRetried.WithLabelValues(BackendPGMQ, "dead_lettered").Inc()
	return nil
}

// move sends payload to target and deletes the live message msgID in one
// transaction.
func (q *PGMQQueue) move(ctx context.Context, msgID int64, target string, payload []byte, delay int) error {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pgmq.send($1, $2::jsonb, $3::int)`, target, payload, delay); err != nil {
		return fmt.Errorf("failed to send to %s: %w", target, err)
	}
	if _, err := tx.Exec(ctx, `SELECT pgmq.delete($1, $2::bigint)`, q.opts.Name, msgID); err != nil {
		return fmt.Errorf("failed to delete leased receipt job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (q *PGMQQueue) DeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}

	table := pgx.Identifier{"pgmq", "q_" + q.dlq}.Sanitize()
	rows, err := q.pool.Query(ctx, `SELECT msg_id, message FROM `+table+` ORDER BY msg_id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DeadLetter, error) {
		var (
			msgID   int64
			payload []byte
			msg     deadLetterMessage
		)
		if err := row.Scan(&msgID, &payload); err != nil {
			return domain.DeadLetter{}, err
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			return domain.DeadLetter{}, fmt.Errorf("malformed dead letter %d: %w", msgID, err)
		}
		return domain.DeadLetter{
			MsgID:     strconv.FormatInt(msgID, 10),
			Job:       msg.Job,
			LastError: msg.LastError,
			FailedAt:  msg.FailedAt,
		}, nil
	})
}

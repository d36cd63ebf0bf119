// internal/queue/queue.go
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"verification-service/internal/domain"
)

// Backend names.
const (
	BackendAuto   = "auto"
	BackendPGMQ   = "pgmq"
	BackendTable  = "table"
	BackendMemory = "memory"
)

var (
	jobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_queue_enqueued_total",
			Help: "Receipt jobs offered to the queue, by backend and result",
		},
		[]string{"backend", "result"},
	)

	jobsRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_queue_retries_total",
			Help: "Receipt jobs sent back for another attempt or dead-lettered",
		},
		[]string{"backend", "outcome"},
	)
)

// Queue is a durable mailbox of receipt jobs with lease-based delivery.
// Implementations are interchangeable; callers never branch on the backend.
type Queue interface {
	// Enqueue stores job. A job whose content hash was already enqueued is
	// ignored and reported as not enqueued, without error.
	Enqueue(ctx context.Context, job domain.ReceiptJob) (bool, error)

	// Pop leases up to count jobs. A leased job is invisible to other
	// consumers until it is acked, retried, or its lease expires.
	Pop(ctx context.Context, count int) ([]domain.LeasedJob, error)

	// Ack removes a processed job from the live lane.
	Ack(ctx context.Context, job domain.LeasedJob) error

	// Retry schedules job for another attempt, or moves it to the
	// dead-letter lane once nextAttempt reaches the ceiling.
	Retry(ctx context.Context, job domain.LeasedJob, nextAttempt int, cause error) (deadLettered bool, err error)

	// DeadLetters lists the most recent dead-lettered jobs.
	DeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error)

	Backend() string
}

type Options struct {
	Backend           string
	Name              string
	VisibilityTimeout time.Duration
	MaxAttempts       int

	// Backoff is the delay before attempt n is visible again.
	// Defaults to 2^n seconds.
	Backoff func(attempt int) time.Duration
}

const (
	defaultName              = "receipt_jobs"
	defaultVisibilityTimeout = 60 * time.Second
	defaultMaxAttempts       = 5
	maxBackoff               = time.Hour
)

func (o Options) withDefaults() Options {
	if o.Backend == "" {
		o.Backend = BackendAuto
	}
	if o.Name == "" {
		o.Name = defaultName
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = defaultVisibilityTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.Backoff == nil {
		o.Backoff = ExponentialBackoff
	}
	return o
}

// ExponentialBackoff returns 2^attempt seconds, capped at one hour.
func ExponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 12 {
		return maxBackoff
	}
	return min(time.Duration(1<<attempt)*time.Second, maxBackoff)
}

// errLeaseExpired is recorded on jobs dead-lettered because consumers kept
// letting their lease lapse.
var errLeaseExpired = errors.New("lease expired without ack")

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

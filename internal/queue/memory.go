// internal/queue/memory.go
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"verification-service/internal/domain"
	"verification-service/pkg/id"
	"verification-service/pkg/xerrors"
)

type memMessage struct {
	id        string
	job       domain.ReceiptJob
	visibleAt time.Time
	seq       uint64
	leased    bool
}

// MemoryQueue is an in-process Queue for tests and single-node runs.
// Nothing survives a restart.
type MemoryQueue struct {
	mu   sync.Mutex
	opts Options
	ids  *id.ULIDGenerator
	now  func() time.Time

	seq  uint64
	live map[string]*memMessage
	seen map[string]struct{}
	dead []domain.DeadLetter
}

func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		opts: opts.withDefaults(),
		ids:  id.NewULIDGenerator(),
		now:  time.Now,
		live: make(map[string]*memMessage),
		seen: make(map[string]struct{}),
	}
}

func (q *MemoryQueue) Backend() string { return BackendMemory }

func (q *MemoryQueue) Enqueue(_ context.Context, job domain.ReceiptJob) (bool, error) {
	if job.ContentHash == "" {
		return false, fmt.Errorf("%w: content hash is required", xerrors.ErrInvalidRequest)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.seen[job.ContentHash]; dup {
		jobsEnqueued.WithLabelValues(BackendMemory, "duplicate").Inc()
		return false, nil
	}
	q.seen[job.ContentHash] = struct{}{}

	q.seq++
	msg := &memMessage{id: q.ids.New(), job: job, visibleAt: q.now(), seq: q.seq}
	q.live[msg.id] = msg

	jobsEnqueued.WithLabelValues(BackendMemory, "enqueued").Inc()
	return true, nil
}

func (q *MemoryQueue) Pop(_ context.Context, count int) ([]domain.LeasedJob, error) {
	if count <= 0 {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	ready := make([]*memMessage, 0, len(q.live))
	for _, m := range q.live {
		if !m.visibleAt.After(now) {
			ready = append(ready, m)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].visibleAt.Equal(ready[j].visibleAt) {
			return ready[i].visibleAt.Before(ready[j].visibleAt)
		}
		return ready[i].seq < ready[j].seq
	})
	if len(ready) > count {
		ready = ready[:count]
	}

	leased := make([]domain.LeasedJob, 0, len(ready))
	for _, m := range ready {
		// Still leased means the previous consumer let the lease lapse.
		if m.leased {
			m.job.Attempt++
			if m.job.Attempt >= q.opts.MaxAttempts {
				q.deadLetterLocked(m, m.job.Attempt, errLeaseExpired)
				continue
			}
		}
		m.leased = true
		m.visibleAt = now.Add(q.opts.VisibilityTimeout)
		leased = append(leased, domain.LeasedJob{MsgID: m.id, Job: m.job, LeasedAt: now})
	}
	return leased, nil
}

func (q *MemoryQueue) Ack(_ context.Context, job domain.LeasedJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.live, job.MsgID)
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, job domain.LeasedJob, nextAttempt int, cause error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg, ok := q.live[job.MsgID]
	if !ok {
		return false, fmt.Errorf("message %s: %w", job.MsgID, xerrors.ErrNotFound)
	}

	if nextAttempt >= q.opts.MaxAttempts {
		q.deadLetterLocked(msg, nextAttempt, cause)
		return true, nil
	}

	msg.job.Attempt = nextAttempt
	msg.leased = false
	msg.visibleAt = q.now().Add(q.opts.Backoff(nextAttempt))
	jobsRetried.WithLabelValues(BackendMemory, "retried").Inc()
	return false, nil
}

func (q *MemoryQueue) deadLetterLocked(msg *memMessage, attempts int, cause error) {
	delete(q.live, msg.id)
	dead := msg.job
	dead.Attempt = attempts
	q.dead = append(q.dead, domain.DeadLetter{
		MsgID:     msg.id,
		Job:       dead,
		LastError: errorText(cause),
		FailedAt:  q.now(),
	})
	jobsRetried.WithLabelValues(BackendMemory, "dead_lettered").Inc()
}

func (q *MemoryQueue) DeadLetters(_ context.Context, limit int) ([]domain.DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.DeadLetter, 0, len(q.dead))
	for i := len(q.dead) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, q.dead[i])
	}
	return out, nil
}

// Len reports the number of jobs still in the live lane.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.live)
}

// internal/worker/reconcile_worker.go
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/usecase"
)

type batchRunner interface {
	RunBatch(ctx context.Context, n int) (*usecase.BatchResult, error)
}

// ReconcileWorker drains the receipt queue on a fixed interval.
type ReconcileWorker struct {
	runner    batchRunner
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
	stopChan  chan struct{}
	stopOnce  sync.Once
}

func NewReconcileWorker(runner batchRunner, interval time.Duration, batchSize int, logger *zap.Logger) *ReconcileWorker {
	return &ReconcileWorker{
		runner:    runner,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start blocks until Stop is called or ctx is cancelled.
func (w *ReconcileWorker) Start(ctx context.Context) {
	w.logger.Info("Starting reconcile worker",
		zap.Duration("interval", w.interval),
		zap.Int("batch_size", w.batchSize))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			w.runOnce(ctx)

		case <-w.stopChan:
			w.logger.Info("Stopping reconcile worker")
			return

		case <-ctx.Done():
			w.logger.Info("Context cancelled, stopping reconcile worker")
			return
		}
	}
}

func (w *ReconcileWorker) runOnce(ctx context.Context) {
	// Keep draining while full batches come back.
	for {
		res, err := w.runner.RunBatch(ctx, w.batchSize)
		if err != nil {
			w.logger.Error("Reconcile batch failed", zap.Error(err))
			return
		}
		if res.Popped < w.batchSize || ctx.Err() != nil {
			return
		}
		select {
		case <-w.stopChan:
			return
		default:
		}
	}
}

func (w *ReconcileWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

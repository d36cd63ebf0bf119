// internal/worker/sweep_worker.go
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/usecase"
)

type sweeper interface {
	Sweep(ctx context.Context) (*usecase.SweepResult, error)
}

// SweepWorker runs the auto-review sweep periodically.
type SweepWorker struct {
	sweeper  sweeper
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewSweepWorker(s sweeper, interval time.Duration, logger *zap.Logger) *SweepWorker {
	return &SweepWorker{
		sweeper:  s,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

func (sw *SweepWorker) Start(ctx context.Context) {
	sw.logger.Info("Starting auto-review sweep worker", zap.Duration("interval", sw.interval))

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := sw.sweeper.Sweep(ctx); err != nil {
				sw.logger.Error("Auto-review sweep failed", zap.Error(err))
			}

		case <-sw.stopChan:
			sw.logger.Info("Stopping auto-review sweep worker")
			return

		case <-ctx.Done():
			sw.logger.Info("Context cancelled, stopping auto-review sweep worker")
			return
		}
	}
}

func (sw *SweepWorker) Stop() {
	sw.stopOnce.Do(func() { close(sw.stopChan) })
}

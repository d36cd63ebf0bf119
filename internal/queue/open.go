// internal/queue/open.go
package queue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"verification-service/pkg/xerrors"
)

// capabilityAbsentCodes are the Postgres errors that mean "pgmq is not
// installed here", as opposed to pgmq failing.
var capabilityAbsentCodes = map[string]bool{
	xerrors.PGInvalidSchemaName:   true,
	xerrors.PGUndefinedFunction:   true,
	xerrors.PGUndefinedTable:      true,
	xerrors.PGFeatureNotSupported: true,
}

// IsCapabilityAbsent reports whether err signals a missing queue primitive.
func IsCapabilityAbsent(err error) bool {
	return err != nil && capabilityAbsentCodes[xerrors.ParsePGErrorCode(err)]
}

// Open builds the configured backend. In auto mode the native queue is
// probed once; only a capability-absent error selects the table fallback,
// any other probe error is returned.
func Open(ctx context.Context, pool *pgxpool.Pool, opts Options, logger *zap.Logger) (Queue, error) {
	opts = opts.withDefaults()

	switch opts.Backend {
	case BackendMemory:
		logger.Info("✅ using in-memory receipt queue")
		return NewMemoryQueue(opts), nil
	case BackendTable:
		logger.Info("✅ using table receipt queue", zap.String("table", "receipt_jobs"))
		return NewTableQueue(pool, opts, logger), nil
	case BackendPGMQ, BackendAuto:
	default:
		return nil, fmt.Errorf("%w: unknown queue backend %q", xerrors.ErrInvalidRequest, opts.Backend)
	}

	native := NewPGMQQueue(pool, opts, logger)
	return choose(ctx, opts.Backend, native, func() Queue { return NewTableQueue(pool, opts, logger) }, logger)
}

type ensurer interface {
	Queue
	Ensure(ctx context.Context) error
}

func choose(ctx context.Context, backend string, native ensurer, fallback func() Queue, logger *zap.Logger) (Queue, error) {
	err := native.Ensure(ctx)
	switch {
	case err == nil:
		logger.Info("✅ using pgmq receipt queue")
		return native, nil
	case backend == BackendAuto && IsCapabilityAbsent(err):
		logger.Warn("pgmq unavailable, falling back to table receipt queue",
			zap.String("pg_code", xerrors.ParsePGErrorCode(err)),
			zap.Error(err))
		return fallback(), nil
	default:
		return nil, fmt.Errorf("failed to initialise pgmq queue: %w", err)
	}
}

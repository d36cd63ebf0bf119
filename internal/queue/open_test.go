package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"verification-service/pkg/xerrors"
)

type probeQueue struct {
	*MemoryQueue
	err error
}

func (p *probeQueue) Ensure(context.Context) error { return p.err }

func TestChoose(t *testing.T) {
	fallback := NewMemoryQueue(Options{})
	pick := func() Queue { return fallback }

	tests := []struct {
		name         string
		backend      string
		probeErr     error
		wantFallback bool
		wantErr      bool
	}{
		{"native available", BackendAuto, nil, false, false},
		{"extension missing", BackendAuto, &pgconn.PgError{Code: xerrors.PGUndefinedFunction}, true, false},
		{"schema missing", BackendAuto, fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: xerrors.PGInvalidSchemaName}), true, false},
		{"table missing", BackendAuto, &pgconn.PgError{Code: xerrors.PGUndefinedTable}, true, false},
		{"feature unsupported", BackendAuto, &pgconn.PgError{Code: xerrors.PGFeatureNotSupported}, true, false},
		{"connection failure is not absence", BackendAuto, &pgconn.PgError{Code: "08006"}, false, true},
		{"plain error is not absence", BackendAuto, errors.New("i/o timeout"), false, true},
		{"forced native never falls back", BackendPGMQ, &pgconn.PgError{Code: xerrors.PGUndefinedFunction}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			native := &probeQueue{MemoryQueue: NewMemoryQueue(Options{}), err: tt.probeErr}

			q, err := choose(context.Background(), tt.backend, native, pick, zap.NewNop())
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.probeErr)
				return
			}
			require.NoError(t, err)
			if tt.wantFallback {
				assert.Same(t, fallback, q)
			} else {
				assert.Same(t, native, q)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	q, err := Open(context.Background(), nil, Options{Backend: BackendMemory}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, q.Backend())

	q, err = Open(context.Background(), nil, Options{Backend: BackendTable}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, BackendTable, q.Backend())

	_, err = Open(context.Background(), nil, Options{Backend: "kafka"}, zap.NewNop())
	assert.ErrorIs(t, err, xerrors.ErrInvalidRequest)
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, BackendAuto, o.Backend)
	assert.Equal(t, "receipt_jobs", o.Name)
	assert.Equal(t, 5, o.MaxAttempts)
	assert.NotNil(t, o.Backoff)
}

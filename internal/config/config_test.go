package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"verification-service/internal/chains/tron"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ADMIN_JWT_SECRET", "s3cret")

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "auto", cfg.Queue.Backend)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 10, cfg.Worker.BatchSize)
	assert.True(t, cfg.Receipt.AmountTolerance.Equal(decimal.RequireFromString("0.02")))
	assert.Equal(t, time.Hour, cfg.Receipt.TimeWindow)
	assert.True(t, cfg.Sweep.AmountTolerance.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, 7200*time.Second, cfg.Sweep.TimeWindow)
	assert.Equal(t, 0.7, cfg.Sweep.MinConfidence)
	assert.Equal(t, 24*time.Hour, cfg.Sweep.Lookback)
	assert.Equal(t, int64(20), cfg.Tron.MinConfirmations)
	assert.Equal(t, tron.USDTContractMainnet, cfg.Tron.USDTContract)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ADMIN_JWT_SECRET", "s3cret")
	t.Setenv("QUEUE_BACKEND", "TABLE")
	t.Setenv("TRON_NETWORK", "nile")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SWEEP_TIME_WINDOW_SECONDS", "180")
	t.Setenv("RECEIPT_AMOUNT_TOLERANCE", "0.03")
	t.Setenv("WORKER_INTERVAL", "not-a-duration")

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "table", cfg.Queue.Backend)
	assert.Equal(t, tron.USDTContractNile, cfg.Tron.USDTContract)
	assert.Equal(t, "https://nile.trongrid.io", cfg.Tron.HTTPUrl)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 180*time.Second, cfg.Sweep.TimeWindow)
	assert.True(t, cfg.Receipt.AmountTolerance.Equal(decimal.RequireFromString("0.03")))
	assert.Equal(t, 15*time.Second, cfg.Worker.Interval)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("ADMIN_JWT_SECRET", "")
	_, err := Load(zap.NewNop())
	assert.Error(t, err)

	t.Setenv("ADMIN_JWT_SECRET", "s3cret")
	t.Setenv("QUEUE_BACKEND", "sqs")
	_, err = Load(zap.NewNop())
	assert.Error(t, err)
}

func TestDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "")
	t.Setenv("DB_NAME", "payments")
	t.Setenv("DB_SSLMODE", "")
	assert.Equal(t, "postgres://app:pw@db:5432/payments?sslmode=disable", DatabaseURL())

	t.Setenv("DATABASE_URL", "postgres://x/y")
	assert.Equal(t, "postgres://x/y", DatabaseURL())
}

// internal/config/db.go
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DatabaseURL prefers DATABASE_URL and otherwise assembles one from DB_*.
func DatabaseURL() string {
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_PORT", "5432"),
		os.Getenv("DB_NAME"),
		getEnv("DB_SSLMODE", "disable"),
	)
}

// ConnectDB creates the PostgreSQL connection pool
func ConnectDB(ctx context.Context, logger *zap.Logger) (*pgxpool.Pool, error) {
	maxConns := getEnvAsInt("DB_MAX_CONNS", 20)
	minConns := getEnvAsInt("DB_MIN_CONNS", 2)
	maxConnLifetime := getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute)
	maxConnIdleTime := getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute)

	poolConfig, err := pgxpool.ParseConfig(DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(maxConns)
	poolConfig.MinConns = int32(minConns)
	poolConfig.MaxConnLifetime = maxConnLifetime
	poolConfig.MaxConnIdleTime = maxConnIdleTime
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
	poolConfig.ConnConfig.StatementCacheCapacity = 512
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("✅ database connected",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database),
		zap.Int32("max_conns", poolConfig.MaxConns))

	return dbpool, nil
}

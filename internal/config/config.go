// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"verification-service/internal/chains/tron"
)

type Config struct {
	Env      string
	HTTPAddr string

	Redis    RedisConfig
	Kafka    KafkaConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Receipt  ReceiptPolicy
	Sweep    SweepConfig
	Tron     TronConfig
	Binance  BinanceConfig
	Storage  StorageConfig
	OCR      OCRConfig
	Telegram TelegramConfig
	Security SecurityConfig

	HTTPTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type QueueConfig struct {
	Backend           string // auto, pgmq, table, memory
	Name              string
	VisibilityTimeout time.Duration
	MaxAttempts       int
}

type WorkerConfig struct {
	BatchSize int
	Interval  time.Duration
}

// ReceiptPolicy drives the worker's decision on a freshly parsed slip.
type ReceiptPolicy struct {
	AmountTolerance decimal.Decimal
	TimeWindow      time.Duration
}

// SweepConfig drives the periodic auto-review.
type SweepConfig struct {
	Interval        time.Duration
	Lookback        time.Duration
	AmountTolerance decimal.Decimal
	TimeWindow      time.Duration
	MinConfidence   float64
	BatchSize       int
}

type TronConfig struct {
	APIKey           string
	Network          string
	HTTPUrl          string
	USDTContract     string
	MinConfirmations int64
	Timeout          time.Duration
}

type BinanceConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Timeout   time.Duration
}

type StorageConfig struct {
	URL        string
	Bucket     string
	ServiceKey string
}

type OCRConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

type TelegramConfig struct {
	BotToken string
}

type SecurityConfig struct {
	AdminJWTSecret      string
	UploadRateLimit     int64
	UploadRateWindow    time.Duration
	BeneficiaryCacheTTL time.Duration
}

func Load(logger *zap.Logger) (*Config, error) {
	// ============================================================================
	// TRON Configuration
	// ============================================================================
	tronNetwork := getEnv("TRON_NETWORK", "mainnet")

	cfg := &Config{
		Env:         getEnv("APP_ENV", "production"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		HTTPTimeout: getEnvAsDuration("HTTP_TIMEOUT", 15*time.Second),

		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASS", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", "payment-verification"),
		},
		Queue: QueueConfig{
			Backend:           strings.ToLower(getEnv("QUEUE_BACKEND", "auto")),
			Name:              getEnv("QUEUE_NAME", "receipt_jobs"),
			VisibilityTimeout: getEnvAsDuration("QUEUE_VISIBILITY_TIMEOUT", 60*time.Second),
			MaxAttempts:       getEnvAsInt("QUEUE_MAX_ATTEMPTS", 5),
		},
		Worker: WorkerConfig{
			BatchSize: getEnvAsInt("WORKER_BATCH_SIZE", 10),
			Interval:  getEnvAsDuration("WORKER_INTERVAL", 15*time.Second),
		},
		Receipt: ReceiptPolicy{
			AmountTolerance: getEnvAsDecimal("RECEIPT_AMOUNT_TOLERANCE", "0.02"),
			TimeWindow:      getEnvAsDuration("RECEIPT_TIME_WINDOW", time.Hour),
		},
		Sweep: SweepConfig{
			Interval:        getEnvAsDuration("SWEEP_INTERVAL", 5*time.Minute),
			Lookback:        getEnvAsDuration("SWEEP_LOOKBACK", 24*time.Hour),
			AmountTolerance: getEnvAsDecimal("SWEEP_AMOUNT_TOLERANCE", "0.05"),
			TimeWindow:      time.Duration(getEnvAsInt64("SWEEP_TIME_WINDOW_SECONDS", 7200)) * time.Second,
			MinConfidence:   getEnvAsFloat("SWEEP_MIN_CONFIDENCE", 0.7),
			BatchSize:       getEnvAsInt("SWEEP_BATCH_SIZE", 200),
		},
		Tron: TronConfig{
			APIKey:           getEnv("TRON_API_KEY", ""),
			Network:          tronNetwork,
			HTTPUrl:          getEnv("TRON_HTTP_URL", tron.GetAPIURL(tronNetwork)),
			USDTContract:     getEnv("TRON_USDT_CONTRACT", tron.GetUSDTContract(tronNetwork)),
			MinConfirmations: getEnvAsInt64("TRON_MIN_CONFIRMATIONS", 20),
			Timeout:          getEnvAsDuration("TRON_TIMEOUT", 10*time.Second),
		},
		Binance: BinanceConfig{
			APIKey:    getEnv("BINANCE_API_KEY", ""),
			APISecret: getEnv("BINANCE_API_SECRET", ""),
			BaseURL:   getEnv("BINANCE_BASE_URL", "https://api.binance.com"),
			Timeout:   getEnvAsDuration("BINANCE_TIMEOUT", 10*time.Second),
		},
		Storage: StorageConfig{
			URL:        getEnv("STORAGE_URL", ""),
			Bucket:     getEnv("STORAGE_BUCKET", "receipts"),
			ServiceKey: getEnv("STORAGE_SERVICE_KEY", ""),
		},
		OCR: OCRConfig{
			URL:     getEnv("OCR_URL", ""),
			APIKey:  getEnv("OCR_API_KEY", ""),
			Timeout: getEnvAsDuration("OCR_TIMEOUT", 30*time.Second),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		},
		Security: SecurityConfig{
			AdminJWTSecret:      getEnv("ADMIN_JWT_SECRET", ""),
			UploadRateLimit:     getEnvAsInt64("UPLOAD_RATE_LIMIT", 10),
			UploadRateWindow:    getEnvAsDuration("UPLOAD_RATE_WINDOW", time.Hour),
			BeneficiaryCacheTTL: getEnvAsDuration("BENEFICIARY_CACHE_TTL", 10*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger.Info("configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("tron_network", cfg.Tron.Network),
		zap.Bool("binance_keys", cfg.Binance.APIKey != "" && cfg.Binance.APISecret != ""),
		zap.Bool("kafka", len(cfg.Kafka.Brokers) > 0),
		zap.Bool("redis", cfg.Redis.Addr != ""))

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Queue.Backend {
	case "auto", "pgmq", "table", "memory":
	default:
		return fmt.Errorf("QUEUE_BACKEND must be one of auto, pgmq, table, memory (got %q)", c.Queue.Backend)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be positive")
	}
	if c.Worker.BatchSize < 1 {
		return fmt.Errorf("WORKER_BATCH_SIZE must be positive")
	}
	if c.Receipt.AmountTolerance.IsNegative() || c.Sweep.AmountTolerance.IsNegative() {
		return fmt.Errorf("amount tolerances must not be negative")
	}
	if c.Security.AdminJWTSecret == "" {
		return fmt.Errorf("ADMIN_JWT_SECRET is required")
	}
	return nil
}

// IsDevelopment reports whether APP_ENV selects development logging.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key, defaultValue string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(defaultValue)
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

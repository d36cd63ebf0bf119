// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"verification-service/internal/chains/tron"
	"verification-service/internal/config"
	"verification-service/internal/decision"
	"verification-service/internal/exchange/binance"
	"verification-service/internal/handler"
	"verification-service/internal/ocr"
	"verification-service/internal/queue"
	"verification-service/internal/repository"
	"verification-service/internal/router"
	"verification-service/internal/usecase"
	"verification-service/internal/worker"
	"verification-service/pkg/cache"
	"verification-service/pkg/events"
	"verification-service/pkg/notify"
)

func main() {
	_ = godotenv.Load()

	logger, err := newLogger()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting verification service")

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ============================================================================
	// Infrastructure
	// ============================================================================
	dbPool, err := config.ConnectDB(ctx, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	receiptQueue, err := queue.Open(ctx, dbPool, queue.Options{
		Backend:           cfg.Queue.Backend,
		Name:              cfg.Queue.Name,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		MaxAttempts:       cfg.Queue.MaxAttempts,
	}, logger)
	if err != nil {
		logger.Fatal("failed to open receipt queue", zap.Error(err))
	}

	var store cache.Store
	if cfg.Redis.Addr != "" {
		redisStore, err := cache.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, "verify", logger)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisStore.Close()
		store = redisStore
	} else {
		logger.Warn("REDIS_ADDR not set, using in-process cache")
		store = cache.NewMemoryStore()
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.BotToken != "" {
		notifier = notify.NewTelegramClient(cfg.Telegram.BotToken, 10*time.Second, logger)
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set, user notifications disabled")
	}

	publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	defer publisher.Close()

	// ============================================================================
	// Evidence sources
	// ============================================================================
	extractor := ocr.NewExtractor(
		ocr.NewStorageClient(cfg.Storage.URL, cfg.Storage.Bucket, cfg.Storage.ServiceKey, cfg.OCR.Timeout, logger),
		ocr.NewClient(cfg.OCR.URL, cfg.OCR.APIKey, cfg.OCR.Timeout, logger),
		cfg.OCR.Timeout,
		logger,
	)

	tronVerifier := tron.NewVerifier(
		tron.NewTronHTTPClient(cfg.Tron.HTTPUrl, cfg.Tron.APIKey, cfg.Tron.Timeout, logger),
		cfg.Tron.USDTContract,
		cfg.Tron.Timeout,
		logger,
	)

	binanceVerifier := binance.NewVerifier(
		binance.NewClient(cfg.Binance.BaseURL, cfg.Binance.APIKey, cfg.Binance.APISecret, cfg.Binance.Timeout, logger),
		cfg.Binance.Timeout,
		logger,
	)

	// ============================================================================
	// Repositories & usecases
	// ============================================================================
	paymentRepo := repository.NewPaymentRepository(dbPool)
	receiptRepo := repository.NewReceiptRepository(dbPool)
	planRepo := repository.NewPlanRepository(dbPool)
	auditRepo := repository.NewAuditRepository(dbPool)
	beneficiaries := repository.NewCachedBeneficiaryLookup(
		repository.NewBeneficiaryRepository(dbPool),
		store,
		cfg.Security.BeneficiaryCacheTTL,
		logger,
	)

	approver := usecase.NewApprover(paymentRepo, auditRepo, notifier, publisher, logger)

	reconcileUC := usecase.NewReconcileUsecase(
		receiptQueue,
		extractor,
		paymentRepo,
		receiptRepo,
		beneficiaries,
		approver,
		notifier,
		publisher,
		usecase.ReconcileConfig{
			BatchSize: cfg.Worker.BatchSize,
			Policy: decision.SlipPolicy{
				AmountTolerance: cfg.Receipt.AmountTolerance,
				TimeWindow:      cfg.Receipt.TimeWindow,
			},
		},
		logger,
	)

	evidencePolicy := decision.EvidencePolicy{
		MinConfidence:    cfg.Sweep.MinConfidence,
		AmountTolerance:  cfg.Sweep.AmountTolerance,
		TimeWindow:       cfg.Sweep.TimeWindow,
		MinConfirmations: cfg.Tron.MinConfirmations,
	}

	autoReviewUC := usecase.NewAutoReviewUsecase(
		paymentRepo,
		planRepo,
		receiptQueue,
		approver,
		usecase.SweepConfig{
			Lookback:  cfg.Sweep.Lookback,
			BatchSize: cfg.Sweep.BatchSize,
			Policy:    evidencePolicy,
		},
		logger,
	)

	cryptoUC := usecase.NewCryptoUsecase(paymentRepo, tronVerifier, binanceVerifier, approver, evidencePolicy, logger)

	// ============================================================================
	// Workers
	// ============================================================================
	reconcileWorker := worker.NewReconcileWorker(reconcileUC, cfg.Worker.Interval, cfg.Worker.BatchSize, logger)
	sweepWorker := worker.NewSweepWorker(autoReviewUC, cfg.Sweep.Interval, logger)

	go reconcileWorker.Start(ctx)
	go sweepWorker.Start(ctx)

	// ============================================================================
	// HTTP
	// ============================================================================
	r := router.SetupRoutes(
		handler.NewReceiptHandler(reconcileUC, store, cfg.Security.UploadRateLimit, cfg.Security.UploadRateWindow, logger),
		handler.NewVerifyHandler(cryptoUC, logger),
		handler.NewAdminHandler(approver, reconcileUC, autoReviewUC, logger),
		handler.NewAdminAuth(cfg.Security.AdminJWTSecret, logger),
		60*time.Second,
		logger,
	)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("verification service started successfully",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("environment", cfg.Env),
		zap.String("queue_backend", receiptQueue.Backend()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	reconcileWorker.Stop()
	sweepWorker.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("APP_ENV") == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
